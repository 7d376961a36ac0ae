// internal/api/handlers.go
package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/errors"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/services"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/utils"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/validation"
)

const maxBodyBytes = 64 << 10

// Handler 处理API请求
type Handler struct {
	service   *services.ConsciousnessService // 意识服务
	validator *validation.Validator          // 请求体校验
	hub       *ThoughtHub                    // 思绪流
	metrics   *utils.APIMetrics
	logger    *utils.Logger
	response  *ResponseHelper // 响应助手
	upgrader  websocket.Upgrader
	version   string
}

// HandlerOptions 构造 Handler 所需的组件
type HandlerOptions struct {
	Service       *services.ConsciousnessService
	Validator     *validation.Validator
	Hub           *ThoughtHub
	Metrics       *utils.APIMetrics
	Logger        *utils.Logger
	AllowedOrigin string
	Version       string
}

// NewHandler 创建API处理器
func NewHandler(opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = utils.NewAPIMetrics(nil, logger)
	}
	return &Handler{
		service:   opts.Service,
		validator: opts.Validator,
		hub:       opts.Hub,
		metrics:   metrics,
		logger:    logger,
		response:  NewResponseHelper(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(opts.AllowedOrigin),
		},
		version: opts.Version,
	}
}

// Root 服务欢迎信息
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Welcome to the Procedural Worlds Platform API",
		"status":  "consciousness ready to emerge",
		"version": h.version,
	})
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":               "healthy",
		"consciousness_engine": "initialized",
	})
}

// SpawnConsciousness 在世界中生成新的意识实例
func (h *Handler) SpawnConsciousness(c *gin.Context) {
	body, ok := h.readBody(c, ErrorSpawnInvalid)
	if !ok {
		return
	}
	req, err := h.validator.DecodeSpawn(body)
	if err != nil {
		h.response.HandleError(c, err, ErrorSpawnInvalid)
		return
	}

	resp, err := h.service.Spawn(c.Request.Context(), req)
	if err != nil {
		code := ErrorSpawnInvalid
		if apperrors.IsValidationError(err) {
			code = ErrorPatternUnknown
		}
		h.response.HandleError(c, err, code)
		return
	}
	h.response.Success(c, resp)
}

// GetThoughts 返回实例最近的思绪
func (h *Handler) GetThoughts(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	limit := services.DefaultThoughtLimit
	if raw, present := c.GetQuery("limit"); present {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.response.BadRequest(c, ErrorLimitInvalid, "limit must be an integer")
			return
		}
		limit = n
	}

	resp, err := h.service.Thoughts(c.Request.Context(), id, limit)
	if err != nil {
		h.response.HandleError(c, err, ErrorLimitInvalid)
		return
	}
	h.response.Success(c, resp)
}

// InteractWithConsciousness 与实例互动
func (h *Handler) InteractWithConsciousness(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	body, ok := h.readBody(c, ErrorInteractionInvalid)
	if !ok {
		return
	}
	req, err := h.validator.DecodeInteraction(body)
	if err != nil {
		h.response.HandleError(c, err, ErrorInteractionInvalid)
		return
	}

	resp, err := h.service.Interact(c.Request.Context(), id, req)
	if err != nil {
		h.response.HandleError(c, err, ErrorInteractionInvalid)
		return
	}
	h.response.Success(c, resp)
}

// ListPatterns 列出所有可用的意识模式
func (h *Handler) ListPatterns(c *gin.Context) {
	h.response.Success(c, h.service.Patterns())
}

// GetInstance 返回实例摘要
func (h *Handler) GetInstance(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	summary, err := h.service.GetInstance(c.Request.Context(), id)
	if err != nil {
		h.response.HandleError(c, err, ErrorIDInvalid)
		return
	}
	h.response.Success(c, summary)
}

// ListWorldInstances 列出某个世界中的实例
func (h *Handler) ListWorldInstances(c *gin.Context) {
	worldID, ok := h.parseID(c, "world_id")
	if !ok {
		return
	}
	list, err := h.service.ListWorldInstances(c.Request.Context(), worldID)
	if err != nil {
		h.response.HandleError(c, err, ErrorIDInvalid)
		return
	}
	h.response.Success(c, list)
}

// GetMetrics 返回指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	snapshot := h.metrics.Collector().GetMetrics()
	if h.hub != nil {
		snapshot["streams"] = h.hub.GetStatus()
	}
	h.response.Success(c, snapshot)
}

func (h *Handler) parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.response.BadRequest(c, ErrorIDInvalid, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) readBody(c *gin.Context, code string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		h.response.BadRequest(c, code, "request body is too large or unreadable")
		return nil, false
	}
	return body, true
}
