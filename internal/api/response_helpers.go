// internal/api/response_helpers.go
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/errors"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/utils"
)

const internalErrorMessage = "Internal server error"

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ErrorResponse 错误响应体，detail 字段与前端读取的格式保持一致
type ErrorResponse struct {
	Detail    string    `json:"detail"`
	Error     *APIError `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct {
	logger *utils.Logger
}

// NewResponseHelper 创建响应助手
func NewResponseHelper(logger *utils.Logger) *ResponseHelper {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &ResponseHelper{logger: logger}
}

// Success 成功响应，直接返回数据本身
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// sanitizeErrorMessage 去掉可能泄露内部信息的消息
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "password", "secret", "token"} {
		if strings.Contains(lower, pattern) {
			return "invalid request"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: message,
	}
	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	c.AbortWithStatusJSON(statusCode, &ErrorResponse{
		Detail:    message,
		Error:     apiError,
		Timestamp: time.Now().UTC(),
		RequestID: rh.getRequestID(c),
	})
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, code, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, code, sanitizeErrorMessage(message), details...)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, message string) {
	rh.Error(c, http.StatusNotFound, ErrorConsciousnessNotFound, message)
}

// InternalError 500错误响应，不向调用方暴露内部细节
func (rh *ResponseHelper) InternalError(c *gin.Context, err error) {
	rh.logger.Error("请求处理失败", map[string]interface{}{
		"path":       c.FullPath(),
		"request_id": rh.getRequestID(c),
		"error":      err.Error(),
	})
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, internalErrorMessage)
}

// HandleError 根据错误类型选择响应
func (rh *ResponseHelper) HandleError(c *gin.Context, err error, fallbackCode string) {
	var appErr *apperrors.AppError
	message := ""
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	switch {
	case apperrors.IsValidationError(err):
		rh.BadRequest(c, fallbackCode, message)
	case apperrors.IsNotFoundError(err):
		rh.NotFound(c, message)
	case apperrors.IsConflictError(err):
		rh.Error(c, apperrors.HTTPStatus(err), ErrorConflict, message)
	case apperrors.IsTimeoutError(err), errors.Is(err, context.DeadlineExceeded):
		rh.logger.Warn("请求超时", map[string]interface{}{
			"path":       c.FullPath(),
			"request_id": rh.getRequestID(c),
			"error":      err.Error(),
		})
		rh.Error(c, apperrors.HTTPStatus(err), ErrorTimeout, "Request timed out")
	default:
		rh.InternalError(c, err)
	}
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
