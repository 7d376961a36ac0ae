// internal/api/router.go
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/utils"
)

// RouterOptions 路由配置
type RouterOptions struct {
	AllowedOrigin string
	DebugMode     bool
	Logger        *utils.Logger
	Metrics       *utils.APIMetrics
}

// SetupRouter 配置HTTP路由，只在启动时调用一次
func SetupRouter(handler *Handler, opts RouterOptions) *gin.Engine {
	if !opts.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(logger, opts.Metrics))
	r.Use(CORSMiddleware(opts.AllowedOrigin))

	r.GET("/", handler.Root)
	r.GET("/health", handler.Health)

	// ===============================
	// 意识实例相关路由
	// ===============================
	consciousness := r.Group("/api/consciousness")
	{
		consciousness.POST("/spawn", handler.SpawnConsciousness)
		consciousness.GET("/patterns", handler.ListPatterns)
		consciousness.GET("/metrics", handler.GetMetrics)

		instance := consciousness.Group("/instance/:id")
		{
			instance.GET("", handler.GetInstance)
			instance.GET("/thoughts", handler.GetThoughts)
			instance.POST("/interact", handler.InteractWithConsciousness)
			instance.GET("/stream", handler.StreamThoughts)
		}

		consciousness.GET("/worlds/:world_id/instances", handler.ListWorldInstances)
		consciousness.GET("/streams/status", handler.GetStreamStatus)
	}

	r.NoRoute(func(c *gin.Context) {
		handler.response.Error(c, http.StatusNotFound, ErrorNotFound, "Not Found")
	})

	return r
}
