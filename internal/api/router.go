// Package api 组装 gin 路由
package api

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/d60-Lab/feedfanout/docs"
	"github.com/d60-Lab/feedfanout/internal/api/handler"
	"github.com/d60-Lab/feedfanout/internal/api/middleware"
)

type RouterConfig struct {
	Mode        string
	ServiceName string
	JWTSecret   string
	JWTIssuer   string
}

func NewRouter(cfg RouterConfig, h *handler.Handler) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(), gzip.Gzip(gzip.DefaultCompression))
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	v1.POST("/users", h.CreateUser)
	v1.GET("/users/:user_id", h.GetProfile)
	v1.GET("/relations/:user_id/following", h.ListFollowing)
	v1.GET("/relations/:user_id/fans", h.ListFans)

	// 匿名可读，带 token 时返回 has_liked
	viewer := v1.Group("", middleware.OptionalAuth(cfg.JWTSecret, cfg.JWTIssuer))
	viewer.GET("/tweets", h.ListUserTweets)
	viewer.GET("/tweets/:id", h.GetTweet)

	authed := v1.Group("", middleware.Auth(cfg.JWTSecret, cfg.JWTIssuer))
	authed.GET("/newsfeeds", h.ListNewsFeeds)
	authed.POST("/tweets", h.CreateTweet)
	authed.DELETE("/tweets/:id", h.DeleteTweet)
	authed.POST("/relations/follow", h.Follow)
	authed.POST("/relations/unfollow", h.Unfollow)
	authed.POST("/likes", h.Like)
	authed.POST("/likes/cancel", h.Unlike)
	authed.POST("/comments", h.CreateComment)
	authed.PUT("/profile", h.UpdateProfile)

	return r
}
