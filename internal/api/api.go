// Package api exposes the command service to the console over HTTP/JSON.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/die-net/revproxy/internal/apperr"
	"github.com/die-net/revproxy/internal/command"
	"github.com/die-net/revproxy/internal/model"
)

type Handler struct {
	svc *command.Service
	log *zap.Logger
}

// NewRouter builds the console router. gatherer backs /metrics; nil skips
// the route.
func NewRouter(svc *command.Service, log *zap.Logger, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	h := &Handler{svc: svc, log: log}
	g := r.Group("/api")
	g.GET("/configs", h.listConfigs)
	g.POST("/configs", h.saveConfig)
	g.GET("/configs/default", h.defaultConfig)
	g.DELETE("/configs/:id", h.deleteConfig)
	g.POST("/proxies/:id/start", h.startProxy)
	g.POST("/proxies/:id/stop", h.stopProxy)
	g.GET("/ports/check", h.checkPort)

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

func (h *Handler) listConfigs(c *gin.Context) {
	views, err := h.svc.ListConfigs(c.Request.Context())
	if err != nil {
		jsonErr(c, err)
		return
	}
	jsonObj(c, views)
}

func (h *Handler) saveConfig(c *gin.Context) {
	var pc model.ProxyConfig
	if err := c.ShouldBindJSON(&pc); err != nil {
		jsonErr(c, apperr.New(apperr.KindValidation, "invalid proxy config", err))
		return
	}
	saved, err := h.svc.SaveConfig(c.Request.Context(), pc)
	if err != nil {
		jsonErr(c, err)
		return
	}
	jsonObj(c, saved)
}

func (h *Handler) deleteConfig(c *gin.Context) {
	if err := h.svc.DeleteConfig(c.Request.Context(), c.Param("id")); err != nil {
		jsonErr(c, err)
		return
	}
	jsonObj(c, nil)
}

func (h *Handler) defaultConfig(c *gin.Context) {
	jsonObj(c, h.svc.CreateDefaultConfig())
}

func (h *Handler) startProxy(c *gin.Context) {
	if err := h.svc.StartProxy(c.Request.Context(), c.Param("id")); err != nil {
		jsonErr(c, err)
		return
	}
	jsonObj(c, nil)
}

func (h *Handler) stopProxy(c *gin.Context) {
	h.svc.StopProxy(c.Request.Context(), c.Param("id"))
	jsonObj(c, nil)
}

func (h *Handler) checkPort(c *gin.Context) {
	port, err := strconv.Atoi(c.Query("port"))
	if err != nil {
		jsonErr(c, apperr.New(apperr.KindValidation, "invalid port", err))
		return
	}
	jsonObj(c, h.svc.CheckPort(c.Query("ip"), port))
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			log.Warn("api request", fields...)
			return
		}
		log.Debug("api request", fields...)
	}
}
