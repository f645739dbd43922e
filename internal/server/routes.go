package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/xcbridge/internal/bridge"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": "xcbridge",
			"version": Version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		info := s.device.Info()
		status := http.StatusOK
		if info.State != bridge.StateOpen.String() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":  status == http.StatusOK,
			"device": info.Device,
			"state":  info.State,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	device := r.Group("/device")
	device.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.device.Info())
	})
	device.GET("/version", s.textHandler("version", s.device.AppVersion))
	device.GET("/name", s.textHandler("name", s.device.AppName))
	device.GET("/last-error", s.textHandler("last_error", s.device.LastError))
	reboot := []gin.HandlerFunc{s.reboot}
	if s.authSecret != "" {
		reboot = append([]gin.HandlerFunc{requireBearer(s.authSecret)}, reboot...)
	}
	device.POST("/reboot-update", reboot...)
}

func (s *Server) reboot(c *gin.Context) {
	s.log.Warn().Str("subject", c.GetString(subjectKey)).Msg("reboot into update mode requested")
	if err := s.device.RebootIntoUpdateMode(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "rebooting"})
}

func (s *Server) textHandler(key string, fn func(context.Context) (string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := fn(c.Request.Context())
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{key: out})
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	body := gin.H{
		"error":   err.Error(),
		"outcome": bridge.Outcome(err),
	}
	var failed *bridge.CommandFailedError
	if errors.As(err, &failed) {
		body["command"] = failed.Name
		body["code"] = failed.Status
		body["message"] = failed.Message
	}
	c.JSON(statusFor(err), body)
}

// statusFor maps bridge errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, bridge.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, bridge.ErrCommandFailed), errors.Is(err, bridge.ErrProtocolViolation):
		return http.StatusBadGateway
	case errors.Is(err, bridge.ErrNotConnected), errors.Is(err, bridge.ErrResourceBusy),
		errors.Is(err, bridge.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
