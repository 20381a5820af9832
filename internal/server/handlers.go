package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/controller"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/history"
)

// HistoryResponse is the body of GET /history.
type HistoryResponse struct {
	Runs []history.Entry `json:"runs"`
}

// handleTrigger runs an update. The ips parameter overrides the configured
// sources; format=text selects a plain-text reply.
func (s *Server) handleTrigger(trigger string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := controller.Request{
			Trigger:  trigger,
			Override: config.SplitList(param(c, "ips")),
			Config:   requestConfig(c),
		}
		rep, err := s.opts.Runner.Run(c.Request.Context(), req)

		allowOrigin(c)
		status := http.StatusOK
		if err != nil {
			status = http.StatusInternalServerError
		}

		if param(c, "format") == "text" {
			c.String(status, rep.Text())
			return
		}
		if err != nil {
			c.JSON(status, ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(status, rep)
	}
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.opts.History == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "history is disabled"})
		return
	}

	limit := s.opts.HistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := s.opts.History.List(c.Request.Context(), limit)
	if err != nil {
		s.log.Error(err, "failed to list history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Runs: entries})
}
