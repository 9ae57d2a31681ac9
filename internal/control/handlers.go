package control

import (
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/crit-tech/gms-notebook-server/internal/scheduler"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) lookup(c *gin.Context) (Source, bool) {
	port, err := strconv.Atoi(c.Param("port"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid port"})
		return nil, false
	}
	src, ok := s.sources[port]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "no indexed source on port " + c.Param("port")})
		return nil, false
	}
	return src, true
}

func (s *Server) listSources(c *gin.Context) {
	out := make([]scheduler.Status, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src.Status())
	}
	slices.SortFunc(out, func(a, b scheduler.Status) int { return a.Port - b.Port })
	c.JSON(http.StatusOK, out)
}

func (s *Server) sourceStatus(c *gin.Context) {
	src, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, src.Status())
}

// triggerIndex 立即在后台执行一轮索引；如果已有一轮在执行则排队
func (s *Server) triggerIndex(c *gin.Context) {
	src, ok := s.lookup(c)
	if !ok {
		return
	}
	if !src.Trigger(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "server is shutting down"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "index triggered"})
}

// streamEvents 以 SSE 推送日志事件
func (s *Server) streamEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	eventCh := s.bus.Subscribe()
	defer s.bus.Unsubscribe(eventCh)

	// 先把响应头发出去，客户端不必等到第一条事件
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-eventCh:
			if !ok {
				return false
			}
			c.SSEvent("log", event)
			return true
		}
	})
}
