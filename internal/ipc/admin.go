package ipc

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/edgeipc/internal/auth"
	"github.com/danmuck/edgeipc/internal/observability"
	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/structs"
)

type structSummary struct {
	Name      string `json:"name"`
	Size      uint32 `json:"size"`
	Align     uint32 `json:"align"`
	Signature string `json:"signature"`
	Fields    int    `json:"fields"`
}

type fieldView struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Struct string `json:"struct,omitempty"`
	Array  uint32 `json:"array"`
	Offset uint32 `json:"offset"`
	Size   uint32 `json:"size"`
}

func summarize(s *structs.Schema) structSummary {
	return structSummary{
		Name:      s.Name(),
		Size:      s.Size(),
		Align:     s.Align(),
		Signature: s.Signature().String(),
		Fields:    s.NumFields(),
	}
}

// AdminRouter serves health, struct catalogue introspection and metrics. When an admin token
// is configured every route but /health requires it.
func (e *Engine) AdminRouter() *gin.Engine {
	observability.RegisterMetrics()
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(e.log))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(e.cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		status := "ok"
		body := gin.H{
			"uptime":    time.Since(started).String(),
			"catalogue": e.cat.State().String(),
			"structs":   e.cat.Len(),
			"namespace": e.cat.Namespace(),
		}
		if err := e.cat.Err(); err != nil {
			status = "degraded"
			body["error"] = err.Error()
		}
		body["status"] = status
		c.JSON(http.StatusOK, body)
	})

	private := r.Group("/")
	if e.cfg.AdminToken != "" {
		private.Use(auth.Require(auth.StaticToken{Token: e.cfg.AdminToken}))
	}

	private.GET("/metrics", gin.WrapH(promhttp.Handler()))

	private.GET("/structs", func(c *gin.Context) {
		if err := e.cat.Load(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		names := e.cat.Names()
		out := make([]structSummary, 0, len(names))
		for _, name := range names {
			s, err := e.cat.Lookup(name)
			if err != nil {
				continue
			}
			out = append(out, summarize(s))
		}
		c.JSON(http.StatusOK, gin.H{"namespace": e.cat.Namespace(), "structs": out})
	})

	private.GET("/structs/:name", func(c *gin.Context) {
		s, err := e.cat.Lookup(c.Param("name"))
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, protocol.ErrUnknownStruct):
				status = http.StatusNotFound
			case errors.Is(err, protocol.ErrInvalidArgument):
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		fields, err := s.Fields()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		views := make([]fieldView, len(fields))
		for i, f := range fields {
			views[i] = fieldView{
				Name:   f.Name,
				Type:   f.Type.String(),
				Array:  f.ArrayLen,
				Offset: f.Offset,
				Size:   f.Span(),
			}
			if f.Struct != nil {
				views[i].Struct = f.Struct.Name()
			}
		}
		c.JSON(http.StatusOK, gin.H{"struct": summarize(s), "fields": views})
	})

	return r
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
