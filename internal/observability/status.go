package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/framestream/internal/logging"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ErrStatusServerRunning = errors.New("observability: status server already running")

// StreamSnapshot is the live view of one run served on /stream.
type StreamSnapshot struct {
	RunID     string `json:"run_id"`
	Step      string `json:"step"`
	State     string `json:"state"`
	Presented uint64 `json:"presented"`
	Acquired  uint64 `json:"acquired"`
	Released  uint64 `json:"released"`
	Dropped   uint64 `json:"dropped"`
	Reclaimed uint64 `json:"reclaimed"`
	Timeouts  uint64 `json:"timeouts"`
	Buffers   int    `json:"buffers"`
}

// StatusServer exposes health, metrics and the live stream snapshot over HTTP.
type StatusServer struct {
	node     string
	appeared time.Time
	snapshot func() StreamSnapshot
	router   *gin.Engine

	mu  sync.Mutex
	srv *http.Server
}

func NewStatusServer(node string, snapshot func() StreamSnapshot, corsOrigins []string) *StatusServer {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(StatusMiddleware(node, ComponentLogger("status")))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	s := &StatusServer{
		node:     node,
		appeared: time.Now(),
		snapshot: snapshot,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}

func (s *StatusServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.node,
			"version": "0.0.1",
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/stream", func(c *gin.Context) {
		if s.snapshot == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no stream attached"})
			return
		}
		c.JSON(http.StatusOK, s.snapshot())
	})
}

// Handler returns the router for embedding or tests.
func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background. It returns the bound address.
func (s *StatusServer) Start(addr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return "", ErrStatusServerRunning
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errf("observability.StatusServer.Start serve failed addr=%s err=%v", ln.Addr(), err)
		}
	}()
	logs.Infof("observability.StatusServer.Start node=%s addr=%s", s.node, ln.Addr())
	return ln.Addr().String(), nil
}

// Shutdown stops the server. Calling it on a stopped server is a no-op.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
