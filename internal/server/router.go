package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/habistack/stackctl/internal/history"
	"github.com/habistack/stackctl/internal/metrics"
	"github.com/habistack/stackctl/internal/supervisor"
)

// Router exposes the supervisor over a local HTTP control API.
// Endpoints:
//
//	GET  {basePath}/status        full stack status
//	POST {basePath}/start         start the whole stack
//	POST {basePath}/stop          stop everything, clear routes
//	POST {basePath}/restart       stop then start
//	POST {basePath}/routes/sync   re-register proxy routes only
//	GET  {basePath}/history       recent action log (query: limit)
//	GET  {basePath}/healthz       liveness of the control API itself
//	GET  {basePath}/metrics       Prometheus metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	sink     history.Sink
	basePath string
}

// NewRouter constructs a Router. sink may be nil (history endpoint then
// returns an empty list).
func NewRouter(sup *supervisor.Supervisor, sink history.Sink, basePath string) *Router {
	return &Router{sup: sup, sink: sink, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/routes/sync", r.handleRouteSync)
	group.GET("/history", r.handleHistory)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Call Close on the returned server to shut it down.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, sink history.Sink) (*http.Server, error) {
	r := NewRouter(sup, sink, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Status(c.Request.Context()))
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.sup.Start(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	r.sup.Stop(c.Request.Context())
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.sup.Restart(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRouteSync(c *gin.Context) {
	r.sup.SyncRoutes(c.Request.Context())
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if r.sink == nil {
		writeJSON(c, http.StatusOK, []history.Record{})
		return
	}
	recs, err := r.sink.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, recs)
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
