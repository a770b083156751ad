// Package httpapi exposes the orchestrator over HTTP: run lifecycle, queue
// inspection, approvals, and fleet rollouts.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinkerbelle-io/fleetmend/internal/actions"
	"github.com/tinkerbelle-io/fleetmend/internal/agentlink"
	"github.com/tinkerbelle-io/fleetmend/internal/fleet"
	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
	"github.com/tinkerbelle-io/fleetmend/internal/queue"
	"github.com/tinkerbelle-io/fleetmend/internal/runrecord"
)

// Server binds the HTTP surface to the queue store and planner.
type Server struct {
	store    *queue.Store
	planner  *fleet.Planner
	catalog  *actions.Catalog
	dir      hostdir.Directory
	hub      *agentlink.Hub
	gatherer prometheus.Gatherer
	log      *slog.Logger
}

// Options wires the server. Hub and Gatherer are optional; without a hub the
// agent endpoint is not mounted, without a gatherer /metrics is not.
type Options struct {
	Store     *queue.Store
	Planner   *fleet.Planner
	Catalog   *actions.Catalog
	Directory hostdir.Directory
	Hub       *agentlink.Hub
	Gatherer  prometheus.Gatherer
}

// New builds the server and its routes.
func New(opts Options) *Server {
	return &Server{
		store:    opts.Store,
		planner:  opts.Planner,
		catalog:  opts.Catalog,
		dir:      opts.Directory,
		hub:      opts.Hub,
		gatherer: opts.Gatherer,
		log:      slog.Default().With("component", "httpapi"),
	}
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	if s.hub != nil {
		r.GET("/agent", gin.WrapF(s.hub.HandleAgent))
	}

	api := r.Group("/api/v1")
	{
		api.POST("/runs", s.enqueueRun)
		api.GET("/runs/:id", s.getRun)
		api.POST("/runs/:id/replay", s.replayRun)
		api.POST("/runs/:id/approval", s.setApproval)

		api.GET("/queue", s.queueSnapshot)
		api.POST("/queue/drain", s.drainQueue)
		api.POST("/queue/replay", s.replayDeadLetters)

		api.GET("/actions", s.listActions)
		api.GET("/hosts", s.listHosts)

		api.POST("/fleet/preview", s.fleetPreview)
		api.POST("/fleet/execute", s.fleetExecute)
	}
	return r
}

// fail maps domain sentinels onto HTTP status codes.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, queue.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, queue.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, queue.ErrInvalidInput),
		errors.Is(err, runrecord.ErrMalformed),
		errors.Is(err, actions.ErrConfirmRequired),
		errors.Is(err, fleet.ErrUnknownAction),
		errors.Is(err, fleet.ErrStageOutOfRange),
		errors.Is(err, fleet.ErrConfirmMismatch):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"ok": false, "error": err.Error()})
}

type enqueueRequest struct {
	HostID      string `json:"host_id" binding:"required"`
	ActionID    string `json:"action_id" binding:"required"`
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
	Confirm     string `json:"confirm"`
}

func (s *Server) enqueueRun(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	action, ok := s.catalog.Get(req.ActionID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unknown action: " + req.ActionID})
		return
	}
	if err := action.CheckConfirm(req.Confirm); err != nil {
		s.fail(c, err)
		return
	}
	rec, err := s.store.Enqueue(c.Request.Context(), req.HostID, action, req.Reason, req.RequestedBy)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "run": rec})
}

func (s *Server) getRun(c *gin.Context) {
	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "run": rec})
}

type replayRequest struct {
	RequestedBy string `json:"requested_by"`
}

func (s *Server) replayRun(c *gin.Context) {
	var req replayRequest
	c.ShouldBindJSON(&req)
	rec, err := s.store.ReplayRun(c.Request.Context(), c.Param("id"), req.RequestedBy)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "run": rec})
}

type approvalRequest struct {
	Decision string `json:"decision" binding:"required"`
	Actor    string `json:"actor" binding:"required"`
	Reason   string `json:"reason"`
}

func (s *Server) setApproval(c *gin.Context) {
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	rec, err := s.store.SetApproval(c.Request.Context(), c.Param("id"), req.Decision, req.Actor, req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "run": rec})
}

func (s *Server) queueSnapshot(c *gin.Context) {
	var q struct {
		Limit int  `form:"limit"`
		DLQ   bool `form:"dlq"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	snap, err := s.store.Snapshot(c.Request.Context(), queue.SnapshotOptions{Limit: q.Limit, DLQOnly: q.DLQ})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "snapshot": snap})
}

type drainRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) drainQueue(c *gin.Context) {
	var req drainRequest
	c.ShouldBindJSON(&req)
	res, err := s.store.Drain(c.Request.Context(), req.Limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type bulkReplayRequest struct {
	Limit       int    `json:"limit"`
	RequestedBy string `json:"requested_by"`
}

func (s *Server) replayDeadLetters(c *gin.Context) {
	var req bulkReplayRequest
	c.ShouldBindJSON(&req)
	res, err := s.store.ReplayDeadLetters(c.Request.Context(), req.Limit, req.RequestedBy)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listActions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "actions": s.catalog.List()})
}

func (s *Server) listHosts(c *gin.Context) {
	hosts, err := s.dir.Hosts(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "hosts": hosts})
}

func (s *Server) fleetPreview(c *gin.Context) {
	var req fleet.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	plan, err := s.planner.Preview(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "plan": plan})
}

func (s *Server) fleetExecute(c *gin.Context) {
	var req fleet.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	res, err := s.planner.ExecuteStage(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "stage": res})
}
