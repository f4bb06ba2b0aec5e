// Package api is the HTTP surface over the admission controller, the
// store, and the config registry. Grounded on tarsy's
// cmd/tarsy/main.go + pkg/api/handlers.go Gin conventions
// (gin.Context, c.ShouldBindJSON, c.JSON(status, gin.H{...})) — tarsy's
// current pkg/api/server.go has since moved to Echo, but handlers.go
// (kept alongside it, still building against gin-gonic/gin in
// tarsy's own go.mod) is the Gin-shaped ancestor this package follows.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/TenSpy-ai/starbridge/internal/admission"
	"github.com/TenSpy-ai/starbridge/internal/config"
	"github.com/TenSpy-ai/starbridge/internal/store"
)

// Server wires the Gin router to the admission controller, store, and
// config registry.
type Server struct {
	router      *gin.Engine
	store       *store.Store
	admission   *admission.Controller
	cfgRegistry *config.Registry
}

// NewServer builds the router and registers every route.
func NewServer(st *store.Store, adm *admission.Controller, cfg *config.Registry) *Server {
	s := &Server{
		router:      gin.Default(),
		store:       st,
		admission:   adm,
		cfgRegistry: cfg,
	}
	s.setupRoutes()
	return s
}

// Router exposes the underlying Gin engine (e.g. for http.Server / tests).
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	api := s.router.Group("/api")
	api.POST("/run", s.runHandler)
	api.POST("/batch", s.batchHandler)
	api.GET("/status/:run_id", s.statusHandler)
	api.POST("/kill/:run_id", s.killHandler)
	api.GET("/runs", s.listRunsHandler)
	api.GET("/config", s.getConfigHandler)
	api.PATCH("/config", s.patchConfigHandler)
	api.POST("/config/reset", s.resetConfigHandler)
	api.GET("/data/:run_id/:table", s.dataHandler)
}

func (s *Server) healthHandler(c *gin.Context) {
	h := s.admission.Health()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"active_runs": h.ActiveRuns,
		"capacity":    h.Capacity,
	})
}

// RunRequest is the webhook envelope (spec.md §3): `{target_company,
// target_domain, product_description, campaign_id?, prospect_name?,
// prospect_email?, tier?}`.
type RunRequest struct {
	TargetCompany      string `json:"target_company"`
	TargetDomain       string `json:"target_domain"`
	ProductDescription string `json:"product_description"`
	CampaignID         string `json:"campaign_id"`
	ProspectName       string `json:"prospect_name"`
	ProspectEmail      string `json:"prospect_email"`
	Tier               string `json:"tier"`
}

func (r RunRequest) toWebhook() store.Webhook {
	return store.Webhook{
		TargetCompany:      r.TargetCompany,
		TargetDomain:       r.TargetDomain,
		ProductDescription: r.ProductDescription,
		CampaignID:         r.CampaignID,
		ProspectName:       r.ProspectName,
		ProspectEmail:      r.ProspectEmail,
		Tier:               r.Tier,
	}
}

func (r RunRequest) valid() bool {
	return r.TargetCompany != "" || r.TargetDomain != ""
}

// runHandler handles POST /api/run.
func (s *Server) runHandler(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if !req.valid() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "at least one of target_company or target_domain is required"})
		return
	}

	runID, err := s.admission.Submit(c.Request.Context(), req.toWebhook())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID})
}

// batchHandler handles POST /api/batch.
func (s *Server) batchHandler(c *gin.Context) {
	var reqs []RunRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if len(reqs) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "batch must contain at least one webhook"})
		return
	}
	webhooks := make([]store.Webhook, 0, len(reqs))
	for i, r := range reqs {
		if !r.valid() {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "webhook at index " + strconv.Itoa(i) + " needs target_company or target_domain"})
			return
		}
		webhooks = append(webhooks, r.toWebhook())
	}

	batchID, runIDs, err := s.admission.SubmitBatch(c.Request.Context(), webhooks)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "run_ids": runIDs})
}

func parseRunID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("run_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid run_id"})
		return 0, false
	}
	return id, true
}

// statusHandler handles GET /api/status/{run_id}: the lightweight
// polling target, grounded on original_source/agent/server.py's
// get_status (light run row + audit log + active flag).
func (s *Server) statusHandler(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}
	run, err := s.store.GetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	audit, err := s.store.GetAuditLog(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run":             run,
		"audit_log":       audit,
		"pipeline_active": run.Status == string(store.StatusPending) || run.Status == string(store.StatusProcessing),
	})
}

// killHandler handles POST /api/kill/{run_id}. 404 if the run does not
// exist; 409 if it exists but is no longer cancellable (already
// terminal) — spec.md §6's "409 capacity exceeded" has no literal
// target left once admission queues rather than rejects excess runs
// (spec.md §4.8), so it is repointed here at the one remaining
// request/state conflict in this surface (see DESIGN.md).
func (s *Server) killHandler(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}
	run, err := s.store.GetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if !s.admission.Cancel(runID) {
		c.JSON(http.StatusConflict, gin.H{"error": "run is not active", "status": run.Status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

// listRunsHandler handles GET /api/runs, supplemented from
// original_source/agent/server.py's list_runs.
func (s *Server) listRunsHandler(c *gin.Context) {
	runs, err := s.store.GetRecentRuns(c.Request.Context(), 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) getConfigHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"values":   s.cfgRegistry.Snapshot(),
		"metadata": config.Metadata,
	})
}

func (s *Server) patchConfigHandler(c *gin.Context) {
	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	for key, value := range updates {
		if err := s.cfgRegistry.SetValue(key, value); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"values": s.cfgRegistry.Snapshot()})
}

func (s *Server) resetConfigHandler(c *gin.Context) {
	s.cfgRegistry.Reset()
	c.JSON(http.StatusOK, gin.H{"values": s.cfgRegistry.Snapshot()})
}

// dataHandler handles GET /api/data/{run_id}/{table}, supplemented
// from original_source/agent/server.py's get_data drill-down endpoint
// (dropped by the distillation, used by the monitor UI).
func (s *Server) dataHandler(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}
	table := c.Param("table")

	switch table {
	case "run":
		full, err := s.store.GetRunFull(c.Request.Context(), runID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if full == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusOK, full)
	case "discoveries":
		rows, err := s.store.GetDiscoveries(c.Request.Context(), runID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rows)
	case "contacts":
		rows, err := s.store.GetContacts(c.Request.Context(), runID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rows)
	case "audit_log":
		rows, err := s.store.GetAuditLog(c.Request.Context(), runID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rows)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown table: " + table})
	}
}
