package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"gorm.io/gorm"

	"github.com/casebridge/casebridge/internal/database"
	syncengine "github.com/casebridge/casebridge/internal/sync"
)

// APIHandler handles API endpoints for operators and the UI
type APIHandler struct {
	db           *gorm.DB
	store        *database.Store
	orchestrator *syncengine.Orchestrator
	triggerSync  func() // kicks off an immediate sync run for all enabled integrations
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(db *gorm.DB, store *database.Store, orchestrator *syncengine.Orchestrator) *APIHandler {
	return &APIHandler{
		db:           db,
		store:        store,
		orchestrator: orchestrator,
	}
}

// SetTriggerSync sets the callback invoked by POST /api/sync/run
func (h *APIHandler) SetTriggerSync(fn func()) {
	h.triggerSync = fn
}

// SetupRoutes sets up all API routes
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)

	// Integrations
	mux.HandleFunc("GET /api/integrations", h.handleListIntegrations)
	mux.HandleFunc("POST /api/integrations", h.handleCreateIntegration)

	// Canonical events
	mux.HandleFunc("GET /api/events", h.handleListEvents)
	mux.HandleFunc("GET /api/events/{uuid}/timeline", h.handleEventTimeline)
	mux.HandleFunc("GET /api/events/{uuid}/links", h.handleEventLinks)
	mux.HandleFunc("POST /api/events/{uuid}/status", h.handleEventStatus)

	// Manual sync trigger
	mux.HandleFunc("POST /api/sync/run", h.handleSyncRun)
}

// handleHealth returns a simple health check response
func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	var integrations []database.Integration
	if err := h.db.Order("id asc").Find(&integrations).Error; err != nil {
		http.Error(w, "Failed to list integrations", http.StatusInternalServerError)
		return
	}

	// Settings hold credentials; never expose them over the API
	type integrationView struct {
		UUID       string              `json:"uuid"`
		Name       string              `json:"name"`
		VendorKind database.VendorKind `json:"vendor_kind"`
		Enabled    bool                `json:"enabled"`
		LastSyncAt interface{}         `json:"last_sync_at"`
	}
	views := make([]integrationView, 0, len(integrations))
	for _, i := range integrations {
		views = append(views, integrationView{
			UUID:       i.UUID,
			Name:       i.Name,
			VendorKind: i.VendorKind,
			Enabled:    i.Enabled,
			LastSyncAt: i.LastSyncAt,
		})
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *APIHandler) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string                 `json:"name"`
		Vendor   string                 `json:"vendor"`
		Enabled  *bool                  `json:"enabled"`
		Settings map[string]interface{} `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	kind := database.VendorKind(req.Vendor)
	if !validVendorKind(kind) {
		http.Error(w, "unknown vendor kind", http.StatusBadRequest)
		return
	}
	enabled := req.Enabled == nil || *req.Enabled

	integration, err := database.EnsureIntegration(h.db, req.Name, kind, database.JSONB(req.Settings), enabled)
	if err != nil {
		log.Printf("Failed to create integration %s: %v", req.Name, err)
		http.Error(w, "Failed to create integration", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"uuid": integration.UUID, "name": integration.Name})
}

func (h *APIHandler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	status := database.EventStatus(r.URL.Query().Get("status"))

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	events, err := h.store.ListEvents(source, status, limit)
	if err != nil {
		http.Error(w, "Failed to list events", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *APIHandler) handleEventTimeline(w http.ResponseWriter, r *http.Request) {
	event, ok := h.eventFromPath(w, r)
	if !ok {
		return
	}
	entries, err := h.store.TimelineForEvent(event.ID)
	if err != nil {
		http.Error(w, "Failed to load timeline", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *APIHandler) handleEventLinks(w http.ResponseWriter, r *http.Request) {
	event, ok := h.eventFromPath(w, r)
	if !ok {
		return
	}
	links, err := h.store.LinksForCase(event.ID)
	if err != nil {
		http.Error(w, "Failed to load links", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, links)
}

// handleEventStatus applies an operator status change and propagates it to
// the vendor platform when the adapter supports writes.
func (h *APIHandler) handleEventStatus(w http.ResponseWriter, r *http.Request) {
	event, ok := h.eventFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
		Actor  string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	status := database.EventStatus(req.Status)
	if !validEventStatus(status) {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "operator"
	}

	var integration database.Integration
	if err := h.db.First(&integration, event.IntegrationID).Error; err != nil {
		http.Error(w, "Integration not found for event", http.StatusInternalServerError)
		return
	}

	if err := h.orchestrator.PropagateStatus(r.Context(), &integration, event, status, actor); err != nil {
		log.Printf("Status change for event %s failed: %v", event.UUID, err)
		http.Error(w, "Failed to update status", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, event)
}

func (h *APIHandler) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if h.triggerSync == nil {
		http.Error(w, "Sync scheduler not running", http.StatusServiceUnavailable)
		return
	}
	go h.triggerSync()
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync started"})
}

// eventFromPath resolves the {uuid} path segment to an event, writing the
// error response itself when the lookup fails.
func (h *APIHandler) eventFromPath(w http.ResponseWriter, r *http.Request) (*database.CanonicalEvent, bool) {
	id := r.PathValue("uuid")
	if id == "" {
		http.Error(w, "Missing event UUID", http.StatusBadRequest)
		return nil, false
	}
	event, err := h.store.GetEventByUUID(id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			http.Error(w, "Event not found", http.StatusNotFound)
		} else {
			http.Error(w, "Failed to load event", http.StatusInternalServerError)
		}
		return nil, false
	}
	return event, true
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func validVendorKind(kind database.VendorKind) bool {
	for _, k := range database.ValidVendorKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func validEventStatus(status database.EventStatus) bool {
	switch status {
	case database.EventStatusNew, database.EventStatusInProgress,
		database.EventStatusIgnored, database.EventStatusClosed:
		return true
	}
	return false
}
