package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/admitdesk/internal/actions"
	"github.com/zulandar/admitdesk/internal/applicants"
	"github.com/zulandar/admitdesk/internal/models"
	"github.com/zulandar/admitdesk/internal/orchestrator"
	"github.com/zulandar/admitdesk/internal/session"
)

type handlers struct {
	orch     *orchestrator.Orchestrator
	actions  *actions.Manager
	sessions *session.Store
	logger   *slog.Logger
}

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/healthz", h.health)
	router.POST("/ask", h.ask)

	router.POST("/actions/triage", h.triage)
	router.POST("/actions/execute", h.execute)
	router.GET("/actions", h.queue)
	router.PATCH("/actions/:id/start", h.start)
	router.PATCH("/actions/:id/complete", h.complete)

	router.GET("/sessions/:id/messages", h.messages)
}

// filtersJSON is the wire form of applicants.Filters.
type filtersJSON struct {
	Board string `json:"board"`
	Stage string `json:"stage"`
	Owner string `json:"owner"`
}

func (f filtersJSON) toFilters() applicants.Filters {
	return applicants.Filters{Board: f.Board, Stage: f.Stage, OwnerUserID: f.Owner}
}

type errorResponse struct {
	Error string `json:"error"`
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type askRequest struct {
	Query     string      `json:"query" binding:"required"`
	Filters   filtersJSON `json:"filters"`
	SessionID string      `json:"session_id"`
}

func (h *handlers) ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "query is required")
		return
	}
	resp, err := h.orch.Ask(c.Request.Context(), orchestrator.Request{
		UserID:    userID(c),
		Query:     req.Query,
		Filters:   req.Filters.toFilters(),
		SessionID: req.SessionID,
	})
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

type triageRequest struct {
	Limit   int         `json:"limit"`
	Filters filtersJSON `json:"filters"`
}

type triageResponse struct {
	Recommendations []orchestrator.Recommendation `json:"recommendations"`
}

func (h *handlers) triage(c *gin.Context) {
	var req triageRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	if req.Limit < 0 {
		badRequest(c, "limit must not be negative")
		return
	}
	recs, err := h.orch.Triage(c.Request.Context(), req.Filters.toFilters(), req.Limit)
	if err != nil {
		h.logger.Error("triage failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "applicant data unavailable"})
		return
	}
	c.JSON(http.StatusOK, triageResponse{Recommendations: recs})
}

type suggestionJSON struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type completionResponse struct {
	OK                   bool             `json:"ok"`
	ActionID             uint             `json:"action_id"`
	FollowUpMessage      string           `json:"follow_up_message,omitempty"`
	SuggestedNextActions []suggestionJSON `json:"suggested_next_actions,omitempty"`
	Fallback             bool             `json:"fallback,omitempty"`
}

func toCompletionResponse(c *actions.Completion) completionResponse {
	out := completionResponse{OK: true, ActionID: c.Action.ID}
	if c.Feedback != nil {
		out.FollowUpMessage = c.Feedback.Analysis
		out.Fallback = c.Feedback.Fallback
		for _, s := range c.Feedback.Suggestions {
			out.SuggestedNextActions = append(out.SuggestedNextActions, suggestionJSON{Type: s.Type, Description: s.Description})
		}
	}
	return out
}

type executeRequest struct {
	ApplicationID string  `json:"application_id" binding:"required"`
	ActionType    string  `json:"action_type" binding:"required"`
	Priority      float64 `json:"priority"`
	Description   string  `json:"description"`
	OutcomeNotes  string  `json:"outcome_notes"`
	Success       bool    `json:"success"`
}

func (h *handlers) execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "application_id and action_type are required")
		return
	}
	priority := req.Priority
	if priority > 1 {
		priority = h.orch.Scorer().Normalize(priority)
	}
	if priority < 0 {
		priority = 0
	}
	user := userID(c)
	comp, err := h.actions.Record(c.Request.Context(), actions.Recommendation{
		ApplicationID: req.ApplicationID,
		ActionType:    req.ActionType,
		Priority:      priority,
		Description:   req.Description,
		OwnerUserID:   &user,
	}, actions.Outcome{Notes: req.OutcomeNotes, Success: req.Success})
	if errors.Is(err, actions.ErrInvalidRecommendation) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCompletionResponse(comp))
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid action id")
		return 0, false
	}
	return uint(id), true
}

func (h *handlers) actionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, actions.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: "action not found"})
	case errors.Is(err, actions.ErrAlreadyCompleted), errors.Is(err, actions.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("action update failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

type completeRequest struct {
	OutcomeNotes string `json:"outcome_notes"`
	Success      bool   `json:"success"`
}

func (h *handlers) complete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req completeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	comp, err := h.actions.Complete(c.Request.Context(), id, actions.Outcome{Notes: req.OutcomeNotes, Success: req.Success})
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCompletionResponse(comp))
}

func (h *handlers) start(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	a, err := h.actions.Start(c.Request.Context(), id)
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "action_id": a.ID, "status": a.Status})
}

type actionJSON struct {
	ID            uint              `json:"id"`
	ApplicationID string            `json:"application_id"`
	ActionType    string            `json:"action_type"`
	Priority      float64           `json:"priority"`
	PriorityLabel string            `json:"priority_label"`
	Description   string            `json:"description"`
	Deadline      string            `json:"deadline"`
	Status        string            `json:"status"`
	System        bool              `json:"created_by_system"`
	Artifacts     actions.Artifacts `json:"artifacts"`
}

func toActionJSON(a models.Action) actionJSON {
	return actionJSON{
		ID:            a.ID,
		ApplicationID: a.ApplicationID,
		ActionType:    a.ActionType,
		Priority:      a.Priority,
		PriorityLabel: a.PriorityLabel,
		Description:   a.Description,
		Deadline:      a.Deadline.Format("2006-01-02T15:04:05Z07:00"),
		Status:        a.Status,
		System:        a.CreatedBySystem,
		Artifacts:     actions.DecodeArtifacts(a),
	}
}

func (h *handlers) queue(c *gin.Context) {
	f := actions.QueueFilter{
		OwnerUserID:   c.Query("owner"),
		ApplicationID: c.Query("application_id"),
		Status:        c.Query("status"),
	}
	if c.Query("mine") == "true" {
		f.OwnerUserID = userID(c)
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			badRequest(c, "invalid limit")
			return
		}
		f.Limit = n
	}
	rows, err := h.actions.Queue(c.Request.Context(), f)
	if err != nil {
		h.actionError(c, err)
		return
	}
	out := make([]actionJSON, 0, len(rows))
	for _, a := range rows {
		out = append(out, toActionJSON(a))
	}
	c.JSON(http.StatusOK, gin.H{"actions": out})
}

type messageJSON struct {
	ID            string   `json:"id"`
	Sequence      int      `json:"sequence"`
	Role          string   `json:"role"`
	Content       string   `json:"content"`
	ReferencedIDs []string `json:"referenced_ids"`
	IntentTag     string   `json:"intent_tag,omitempty"`
	CreatedAt     string   `json:"created_at"`
}

func (h *handlers) messages(c *gin.Context) {
	id := c.Param("id")
	sess, err := h.sessions.Get(c.Request.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	if err != nil {
		h.logger.Error("load session failed", "session_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if sess.UserID != userID(c) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	history, err := h.sessions.History(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("load history failed", "session_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	out := make([]messageJSON, 0, len(history))
	for _, e := range history {
		ids := e.ReferencedIDs
		if ids == nil {
			ids = []string{}
		}
		out = append(out, messageJSON{
			ID:            e.ID,
			Sequence:      e.Sequence,
			Role:          e.Role,
			Content:       e.Content,
			ReferencedIDs: ids,
			IntentTag:     e.IntentTag,
			CreatedAt:     e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":    sess.ID,
		"expires_at":    sess.ExpiresAt,
		"message_count": sess.MessageCount,
		"messages":      out,
	})
}
