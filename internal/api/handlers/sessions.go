package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leylinehq/session-service/internal/api/dto"
	"github.com/leylinehq/session-service/internal/api/middleware"
	domainerrors "github.com/leylinehq/session-service/internal/domain/errors"
	"github.com/leylinehq/session-service/internal/services/sessions"
)

// SessionsHandler handles session lifecycle and access attempt endpoints.
type SessionsHandler struct {
	sessions *sessions.Service
}

// NewSessionsHandler creates a new SessionsHandler.
func NewSessionsHandler(sessionsService *sessions.Service) *SessionsHandler {
	return &SessionsHandler{sessions: sessionsService}
}

// CreateSession handles session minting.
// @Summary Create a session
// @Description Mints a session in a security context whose precondition the asserted claims satisfy. The returned token is surfaced exactly once.
// @Tags Sessions
// @Accept json
// @Produce json
// @Param realmId path string true "Realm ID"
// @Param request body dto.CreateSessionRequest true "Session parameters"
// @Success 201 {object} dto.CreateSessionResponse "Session created"
// @Failure 401 {object} dto.ErrorResponse "Claims fail the precondition"
// @Failure 404 {object} dto.ErrorResponse "No such realm or security context"
// @Router /realms/{realmId}/sessions [post]
func (h *SessionsHandler) CreateSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, domainerrors.NewValidationError("invalid request body", err.Error()))
		return
	}

	created, err := h.sessions.Create(c.Request.Context(), c.Param("realmId"), &sessions.CreateParams{
		SecurityContext:  req.SecurityContext,
		Claims:           req.Claims,
		AgentFingerprint: req.AgentFingerprint,
	})
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.CreateSessionResponse{
		Session: dto.FromSession(created.Session),
		Token:   created.Token,
	})
}

// GetSession handles fetching one session.
// @Summary Get a session
// @Description Returns one session, including whether anti-abuse tooling has recently flagged it
// @Tags Sessions
// @Produce json
// @Param realmId path string true "Realm ID"
// @Param sessionId path string true "Session ID"
// @Success 200 {object} dto.SessionResponse "Session"
// @Failure 404 {object} dto.ErrorResponse "No such session"
// @Router /realms/{realmId}/sessions/{sessionId} [get]
func (h *SessionsHandler) GetSession(c *gin.Context) {
	session, err := h.sessions.FetchByID(c.Request.Context(), c.Param("realmId"), c.Param("sessionId"))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	resp := dto.FromSession(session)
	resp.Flagged = h.sessions.Flagged(c.Request.Context(), session.ID)
	c.JSON(http.StatusOK, resp)
}

// ListSessions handles listing a realm's sessions.
// @Summary List sessions
// @Description Returns a realm's sessions by creation time, with an opaque after cursor for the next page
// @Tags Sessions
// @Produce json
// @Param realmId path string true "Realm ID"
// @Param after query string false "Cursor from the previous page"
// @Param limit query int false "Page size (1-100, default 50)"
// @Success 200 {object} dto.ListSessionsResponse "One page of sessions"
// @Router /realms/{realmId}/sessions [get]
func (h *SessionsHandler) ListSessions(c *gin.Context) {
	page, err := h.sessions.List(c.Request.Context(), c.Param("realmId"), c.Query("after"), queryLimit(c))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	resp := dto.ListSessionsResponse{
		Sessions: make([]dto.SessionResponse, 0, len(page.Sessions)),
		After:    page.After,
	}
	for i := range page.Sessions {
		resp.Sessions = append(resp.Sessions, dto.FromSession(&page.Sessions[i]))
	}

	c.JSON(http.StatusOK, resp)
}

// InvalidateSession handles administrative session invalidation.
// @Summary Invalidate a session
// @Description Marks a session dead. Idempotent; the session document remains as an audit record.
// @Tags Sessions
// @Accept json
// @Produce json
// @Param realmId path string true "Realm ID"
// @Param sessionId path string true "Session ID"
// @Param request body dto.InvalidateSessionRequest false "Invalidation reason"
// @Success 204 "Session invalidated"
// @Failure 404 {object} dto.ErrorResponse "No such session"
// @Router /realms/{realmId}/sessions/{sessionId} [delete]
func (h *SessionsHandler) InvalidateSession(c *gin.Context) {
	var req dto.InvalidateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.HandleError(c, domainerrors.NewValidationError("invalid request body", err.Error()))
			return
		}
	}

	err := h.sessions.Invalidate(c.Request.Context(), c.Param("realmId"), c.Param("sessionId"), req.Reason)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// RecordAccessAttempt handles credential adjudication.
// @Summary Record an access attempt
// @Description Adjudicates a bundle of presented tokens against a security context and returns the surviving sessions plus token maintenance instructions
// @Tags AccessAttempts
// @Accept json
// @Produce json
// @Param realmId path string true "Realm ID"
// @Param request body dto.AccessAttemptRequest true "Presented credentials"
// @Success 200 {object} dto.AccessAttemptResponse "Adjudication"
// @Failure 404 {object} dto.ErrorResponse "No such realm or security context"
// @Router /realms/{realmId}/access-attempts [post]
func (h *SessionsHandler) RecordAccessAttempt(c *gin.Context) {
	var req dto.AccessAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, domainerrors.NewValidationError("invalid request body", err.Error()))
		return
	}

	result, err := h.sessions.RecordAccessAttempt(c.Request.Context(), c.Param("realmId"), &sessions.AccessAttemptParams{
		SecurityContext:  req.SecurityContext,
		Tokens:           req.Tokens,
		AgentFingerprint: req.AgentFingerprint,
	})
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	resp := dto.AccessAttemptResponse{
		Sessions:             make([]dto.SessionAccessResponse, 0, len(result.Sessions)),
		AddTokens:            emptyIfNil(result.AddTokens),
		RetireTokens:         emptyIfNil(result.RetireTokens),
		SuspiciousTokens:     emptyIfNil(result.SuspiciousTokens),
		SuspiciousSessionIDs: emptyIfNil(result.SuspiciousSessionIDs),
	}
	for _, access := range result.Sessions {
		resp.Sessions = append(resp.Sessions, dto.SessionAccessResponse{
			SessionID:       access.SessionID,
			SubjectID:       access.SubjectID,
			SecurityContext: access.SecurityContext.Name,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// emptyIfNil keeps token lists serializing as [] rather than null.
func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
