// Package handlers provides HTTP handlers for the API.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leylinehq/session-service/internal/api/dto"
	"github.com/leylinehq/session-service/internal/api/middleware"
	domainerrors "github.com/leylinehq/session-service/internal/domain/errors"
	"github.com/leylinehq/session-service/internal/domain/models"
	"github.com/leylinehq/session-service/internal/services/realms"
)

// RealmsHandler handles realm management endpoints.
type RealmsHandler struct {
	realms *realms.Service
}

// NewRealmsHandler creates a new RealmsHandler.
func NewRealmsHandler(realmsService *realms.Service) *RealmsHandler {
	return &RealmsHandler{realms: realmsService}
}

// CreateRealm handles realm creation.
// @Summary Create a realm
// @Description Creates a realm with the given security contexts, or the default contexts when none are given
// @Tags Realms
// @Accept json
// @Produce json
// @Param request body dto.CreateRealmRequest true "Realm definition"
// @Success 201 {object} dto.RealmResponse "Realm created"
// @Failure 400 {object} dto.ErrorResponse "Invalid request"
// @Router /realms [post]
func (h *RealmsHandler) CreateRealm(c *gin.Context) {
	var req dto.CreateRealmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, domainerrors.NewValidationError("invalid request body", err.Error()))
		return
	}

	realm, err := h.realms.Create(c.Request.Context(), req.FriendlyName, contextDefinitions(req.SecurityContexts))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.FromRealm(realm))
}

// GetRealm handles fetching one realm.
// @Summary Get a realm
// @Tags Realms
// @Produce json
// @Param realmId path string true "Realm ID"
// @Success 200 {object} dto.RealmResponse "Realm"
// @Failure 404 {object} dto.ErrorResponse "No such realm"
// @Router /realms/{realmId} [get]
func (h *RealmsHandler) GetRealm(c *gin.Context) {
	realm, err := h.realms.FetchByID(c.Request.Context(), c.Param("realmId"))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromRealm(realm))
}

// ListRealms handles listing realms.
// @Summary List realms
// @Description Returns realms by creation time, with an opaque after cursor for the next page
// @Tags Realms
// @Produce json
// @Param after query string false "Cursor from the previous page"
// @Param limit query int false "Page size (1-100, default 50)"
// @Success 200 {object} dto.ListRealmsResponse "One page of realms"
// @Router /realms [get]
func (h *RealmsHandler) ListRealms(c *gin.Context) {
	page, err := h.realms.List(c.Request.Context(), c.Query("after"), queryLimit(c))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	resp := dto.ListRealmsResponse{
		Realms: make([]dto.RealmResponse, 0, len(page.Realms)),
		After:  page.After,
	}
	for i := range page.Realms {
		resp.Realms = append(resp.Realms, dto.FromRealm(&page.Realms[i]))
	}

	c.JSON(http.StatusOK, resp)
}

// UpsertSecurityContext handles creating or editing one security context.
// @Summary Create or edit a security context
// @Description Creates or replaces one security context of a realm, bumping its version
// @Tags Realms
// @Accept json
// @Produce json
// @Param realmId path string true "Realm ID"
// @Param contextName path string true "Security context name"
// @Param request body dto.UpsertSecurityContextRequest true "Security context definition"
// @Success 200 {object} dto.RealmResponse "Updated realm"
// @Failure 404 {object} dto.ErrorResponse "No such realm"
// @Failure 409 {object} dto.ErrorResponse "Concurrent edit"
// @Router /realms/{realmId}/security-contexts/{contextName} [put]
func (h *RealmsHandler) UpsertSecurityContext(c *gin.Context) {
	var req dto.UpsertSecurityContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, domainerrors.NewValidationError("invalid request body", err.Error()))
		return
	}

	realm, err := h.realms.UpsertSecurityContext(
		c.Request.Context(),
		c.Param("realmId"),
		c.Param("contextName"),
		contextDefinition(dto.SecurityContextDefinition(req)),
	)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromRealm(realm))
}

func contextDefinitions(in map[string]dto.SecurityContextDefinition) map[string]realms.ContextDefinition {
	out := make(map[string]realms.ContextDefinition, len(in))
	for name, def := range in {
		out[name] = contextDefinition(def)
	}
	return out
}

func contextDefinition(def dto.SecurityContextDefinition) realms.ContextDefinition {
	return realms.ContextDefinition{
		Precondition: def.Precondition,
		SessionOptions: models.SessionOptions{
			InactivityExpirationDuration: time.Duration(def.SessionOptions.InactivityExpirationSeconds) * time.Second,
			AbsoluteExpirationDuration:   time.Duration(def.SessionOptions.AbsoluteExpirationSeconds) * time.Second,
			GoverningPeriodLength:        time.Duration(def.SessionOptions.GoverningPeriodSeconds) * time.Second,
		},
	}
}

// queryLimit parses the limit query parameter; the paging layer clamps it.
func queryLimit(c *gin.Context) int64 {
	raw := c.Query("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return limit
}
