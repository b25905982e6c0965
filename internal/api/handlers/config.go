package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leylinehq/session-service/internal/api/dto"
	"github.com/leylinehq/session-service/internal/api/middleware"
	domainerrors "github.com/leylinehq/session-service/internal/domain/errors"
	"github.com/leylinehq/session-service/internal/services/settings"
)

// ConfigHandler handles service configuration endpoints.
type ConfigHandler struct {
	settings *settings.Service
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(settingsService *settings.Service) *ConfigHandler {
	return &ConfigHandler{settings: settingsService}
}

// GetConfig handles reading the service configuration document.
// @Summary Get service configuration
// @Description Returns the explicit configuration document with signing key secrets redacted
// @Tags Config
// @Produce json
// @Success 200 {object} dto.ConfigResponse "Configuration"
// @Router /config [get]
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	cfg, version := h.settings.Explicit()
	c.JSON(http.StatusOK, redactConfig(cfg, version))
}

// UpdateConfig handles replacing the service configuration document.
// @Summary Update service configuration
// @Description Replaces the configuration document, guarded on the version being replaced
// @Tags Config
// @Accept json
// @Produce json
// @Param request body dto.UpdateConfigRequest true "New configuration"
// @Success 200 {object} dto.ConfigResponse "Updated configuration"
// @Failure 409 {object} dto.ErrorResponse "Version conflict"
// @Router /config [put]
func (h *ConfigHandler) UpdateConfig(c *gin.Context) {
	var req dto.UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, domainerrors.NewValidationError("invalid request body", err.Error()))
		return
	}

	replacement, err := configFromRequest(&req)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	err = h.settings.Update(c.Request.Context(), func(settings.Config) (settings.Config, error) {
		return replacement, nil
	}, req.ExpectedVersion)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	cfg, version := h.settings.Explicit()
	c.JSON(http.StatusOK, redactConfig(cfg, version))
}

func configFromRequest(req *dto.UpdateConfigRequest) (settings.Config, error) {
	cfg := settings.Config{}

	if len(req.SigningKeys) > 0 {
		defaults := 0
		cfg.SigningKeys = make(map[string]settings.SigningKey, len(req.SigningKeys))
		for id, key := range req.SigningKeys {
			if key.Default {
				defaults++
			}
			cfg.SigningKeys[id] = settings.SigningKey{Secret: key.Secret, Default: key.Default}
		}
		if defaults != 1 {
			return settings.Config{}, domainerrors.NewValidationError("exactly one signing key must be the default", "")
		}
	}

	grace, err := parseDuration(req.SessionEraGracePeriod)
	if err != nil {
		return settings.Config{}, domainerrors.NewValidationError("malformed sessionEraGracePeriod", req.SessionEraGracePeriod)
	}
	governing, err := parseDuration(req.SessionGoverningPeriod)
	if err != nil {
		return settings.Config{}, domainerrors.NewValidationError("malformed sessionGoverningPeriodLength", req.SessionGoverningPeriod)
	}
	cfg.SessionEraGracePeriod = settings.Duration(grace)
	cfg.SessionGoverningPeriodLength = settings.Duration(governing)

	return cfg, nil
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func redactConfig(cfg settings.Config, version int64) dto.ConfigResponse {
	resp := dto.ConfigResponse{
		SigningKeyIDs: make([]string, 0, len(cfg.SigningKeys)),
		Version:       version,
	}
	for id, key := range cfg.SigningKeys {
		resp.SigningKeyIDs = append(resp.SigningKeyIDs, id)
		if key.Default {
			resp.DefaultSigningKeyID = id
		}
	}
	sort.Strings(resp.SigningKeyIDs)

	if cfg.SessionEraGracePeriod != 0 {
		resp.SessionEraGracePeriod = time.Duration(cfg.SessionEraGracePeriod).String()
	}
	if cfg.SessionGoverningPeriodLength != 0 {
		resp.SessionGoverningPeriod = time.Duration(cfg.SessionGoverningPeriodLength).String()
	}
	return resp
}
