package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/evopanel/internal/domain"
	"github.com/talkincode/evopanel/internal/webserver"
	"go.uber.org/zap"
)

func registerCallbackRoutes() {
	webserver.PubPOST("/callback/instance", postInstanceCallback)
}

type instanceCallbackPayload struct {
	EventType string             `json:"event_type"`
	OwnerID   string             `json:"owner_id"`
	Record    *domain.WaInstance `json:"record"`
}

// postInstanceCallback receives row updates pushed by the bridge
// manager after it executes a command. The write goes through the
// store, which republishes it on the change feed, so every live
// reconciler converges on the committed row.
func postInstanceCallback(c echo.Context) error {
	if token := appCtx.GetSettingsStringValue("manager", "callback_token"); token != "" {
		if c.Request().Header.Get("X-Callback-Token") != token {
			return fail(c, http.StatusUnauthorized, "AUTH_FAILED", "Invalid callback token", nil)
		}
	}

	var payload instanceCallbackPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}

	switch strings.ToLower(strings.TrimSpace(payload.EventType)) {
	case "delete":
		ownerID := payload.OwnerID
		if ownerID == "" && payload.Record != nil {
			ownerID = payload.Record.OwnerID
		}
		if ownerID == "" {
			return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "owner_id is required", nil)
		}
		if err := instances.DeleteByOwner(c.Request().Context(), ownerID); err != nil {
			zap.L().Warn("callback delete failed", zap.String("owner_id", ownerID), zap.Error(err))
			return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete instance", err.Error())
		}
		zap.L().Info("instance callback applied", zap.String("owner_id", ownerID), zap.String("event", "delete"))
	default:
		if payload.Record == nil || payload.Record.OwnerID == "" {
			return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "record with owner_id is required", nil)
		}
		if err := instances.Upsert(c.Request().Context(), payload.Record); err != nil {
			zap.L().Warn("callback upsert failed", zap.String("owner_id", payload.Record.OwnerID), zap.Error(err))
			return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to upsert instance", err.Error())
		}
		zap.L().Info("instance callback applied",
			zap.String("owner_id", payload.Record.OwnerID),
			zap.String("event", "upsert"),
			zap.String("connection_state", payload.Record.ConnectionState))
	}
	return ok(c, map[string]interface{}{"applied": true})
}
