package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/evopanel/internal/domain"
	"github.com/talkincode/evopanel/internal/webserver"
)

func registerSettingsRoutes() {
	webserver.ApiGET("/settings", listSettings)
	webserver.ApiPOST("/settings", postSetting)
}

func listSettings(c echo.Context) error {
	var rows []domain.SysConfig
	if err := GetDB(c).Order("sort").Find(&rows).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list settings", err.Error())
	}
	return ok(c, rows)
}

func postSetting(c echo.Context) error {
	var payload struct {
		Type  string `json:"type"`
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.Type == "" || payload.Name == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "type and name are required", nil)
	}
	if err := configMgr.Set(payload.Type, payload.Name, payload.Value); err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to save setting", err.Error())
	}
	auditLog(c, "setting_update", payload.Type+"."+payload.Name)
	return ok(c, map[string]interface{}{"saved": true})
}
