package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/evopanel/internal/instance"
	"github.com/talkincode/evopanel/internal/webserver"
	"go.uber.org/zap"
)

func registerInstanceRoutes() {
	webserver.ApiGET("/instance/status", getInstanceStatus)
	webserver.ApiPOST("/instance/refresh", postInstanceRefresh)
	webserver.ApiPOST("/instance/create", postInstanceCreate)
	webserver.ApiPOST("/instance/qrcode", postInstanceQRCode)
	webserver.ApiPOST("/instance/reconnect", postInstanceReconnect)
	webserver.ApiPOST("/instance/disconnect", postInstanceDisconnect)
	webserver.ApiPOST("/instance/clear_error", postInstanceClearError)
	webserver.ApiPOST("/instance/release", postInstanceRelease)
	webserver.ApiGET("/instance/list", listInstances)
}

func ownerReconciler(c echo.Context) (*instance.Reconciler, error) {
	ownerID := currentOwnerID(c)
	if ownerID == "" {
		return nil, fail(c, http.StatusUnauthorized, "AUTH_FAILED", "Missing owner identity", nil)
	}
	r, err := manager.Get(ownerID)
	if err != nil {
		return nil, fail(c, http.StatusInternalServerError, "ACTIVATE_FAILED", "Failed to activate reconciler", err.Error())
	}
	return r, nil
}

// getInstanceStatus returns the merged connection snapshot: cached
// record, derived status, QR/pairing material and the current error.
func getInstanceStatus(c echo.Context) error {
	r, err := ownerReconciler(c)
	if r == nil {
		return err
	}
	return ok(c, r.Snapshot())
}

// postInstanceRefresh forces a point read and returns the fresh snapshot.
func postInstanceRefresh(c echo.Context) error {
	r, err := ownerReconciler(c)
	if r == nil {
		return err
	}
	_ = r.Refresh(c.Request().Context())
	return ok(c, r.Snapshot())
}

func postInstanceCreate(c echo.Context) error {
	r, err := ownerReconciler(c)
	if r == nil {
		return err
	}
	auditLog(c, "instance_create", "create instance and start pairing")
	if err := r.Create(c.Request().Context()); err != nil {
		zap.L().Warn("instance create failed", zap.String("owner_id", r.OwnerID()), zap.Error(err))
	}
	return ok(c, r.Snapshot())
}

func postInstanceQRCode(c echo.Context) error {
	r, err := ownerReconciler(c)
	if r == nil {
		return err
	}
	auditLog(c, "instance_qrcode", "request fresh pairing material")
	if err := r.RequestQR(c.Request().Context()); err != nil {
		zap.L().Warn("qr request failed", zap.String("owner_id", r.OwnerID()), zap.Error(err))
	}
	return ok(c, r.Snapshot())
}

func postInstanceReconnect(c echo.Context) error {
	r, err := ownerReconciler(c)
	if r == nil {
		return err
	}
	auditLog(c, "instance_reconnect", "reconnect instance")
	if err := r.Reconnect(c.Request().Context()); err != nil {
		zap.L().Warn("reconnect failed", zap.String("owner_id", r.OwnerID()), zap.Error(err))
	}
	return ok(c, r.Snapshot())
}

func postInstanceDisconnect(c echo.Context) error {
	r, err := ownerReconciler(c)
	if r == nil {
		return err
	}
	auditLog(c, "instance_disconnect", "disconnect instance")
	if err := r.Disconnect(c.Request().Context()); err != nil {
		zap.L().Warn("disconnect failed", zap.String("owner_id", r.OwnerID()), zap.Error(err))
	}
	return ok(c, r.Snapshot())
}

func postInstanceClearError(c echo.Context) error {
	r, err := ownerReconciler(c)
	if r == nil {
		return err
	}
	r.ClearError()
	return ok(c, r.Snapshot())
}

// postInstanceRelease tears down the owner's reconciler (logout path).
func postInstanceRelease(c echo.Context) error {
	ownerID := currentOwnerID(c)
	if ownerID == "" {
		return fail(c, http.StatusUnauthorized, "AUTH_FAILED", "Missing owner identity", nil)
	}
	manager.Release(ownerID)
	return ok(c, map[string]interface{}{"released": true})
}

// listInstances returns instance rows for the console overview.
func listInstances(c echo.Context) error {
	page, pageSize := parsePagination(c)
	rows, total, err := instances.List(c.Request().Context(), (page-1)*pageSize, pageSize)
	if err != nil {
		zap.L().Warn("instance list failed", zap.Error(err))
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list instances", err.Error())
	}
	return paged(c, rows, total, page, pageSize)
}
