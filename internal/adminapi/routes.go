package adminapi

import (
	"github.com/talkincode/evopanel/internal/app"
	"github.com/talkincode/evopanel/internal/instance"
	"github.com/talkincode/evopanel/internal/store"
)

var (
	appCtx    app.AppContext
	configMgr *app.ConfigManager
	manager   *instance.Manager
	instances *store.InstanceStore
)

// Init wires the admin API against the running application and
// registers every route on the web server.
func Init(a *app.Application, mgr *instance.Manager) {
	appCtx = a
	configMgr = a.ConfigMgr()
	manager = mgr
	instances = a.InstanceStore()

	registerAuthRoutes()
	registerInstanceRoutes()
	registerCallbackRoutes()
	registerSettingsRoutes()
	registerMetricsRoutes()
}
