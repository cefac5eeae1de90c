package adminapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nakabonne/tstorage"
	"github.com/talkincode/evopanel/internal/webserver"
	"github.com/talkincode/evopanel/pkg/metrics"
)

func registerMetricsRoutes() {
	webserver.ApiGET("/metrics/query", queryMetrics)
}

// queryMetrics reads datapoints from the embedded time-series storage,
// e.g. /api/metrics/query?metric=manager_action_ms&label=action:create
func queryMetrics(c echo.Context) error {
	metric := c.QueryParam("metric")
	if metric == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "metric is required", nil)
	}

	end := time.Now().Unix()
	start := end - 3600
	if v, err := strconv.ParseInt(c.QueryParam("start"), 10, 64); err == nil {
		start = v
	}
	if v, err := strconv.ParseInt(c.QueryParam("end"), 10, 64); err == nil {
		end = v
	}

	var labels []tstorage.Label
	if lv := c.QueryParam("label"); lv != "" {
		for i := 0; i < len(lv); i++ {
			if lv[i] == ':' {
				labels = append(labels, tstorage.Label{Name: lv[:i], Value: lv[i+1:]})
				break
			}
		}
	}

	points, err := metrics.Select(metric, labels, start, end)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "METRICS_ERROR", "Failed to query metrics", err.Error())
	}
	return ok(c, points)
}
