// Package metrics records local time-series datapoints (action latency,
// connection transitions, host load) into an embedded tstorage partition
// under the application workdir.
package metrics

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/nakabonne/tstorage"
	"go.uber.org/zap"
)

var (
	storage tstorage.Storage
	mu      sync.RWMutex
)

// InitMetrics opens the embedded storage under workdir/metrics.
func InitMetrics(workdir string) error {
	s, err := tstorage.NewStorage(
		tstorage.WithDataPath(filepath.Join(workdir, "metrics")),
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithRetention(30*24*time.Hour),
	)
	if err != nil {
		return err
	}
	mu.Lock()
	storage = s
	mu.Unlock()
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return nil
	}
	err := storage.Close()
	storage = nil
	return err
}

// InsertPoint writes a single datapoint. It is a no-op before InitMetrics
// so unit tests and tooling never need a metrics partition on disk.
func InsertPoint(metric string, value float64, labels ...tstorage.Label) {
	mu.RLock()
	s := storage
	mu.RUnlock()
	if s == nil {
		return
	}
	err := s.InsertRows([]tstorage.Row{
		{
			Metric:    metric,
			Labels:    labels,
			DataPoint: tstorage.DataPoint{Timestamp: time.Now().Unix(), Value: value},
		},
	})
	if err != nil {
		zap.L().Debug("metrics insert failed", zap.String("metric", metric), zap.Error(err))
	}
}

// RecordActionLatency tracks the round-trip time of a manager action.
func RecordActionLatency(action string, d time.Duration) {
	InsertPoint("manager_action_ms", float64(d.Milliseconds()),
		tstorage.Label{Name: "action", Value: action})
}

// RecordActionError counts classified manager action failures.
func RecordActionError(action, code string) {
	InsertPoint("manager_action_error", 1,
		tstorage.Label{Name: "action", Value: action},
		tstorage.Label{Name: "code", Value: code})
}

// RecordStatusTransition tracks derived connection status changes.
func RecordStatusTransition(status string) {
	InsertPoint("instance_status", 1, tstorage.Label{Name: "status", Value: status})
}

// Select reads datapoints back for the admin metrics endpoints.
func Select(metric string, labels []tstorage.Label, start, end int64) ([]*tstorage.DataPoint, error) {
	mu.RLock()
	s := storage
	mu.RUnlock()
	if s == nil {
		return nil, nil
	}
	return s.Select(metric, labels, start, end)
}
