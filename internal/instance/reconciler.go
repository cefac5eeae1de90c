// Package instance owns the connection-state reconciliation for one
// WhatsApp bridge instance per owner. Three independent sources feed it:
// synchronous action results from the manager webhook, the row change
// feed from the store, and on-demand point reads. The reconciler merges
// them into a single cached record plus an immediate QR override and
// derives the console-facing status from that pair.
package instance

import (
	"context"
	"strings"
	"sync"

	"github.com/talkincode/evopanel/internal/domain"
	"github.com/talkincode/evopanel/internal/feed"
	"github.com/talkincode/evopanel/internal/gateway"
	"github.com/talkincode/evopanel/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Reconciler-local error codes; gateway codes are defined in gateway.
const (
	CodeFetchError      = "FETCH_ERROR"
	CodeUnexpectedError = "UNEXPECTED_ERROR"
	CodeNoInstance      = "NO_INSTANCE"
)

// StoreReader performs the point read for one owner. Zero rows must be
// reported as (nil, nil).
type StoreReader interface {
	GetByOwner(ctx context.Context, ownerID string) (*domain.WaInstance, error)
}

// ActionGateway dispatches lifecycle commands to the bridge manager.
type ActionGateway interface {
	Dispatch(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Subscription is the teardown handle of a change-feed registration.
type Subscription interface {
	Close() error
}

// ChangeFeed delivers row events for one owner in commit order.
type ChangeFeed interface {
	Subscribe(ownerID string, handler func(feed.Event)) (Subscription, error)
}

// Snapshot is the reconciler state as the console reads it. All derived
// fields are computed from the same locked view, so a snapshot is
// internally consistent.
type Snapshot struct {
	Record          *domain.WaInstance `json:"record"`
	Status          UIStatus           `json:"status"`
	QRCode          string             `json:"qr_code,omitempty"`
	PairingCode     string             `json:"pairing_code,omitempty"`
	ConnectedNumber string             `json:"connected_number,omitempty"`
	ProfileName     string             `json:"profile_name,omitempty"`
	Busy            bool               `json:"busy"`
	InitialLoadDone bool               `json:"initial_load_done"`
	Error           *gateway.Error     `json:"error,omitempty"`
}

// Reconciler tracks one owner's instance. It exclusively owns the cached
// record and the immediate QR override; the only writers are the fetch
// result, the change feed and action results.
type Reconciler struct {
	ownerID string
	store   StoreReader
	gw      ActionGateway

	mu              sync.Mutex
	record          *domain.WaInstance
	immediateQR     string
	busy            bool
	lastErr         *gateway.Error
	initialLoadDone bool
	closed          bool
	lastStatus      UIStatus

	sub   Subscription
	fetch singleflight.Group
}

// Activate builds the reconciler for an owner, opens the change-feed
// subscription and kicks off the initial point read. The read and the
// subscription run independently; neither blocks the other and no
// ordering between them is assumed.
func Activate(ownerID string, store StoreReader, gw ActionGateway, cf ChangeFeed) (*Reconciler, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, gateway.NewError("owner id is required", gateway.CodeInvalidPayload)
	}

	r := &Reconciler{ownerID: ownerID, store: store, gw: gw}
	sub, err := cf.Subscribe(ownerID, r.handleEvent)
	if err != nil {
		return nil, gateway.AsError(err)
	}
	r.sub = sub

	go func() {
		_ = r.Refresh(context.Background())
	}()

	zap.L().Info("instance reconciler activated", zap.String("owner_id", ownerID))
	return r, nil
}

// OwnerID returns the owner identity the reconciler is bound to.
func (r *Reconciler) OwnerID() string {
	return r.ownerID
}

// Refresh performs the point read. Concurrent callers share a single
// in-flight read and all resolve when it completes. On failure the
// cached record is left untouched and FETCH_ERROR is recorded.
func (r *Reconciler) Refresh(ctx context.Context) error {
	_, err, _ := r.fetch.Do("refresh", func() (interface{}, error) {
		defer func() {
			r.mu.Lock()
			r.initialLoadDone = true
			r.mu.Unlock()
		}()

		rec, err := r.store.GetByOwner(ctx, r.ownerID)
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return nil, nil
		}
		if err != nil {
			r.lastErr = &gateway.Error{Message: "failed to load instance record", Code: CodeFetchError}
			zap.L().Warn("instance refresh failed", zap.String("owner_id", r.ownerID), zap.Error(err))
			return nil, r.lastErr
		}
		r.record = rec
		r.lastErr = nil
		return nil, nil
	})
	if err != nil {
		return err
	}
	return nil
}

// handleEvent applies one change-feed event. Full-row snapshots replace
// the cached record wholesale, last-applied-wins. Any event clears the
// last error; upserts carrying their own QR or an open connection also
// clear the immediate override.
func (r *Reconciler) handleEvent(evt feed.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	switch evt.Type {
	case feed.Delete:
		r.record = nil
		r.immediateQR = ""
	default:
		r.record = evt.Record
		if evt.Record != nil &&
			(evt.Record.QrcodeBase64 != "" || evt.Record.ConnectionState == domain.ConnStateOpen) {
			r.immediateQR = ""
		}
	}
	r.lastErr = nil
	r.observeStatusLocked()
}

// Create asks the manager to create the instance and start pairing.
func (r *Reconciler) Create(ctx context.Context) error {
	return r.dispatch(ctx, gateway.ActionCreate, "")
}

// RequestQR asks the manager for fresh pairing material.
func (r *Reconciler) RequestQR(ctx context.Context) error {
	return r.dispatch(ctx, gateway.ActionConnect, "")
}

// Reconnect asks the manager to re-establish a dropped session.
func (r *Reconciler) Reconnect(ctx context.Context) error {
	return r.dispatch(ctx, gateway.ActionReconnect, "")
}

// Disconnect tears the session down. It requires a known instance name
// and fails locally with NO_INSTANCE otherwise, without touching the
// network.
func (r *Reconciler) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	name := ""
	if r.record != nil {
		name = r.record.InstanceName
	}
	if name == "" {
		r.lastErr = &gateway.Error{Message: "no instance to disconnect", Code: CodeNoInstance}
		err := r.lastErr
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	return r.dispatch(ctx, gateway.ActionDelete, name)
}

// dispatch runs one manager command. The busy flag transitions
// false->true->false around the call; overlapping dispatches are not
// serialized, so the last one to finish determines the observed value.
// Action results never touch the cached record - the authoritative
// update arrives later through the change feed.
func (r *Reconciler) dispatch(ctx context.Context, action gateway.Action, instanceID string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return gateway.NewError("reconciler is closed", CodeUnexpectedError)
	}
	r.busy = true
	r.lastErr = nil
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
	}()

	resp, err := r.gw.Dispatch(ctx, gateway.Request{
		UserID:     r.ownerID,
		Action:     action,
		InstanceID: instanceID,
	})
	if err != nil {
		ge := gateway.AsError(err)
		r.mu.Lock()
		if !r.closed {
			r.lastErr = ge
		}
		r.mu.Unlock()
		return ge
	}

	if qr := resp.QRPayload(); qr != "" {
		r.mu.Lock()
		if !r.closed {
			r.immediateQR = qr
			r.observeStatusLocked()
		}
		r.mu.Unlock()
	}
	return nil
}

// ClearError drops the current error without any other state change.
func (r *Reconciler) ClearError() {
	r.mu.Lock()
	r.lastErr = nil
	r.mu.Unlock()
}

// Snapshot derives the console view from the current state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	if r.lastErr != nil {
		lastErr = r.lastErr
	}
	snap := Snapshot{
		Record:          r.record.Clone(),
		Status:          DeriveStatus(r.record, r.immediateQR, lastErr),
		QRCode:          r.immediateQR,
		Busy:            r.busy,
		InitialLoadDone: r.initialLoadDone,
		Error:           r.lastErr,
	}
	if r.record != nil {
		if snap.QRCode == "" {
			snap.QRCode = r.record.QrcodeBase64
		}
		snap.PairingCode = r.record.QrcodePairingCode
		snap.ConnectedNumber = FormatPhoneNumber(r.record.ConnectedNumber)
		snap.ProfileName = r.record.ProfileName
	}
	return snap
}

// observeStatusLocked records status transitions for metrics. Callers
// hold the mutex.
func (r *Reconciler) observeStatusLocked() {
	var lastErr error
	if r.lastErr != nil {
		lastErr = r.lastErr
	}
	st := DeriveStatus(r.record, r.immediateQR, lastErr)
	if st != r.lastStatus {
		r.lastStatus = st
		metrics.RecordStatusTransition(string(st))
	}
}

// Close tears the reconciler down. The change-feed subscription is
// released and late events or action results no longer mutate state.
func (r *Reconciler) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sub := r.sub
	r.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}
