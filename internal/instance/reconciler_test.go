package instance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/talkincode/evopanel/internal/domain"
	"github.com/talkincode/evopanel/internal/feed"
	"github.com/talkincode/evopanel/internal/gateway"
)

type fakeStore struct {
	mu    sync.Mutex
	rec   *domain.WaInstance
	err   error
	calls int
}

func (s *fakeStore) GetByOwner(ctx context.Context, ownerID string) (*domain.WaInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rec.Clone(), nil
}

func (s *fakeStore) set(rec *domain.WaInstance, err error) {
	s.mu.Lock()
	s.rec, s.err = rec, err
	s.mu.Unlock()
}

type fakeGateway struct {
	mu   sync.Mutex
	reqs []gateway.Request
	resp *gateway.Response
	err  error
}

func (g *fakeGateway) Dispatch(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return nil, g.err
	}
	return g.resp, nil
}

func (g *fakeGateway) requests() []gateway.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]gateway.Request, len(g.reqs))
	copy(out, g.reqs)
	return out
}

type fakeSub struct {
	mu     sync.Mutex
	closed int
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

type fakeFeed struct {
	handler func(feed.Event)
	sub     *fakeSub
}

func (f *fakeFeed) Subscribe(ownerID string, handler func(feed.Event)) (Subscription, error) {
	f.handler = handler
	f.sub = &fakeSub{}
	return f.sub, nil
}

func newTestReconciler(t *testing.T, st *fakeStore, gw *fakeGateway) (*Reconciler, *fakeFeed) {
	t.Helper()
	cf := &fakeFeed{}
	r, err := Activate("owner-1", st, gw, cf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	waitInitialLoad(t, r)
	return r, cf
}

func waitInitialLoad(t *testing.T, r *Reconciler) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.Snapshot().InitialLoadDone
	}, time.Second, 5*time.Millisecond)
}

func TestActivateRequiresOwner(t *testing.T) {
	_, err := Activate("  ", &fakeStore{}, &fakeGateway{}, &fakeFeed{})
	require.Error(t, err)
	require.Equal(t, gateway.CodeInvalidPayload, gateway.AsError(err).Code)
}

func TestRefreshWithoutRecord(t *testing.T) {
	r, _ := newTestReconciler(t, &fakeStore{}, &fakeGateway{})

	snap := r.Snapshot()
	require.Nil(t, snap.Record)
	require.Equal(t, StatusNoInstance, snap.Status)
	require.True(t, snap.InitialLoadDone)
	require.Nil(t, snap.Error)
}

func TestRefreshLoadsRecord(t *testing.T) {
	st := &fakeStore{rec: &domain.WaInstance{
		OwnerID:         "owner-1",
		InstanceName:    "inst_owner_1",
		ConnectionState: domain.ConnStateOpen,
		ConnectedNumber: "5511987654321",
		ProfileName:     "Suporte",
	}}
	r, _ := newTestReconciler(t, st, &fakeGateway{})

	snap := r.Snapshot()
	require.NotNil(t, snap.Record)
	require.Equal(t, StatusConnected, snap.Status)
	require.Equal(t, "+55 (11) 98765-4321", snap.ConnectedNumber)
	require.Equal(t, "Suporte", snap.ProfileName)
}

func TestRefreshFailureKeepsRecord(t *testing.T) {
	st := &fakeStore{rec: &domain.WaInstance{
		OwnerID:         "owner-1",
		ConnectionState: domain.ConnStateOpen,
	}}
	r, _ := newTestReconciler(t, st, &fakeGateway{})
	require.NotNil(t, r.Snapshot().Record)

	st.set(nil, context.DeadlineExceeded)
	err := r.Refresh(context.Background())
	require.Error(t, err)

	snap := r.Snapshot()
	require.NotNil(t, snap.Record, "failed read must not clobber the cache")
	require.NotNil(t, snap.Error)
	require.Equal(t, CodeFetchError, snap.Error.Code)
}

func TestCreateSetsImmediateQR(t *testing.T) {
	yes := true
	gw := &fakeGateway{resp: &gateway.Response{
		Success:      &yes,
		QRCodeBase64: "data:image/png;base64,QR1",
	}}
	r, _ := newTestReconciler(t, &fakeStore{}, gw)

	require.NoError(t, r.Create(context.Background()))

	snap := r.Snapshot()
	require.Nil(t, snap.Record, "action results never touch the cached record")
	require.Equal(t, StatusAwaitingQR, snap.Status)
	require.Equal(t, "data:image/png;base64,QR1", snap.QRCode)
	require.False(t, snap.Busy)

	reqs := gw.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, gateway.ActionCreate, reqs[0].Action)
	require.Equal(t, "owner-1", reqs[0].UserID)
}

func TestFeedUpsertOpenClearsOverride(t *testing.T) {
	yes := true
	gw := &fakeGateway{resp: &gateway.Response{Success: &yes, QRCode: "pairing-raw"}}
	r, cf := newTestReconciler(t, &fakeStore{}, gw)

	require.NoError(t, r.RequestQR(context.Background()))
	require.Equal(t, StatusAwaitingQR, r.Snapshot().Status)

	cf.handler(feed.Event{Type: feed.Upsert, OwnerID: "owner-1", Record: &domain.WaInstance{
		OwnerID:         "owner-1",
		ConnectionState: domain.ConnStateOpen,
	}})

	snap := r.Snapshot()
	require.Equal(t, StatusConnected, snap.Status)
	require.Empty(t, snap.QRCode)
}

func TestFeedUpsertWithOwnQRClearsOverride(t *testing.T) {
	yes := true
	gw := &fakeGateway{resp: &gateway.Response{Success: &yes, QRCodeBase64: "old-qr"}}
	r, cf := newTestReconciler(t, &fakeStore{}, gw)

	require.NoError(t, r.RequestQR(context.Background()))

	cf.handler(feed.Event{Type: feed.Upsert, OwnerID: "owner-1", Record: &domain.WaInstance{
		OwnerID:         "owner-1",
		ConnectionState: domain.ConnStateClose,
		QrcodeBase64:    "row-qr",
	}})

	snap := r.Snapshot()
	require.Equal(t, StatusAwaitingQR, snap.Status)
	require.Equal(t, "row-qr", snap.QRCode, "row pairing material replaces the override")
}

func TestFeedUpsertWithoutQRKeepsOverride(t *testing.T) {
	yes := true
	gw := &fakeGateway{resp: &gateway.Response{Success: &yes, QRCodeBase64: "fresh-qr"}}
	r, cf := newTestReconciler(t, &fakeStore{}, gw)

	require.NoError(t, r.RequestQR(context.Background()))

	cf.handler(feed.Event{Type: feed.Upsert, OwnerID: "owner-1", Record: &domain.WaInstance{
		OwnerID:         "owner-1",
		ConnectionState: domain.ConnStateClose,
	}})

	snap := r.Snapshot()
	require.Equal(t, StatusAwaitingQR, snap.Status)
	require.Equal(t, "fresh-qr", snap.QRCode)
}

func TestFeedDeleteResetsState(t *testing.T) {
	yes := true
	gw := &fakeGateway{resp: &gateway.Response{Success: &yes, QRCodeBase64: "qr"}}
	st := &fakeStore{rec: &domain.WaInstance{OwnerID: "owner-1", ConnectionState: domain.ConnStateClose}}
	r, cf := newTestReconciler(t, st, gw)

	require.NoError(t, r.RequestQR(context.Background()))

	cf.handler(feed.Event{Type: feed.Delete, OwnerID: "owner-1"})

	snap := r.Snapshot()
	require.Nil(t, snap.Record)
	require.Empty(t, snap.QRCode)
	require.Equal(t, StatusNoInstance, snap.Status)
}

func TestFeedEventClearsLastError(t *testing.T) {
	gw := &fakeGateway{err: gateway.NewError("down", gateway.CodeNetworkError)}
	r, cf := newTestReconciler(t, &fakeStore{}, gw)

	require.Error(t, r.Create(context.Background()))
	require.NotNil(t, r.Snapshot().Error)

	cf.handler(feed.Event{Type: feed.Upsert, OwnerID: "owner-1", Record: &domain.WaInstance{
		OwnerID:         "owner-1",
		ConnectionState: domain.ConnStateConnecting,
	}})

	snap := r.Snapshot()
	require.Nil(t, snap.Error)
	require.Equal(t, StatusConnecting, snap.Status)
}

func TestLastAppliedEventWins(t *testing.T) {
	r, cf := newTestReconciler(t, &fakeStore{}, &fakeGateway{})

	cf.handler(feed.Event{Type: feed.Upsert, OwnerID: "owner-1", Record: &domain.WaInstance{
		OwnerID: "owner-1", ConnectionState: domain.ConnStateConnecting,
	}})
	cf.handler(feed.Event{Type: feed.Upsert, OwnerID: "owner-1", Record: &domain.WaInstance{
		OwnerID: "owner-1", ConnectionState: domain.ConnStateOpen,
	}})

	require.Equal(t, StatusConnected, r.Snapshot().Status)
}

func TestDisconnectWithoutInstance(t *testing.T) {
	gw := &fakeGateway{}
	r, _ := newTestReconciler(t, &fakeStore{}, gw)

	err := r.Disconnect(context.Background())
	require.Error(t, err)
	require.Equal(t, CodeNoInstance, gateway.AsError(err).Code)
	require.Empty(t, gw.requests(), "local validation must not reach the network")

	// A missing record derives no_instance even while the error is set;
	// the error itself stays visible on the snapshot.
	snap := r.Snapshot()
	require.Equal(t, StatusNoInstance, snap.Status)
	require.NotNil(t, snap.Error)
	require.Equal(t, CodeNoInstance, snap.Error.Code)
}

func TestDisconnectUsesInstanceName(t *testing.T) {
	yes := true
	gw := &fakeGateway{resp: &gateway.Response{Success: &yes}}
	st := &fakeStore{rec: &domain.WaInstance{
		OwnerID:         "owner-1",
		InstanceName:    "inst_owner_1",
		ConnectionState: domain.ConnStateOpen,
	}}
	r, _ := newTestReconciler(t, st, gw)

	require.NoError(t, r.Disconnect(context.Background()))

	reqs := gw.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, gateway.ActionDelete, reqs[0].Action)
	require.Equal(t, "inst_owner_1", reqs[0].InstanceID)
}

func TestDispatchFailureLeavesRecordUntouched(t *testing.T) {
	gw := &fakeGateway{err: gateway.NewError("timeout", gateway.CodeTimeoutError)}
	st := &fakeStore{rec: &domain.WaInstance{
		OwnerID:         "owner-1",
		InstanceName:    "inst_owner_1",
		ConnectionState: domain.ConnStateOpen,
	}}
	r, _ := newTestReconciler(t, st, gw)

	err := r.Reconnect(context.Background())
	require.Error(t, err)

	snap := r.Snapshot()
	require.False(t, snap.Busy)
	require.NotNil(t, snap.Record)
	require.Equal(t, domain.ConnStateOpen, snap.Record.ConnectionState)
	require.NotNil(t, snap.Error)
	require.Equal(t, gateway.CodeTimeoutError, snap.Error.Code)
}

func TestClearError(t *testing.T) {
	gw := &fakeGateway{err: gateway.NewError("down", gateway.CodeNetworkError)}
	r, _ := newTestReconciler(t, &fakeStore{}, gw)

	require.Error(t, r.Create(context.Background()))
	require.NotNil(t, r.Snapshot().Error)

	r.ClearError()
	require.Nil(t, r.Snapshot().Error)
}

func TestCloseStopsEventDelivery(t *testing.T) {
	st := &fakeStore{}
	cf := &fakeFeed{}
	r, err := Activate("owner-1", st, &fakeGateway{}, cf)
	require.NoError(t, err)
	waitInitialLoad(t, r)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "close is idempotent")
	require.Equal(t, 1, cf.sub.closed, "subscription released exactly once")

	cf.handler(feed.Event{Type: feed.Upsert, OwnerID: "owner-1", Record: &domain.WaInstance{
		OwnerID: "owner-1", ConnectionState: domain.ConnStateOpen,
	}})
	require.Equal(t, StatusNoInstance, r.Snapshot().Status, "late events must not mutate state")

	err = r.Create(context.Background())
	require.Error(t, err)
	require.Equal(t, CodeUnexpectedError, gateway.AsError(err).Code)
}

func TestSnapshotRecordIsACopy(t *testing.T) {
	st := &fakeStore{rec: &domain.WaInstance{
		OwnerID:         "owner-1",
		ConnectionState: domain.ConnStateOpen,
	}}
	r, _ := newTestReconciler(t, st, &fakeGateway{})

	snap := r.Snapshot()
	snap.Record.ConnectionState = "mutated"
	require.Equal(t, domain.ConnStateOpen, r.Snapshot().Record.ConnectionState)
}
