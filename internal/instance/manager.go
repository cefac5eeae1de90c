package instance

import (
	"sync"

	"github.com/talkincode/evopanel/internal/feed"
	"go.uber.org/zap"
)

// BusFeed adapts the feed bus to the ChangeFeed interface.
type BusFeed struct {
	bus *feed.Bus
}

func NewBusFeed(bus *feed.Bus) BusFeed {
	return BusFeed{bus: bus}
}

func (f BusFeed) Subscribe(ownerID string, handler func(feed.Event)) (Subscription, error) {
	return f.bus.Subscribe(ownerID, handler)
}

// Manager holds at most one live reconciler per owner. The console
// process never needs more: an owner maps to exactly one instance row.
type Manager struct {
	store StoreReader
	gw    ActionGateway
	cf    ChangeFeed

	mu   sync.Mutex
	recs map[string]*Reconciler
}

func NewManager(store StoreReader, gw ActionGateway, cf ChangeFeed) *Manager {
	return &Manager{store: store, gw: gw, cf: cf, recs: make(map[string]*Reconciler)}
}

// Get returns the owner's reconciler, activating one on first use.
func (m *Manager) Get(ownerID string) (*Reconciler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recs[ownerID]; ok {
		return r, nil
	}
	r, err := Activate(ownerID, m.store, m.gw, m.cf)
	if err != nil {
		return nil, err
	}
	m.recs[ownerID] = r
	return r, nil
}

// Release tears down and forgets the owner's reconciler.
func (m *Manager) Release(ownerID string) {
	m.mu.Lock()
	r, ok := m.recs[ownerID]
	delete(m.recs, ownerID)
	m.mu.Unlock()
	if ok {
		if err := r.Close(); err != nil {
			zap.L().Warn("reconciler close failed", zap.String("owner_id", ownerID), zap.Error(err))
		}
	}
}

// Close releases every live reconciler.
func (m *Manager) Close() {
	m.mu.Lock()
	recs := m.recs
	m.recs = make(map[string]*Reconciler)
	m.mu.Unlock()
	for ownerID, r := range recs {
		if err := r.Close(); err != nil {
			zap.L().Warn("reconciler close failed", zap.String("owner_id", ownerID), zap.Error(err))
		}
	}
}
