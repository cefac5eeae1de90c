// Package feed delivers row-level change events for instance records.
// Publishers (the instance store, the bridge callback endpoint) emit
// full-row snapshots in commit order; subscribers receive them on a
// per-owner topic. Delivery is synchronous with Publish so the commit
// order is preserved end to end.
package feed

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/talkincode/evopanel/internal/domain"
)

// Type tags a change event.
type Type string

const (
	Upsert Type = "upsert"
	Delete Type = "delete"
)

// Event is one row-level change. Record is a full-row snapshot for
// upserts and nil for deletes.
type Event struct {
	Type    Type
	OwnerID string
	Record  *domain.WaInstance
}

// Bus fans change events out to per-owner subscribers.
type Bus struct {
	bus evbus.Bus
}

func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

func topic(ownerID string) string {
	return "instance.change." + ownerID
}

// Publish delivers an event to all subscribers of the owner topic.
// Handlers run synchronously, so callers observe commit order.
func (b *Bus) Publish(evt Event) {
	b.bus.Publish(topic(evt.OwnerID), evt)
}

// Subscribe registers a handler for one owner's change stream and
// returns a handle whose Close is the single teardown path.
func (b *Bus) Subscribe(ownerID string, handler func(Event)) (*Subscription, error) {
	if err := b.bus.Subscribe(topic(ownerID), handler); err != nil {
		return nil, err
	}
	return &Subscription{bus: b.bus, topic: topic(ownerID), handler: handler}, nil
}

// Subscription is a scoped feed registration. Close is idempotent.
type Subscription struct {
	bus     evbus.Bus
	topic   string
	handler func(Event)
	once    sync.Once
}

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.bus.Unsubscribe(s.topic, s.handler)
	})
	return err
}
