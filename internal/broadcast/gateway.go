package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"batterywatch/internal/telemetry"
)

// Subscription is one consumer's bounded event queue. When the queue is
// full the oldest frame is dropped in favour of the newest, so a slow
// consumer only ever sees staleness, never causes backpressure.
type Subscription struct {
	id        uint64
	batteryID string // empty subscribes the fleet-wide stats channel
	ch        chan Event
	dropped   atomic.Int64
}

// Events is the receive side of the subscription queue.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped reports how many frames were discarded for this subscriber.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Gateway fans events out to per-battery subscription groups without ever
// blocking the producing component.
type Gateway struct {
	queueSize int
	logger    zerolog.Logger

	mu     sync.RWMutex
	nextID uint64
	// batteryID -> subscription set; "" holds stats subscribers
	groups map[string]map[uint64]*Subscription
}

// NewGateway constructs a Gateway with the given per-subscriber queue size.
func NewGateway(queueSize int, logger zerolog.Logger) *Gateway {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Gateway{
		queueSize: queueSize,
		logger:    logger.With().Str("component", "broadcast").Logger(),
		groups:    make(map[string]map[uint64]*Subscription),
	}
}

// Subscribe registers a consumer for one battery's events.
func (g *Gateway) Subscribe(batteryID string) *Subscription {
	return g.subscribe(batteryID)
}

// SubscribeStats registers a consumer for fleet-wide stats events.
func (g *Gateway) SubscribeStats() *Subscription {
	return g.subscribe("")
}

func (g *Gateway) subscribe(batteryID string) *Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextID++
	sub := &Subscription{
		id:        g.nextID,
		batteryID: batteryID,
		ch:        make(chan Event, g.queueSize),
	}
	group, ok := g.groups[batteryID]
	if !ok {
		group = make(map[uint64]*Subscription)
		g.groups[batteryID] = group
	}
	group[sub.id] = sub
	return sub
}

// Unsubscribe removes a consumer and closes its queue.
func (g *Gateway) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	group, ok := g.groups[sub.batteryID]
	if !ok {
		return
	}
	if _, ok := group[sub.id]; !ok {
		return
	}
	delete(group, sub.id)
	if len(group) == 0 {
		delete(g.groups, sub.batteryID)
	}
	close(sub.ch)
}

// PublishTelemetry fans a sample out to its battery's subscribers.
func (g *Gateway) PublishTelemetry(s telemetry.Sample) {
	g.publish(Event{Kind: KindTelemetry, BatteryID: s.BatteryID, At: s.Timestamp, Sample: &s})
}

// PublishPrediction fans a prediction out to its battery's subscribers.
func (g *Gateway) PublishPrediction(p telemetry.Prediction) {
	g.publish(Event{Kind: KindPrediction, BatteryID: p.BatteryID, At: p.CreatedAt, Prediction: &p})
}

// PublishAlert fans an alert event out to its battery's subscribers.
func (g *Gateway) PublishAlert(a telemetry.Alert) {
	g.publish(Event{Kind: KindAlert, BatteryID: a.BatteryID, At: a.UpdatedAt, Alert: &a})
}

// PublishStats fans aggregate stats out to the global stats channel.
func (g *Gateway) PublishStats(st FleetStats) {
	g.publish(Event{Kind: KindStats, At: st.At, Stats: &st})
}

func (g *Gateway) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := ev.validate(); err != nil {
		g.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("rejected malformed event at publish boundary")
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, sub := range g.groups[ev.BatteryID] {
		g.offer(sub, ev)
	}
	// alerts and predictions are also of fleet-wide interest
	if ev.BatteryID != "" && ev.Kind == KindAlert {
		for _, sub := range g.groups[""] {
			g.offer(sub, ev)
		}
	}
}

// offer enqueues without blocking, evicting the oldest queued frame when
// the subscriber is full.
func (g *Gateway) offer(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}

	select {
	case sub.ch <- ev:
	default:
		sub.dropped.Add(1)
	}
}
