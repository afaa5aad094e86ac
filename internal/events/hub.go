// Package events is the typed publish/subscribe channel between the lifecycle
// coordinator and live-update clients. Delivery is best-effort: a subscriber whose
// buffer is full misses events and is expected to re-fetch.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultBuffer = 32

// Subscription receives the events of one company until closed.
type Subscription struct {
	C <-chan domain.Event

	ch        chan domain.Event
	companyID int64
	hub       *Hub
	once      sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub fans events out to in-process subscribers, scoped by company.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int64]map[*Subscription]struct{}
	buffer  int
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewHub creates a hub. buffer <= 0 uses the default per-subscriber buffer.
func NewHub(buffer int, metrics *observability.Metrics, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:    make(map[int64]map[*Subscription]struct{}),
		buffer:  buffer,
		metrics: metrics,
		logger:  logger,
	}
}

// Subscribe registers a subscriber for a company's events.
func (h *Hub) Subscribe(companyID int64) *Subscription {
	ch := make(chan domain.Event, h.buffer)
	s := &Subscription{C: ch, ch: ch, companyID: companyID, hub: h}

	h.mu.Lock()
	if h.subs[companyID] == nil {
		h.subs[companyID] = make(map[*Subscription]struct{})
	}
	h.subs[companyID][s] = struct{}{}
	h.mu.Unlock()

	h.metrics.AddSubscribers(1)
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	if group, ok := h.subs[s.companyID]; ok {
		delete(group, s)
		if len(group) == 0 {
			delete(h.subs, s.companyID)
		}
	}
	close(s.ch)
	h.mu.Unlock()

	h.metrics.AddSubscribers(-1)
}

// Publish stamps the event and delivers it to local subscribers.
// Implements port.EventPublisher.
func (h *Hub) Publish(_ context.Context, ev domain.Event) {
	h.Deliver(Stamp(ev))
}

// Deliver hands an already stamped event to the company's subscribers without
// blocking, or to every subscriber when CompanyID is domain.AllCompanies.
// Returns how many subscribers received it.
func (h *Hub) Deliver(ev domain.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if ev.CompanyID != domain.AllCompanies {
		return h.deliverTo(h.subs[ev.CompanyID], ev)
	}
	delivered := 0
	for _, group := range h.subs {
		delivered += h.deliverTo(group, ev)
	}
	return delivered
}

func (h *Hub) deliverTo(group map[*Subscription]struct{}, ev domain.Event) int {
	delivered := 0
	for s := range group {
		select {
		case s.ch <- ev:
			delivered++
		default:
			h.logger.Warn("live update dropped, subscriber buffer full",
				zap.Int64("company_id", s.companyID),
				zap.String("event_type", string(ev.Type)),
			)
		}
	}
	return delivered
}

// Subscribers returns the number of open subscriptions for a company.
func (h *Hub) Subscribers(companyID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[companyID])
}

// Stamp fills in the id and timestamp if missing.
func Stamp(ev domain.Event) domain.Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return ev
}
