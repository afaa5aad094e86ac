package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const subjectPrefix = "esim.events."

// envelope carries the publishing instance so it can skip its own echo.
type envelope struct {
	Origin string       `json:"origin"`
	Event  domain.Event `json:"event"`
}

// NATSBridge fans events out across instances. Local subscribers are served
// directly; remote instances receive the event through NATS.
type NATSBridge struct {
	nc     *nats.Conn
	hub    *Hub
	origin string
	logger *zap.Logger
}

// NewNATSBridge creates a bridge over an established connection.
func NewNATSBridge(nc *nats.Conn, hub *Hub, logger *zap.Logger) *NATSBridge {
	return &NATSBridge{nc: nc, hub: hub, origin: uuid.NewString(), logger: logger}
}

// Subject returns the NATS subject for a company's events.
func Subject(companyID int64) string {
	return fmt.Sprintf("%s%d", subjectPrefix, companyID)
}

// Publish delivers locally and forwards to NATS. Implements port.EventPublisher.
func (b *NATSBridge) Publish(_ context.Context, ev domain.Event) {
	ev = Stamp(ev)
	b.hub.Deliver(ev)

	data, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		b.logger.Error("nats: failed to encode event", zap.Error(err))
		return
	}
	if err := b.nc.Publish(Subject(ev.CompanyID), data); err != nil {
		b.logger.Warn("nats: publish failed, remote instances will miss this event",
			zap.String("event_type", string(ev.Type)),
			zap.Int64("company_id", ev.CompanyID),
			zap.Error(err),
		)
	}
}

// Start subscribes to every company's subject and blocks until ctx is done.
func (b *NATSBridge) Start(ctx context.Context) error {
	sub, err := b.nc.Subscribe(subjectPrefix+"*", b.handle)
	if err != nil {
		return fmt.Errorf("subscribe live updates: %w", err)
	}
	b.logger.Info("nats live-update bridge started", zap.String("subject", sub.Subject))

	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil {
		b.logger.Warn("nats: unsubscribe failed", zap.Error(err))
	}
	return ctx.Err()
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn("nats: dropping malformed event",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.hub.Deliver(env.Event)
}
