package relay

import (
	"context"
	"errors"
	"time"

	"github.com/CCasusensa/ArtaleBroadcast/internal/delivery"
	"github.com/CCasusensa/ArtaleBroadcast/internal/eventbus"
	"github.com/CCasusensa/ArtaleBroadcast/internal/profile"
	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

// Profiles resolves a profile code to an optional profile.
type Profiles interface {
	Get(ctx context.Context, id string) (profile.Profile, bool)
}

// Enqueuer accepts payloads for delivery.
type Enqueuer interface {
	Enqueue(p delivery.Payload)
}

// Handler validates, enriches and enqueues inbound events.
type Handler struct {
	profiles Profiles
	out      Enqueuer
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time
}

// ReceivedEvent is published for every accepted message.
type ReceivedEvent struct {
	ProfileCode string `json:"profile_code"`
	Channel     string `json:"channel,omitempty"`
	Enriched    bool   `json:"enriched"`
}

// DroppedEvent is published for every discarded message.
type DroppedEvent struct {
	Reason string `json:"reason"` // invalid_json | missing_field
}

const (
	DropInvalidJSON  = "invalid_json"
	DropMissingField = "missing_field"
)

// NewHandler wires a handler. profiles may be nil (no enrichment).
func NewHandler(profiles Profiles, out Enqueuer, log logx.Logger, bus eventbus.Bus) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{profiles: profiles, out: out, log: log, bus: bus, now: time.Now}
}

// Handle processes one raw message. It returns the reason the message was
// discarded, or nil when a payload was enqueued. Callers only log the error.
func (h *Handler) Handle(ctx context.Context, raw []byte) error {
	ev, err := Parse(raw)
	if err != nil {
		h.log.Warn("discarding unparseable message", logx.Int("bytes", len(raw)), logx.Err(err))
		eventbus.Publish(h.bus, eventbus.RelayDropped, DroppedEvent{Reason: DropInvalidJSON})
		return err
	}
	if err := ev.Validate(); err != nil {
		// Silent drop: streams routinely carry non-chat frames.
		h.log.Trace("discarding message", logx.Err(err))
		eventbus.Publish(h.bus, eventbus.RelayDropped, DroppedEvent{Reason: DropMissingField})
		return err
	}

	var avatar string
	enriched := false
	if h.profiles != nil {
		if p, ok := h.profiles.Get(ctx, string(ev.ProfileCode)); ok {
			avatar = p.ImageURL
			enriched = true
		}
	}

	h.out.Enqueue(ev.Payload(avatar, h.now()))
	eventbus.Publish(h.bus, eventbus.RelayReceived, ReceivedEvent{
		ProfileCode: string(ev.ProfileCode),
		Channel:     string(ev.Channel),
		Enriched:    enriched,
	})
	return nil
}

// IsDiscard reports whether err came from Handle rejecting a message.
func IsDiscard(err error) bool {
	return errors.Is(err, ErrInvalidJSON) || errors.Is(err, ErrMissingRequired)
}
