package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
)

// DefaultSubjectPrefix prefixes per-session subjects: rewind.session.<id>.
const DefaultSubjectPrefix = "rewind.session"

const originHeader = "Rewind-Origin"

// Connect dials NATS with reconnect settings suited to a long-running server.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("feed: connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSBridge publishes appended events to NATS and relays events appended
// on other instances into the local hub. Each bridge stamps an origin
// header so it ignores its own messages.
type NATSBridge struct {
	conn   *nats.Conn
	hub    *Hub
	prefix string
	origin string
	logger *slog.Logger
}

// BridgeOption configures a NATSBridge.
type BridgeOption func(*NATSBridge)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) BridgeOption {
	return func(b *NATSBridge) { b.prefix = strings.TrimSuffix(prefix, ".") }
}

// WithBridgeLogger sets the bridge's logger.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *NATSBridge) { b.logger = l }
}

// NewNATSBridge creates a bridge between conn and hub.
func NewNATSBridge(conn *nats.Conn, hub *Hub, opts ...BridgeOption) *NATSBridge {
	b := &NATSBridge{
		conn:   conn,
		hub:    hub,
		prefix: DefaultSubjectPrefix,
		origin: uuid.NewString(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subject returns the NATS subject for a session.
func (b *NATSBridge) Subject(sessionID id.ID) string {
	return b.prefix + "." + sessionID.String()
}

// Publish delivers events to local subscribers and to the other instances.
func (b *NATSBridge) Publish(ctx context.Context, sessionID id.ID, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}
	_ = b.hub.Publish(ctx, sessionID, events)

	data, err := encodeMessage(sessionID, events)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(b.Subject(sessionID))
	msg.Header.Set(originHeader, b.origin)
	msg.Data = data
	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("feed: publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Serve subscribes to every session subject and relays remote events until
// ctx is cancelled. It satisfies suture.Service.
func (b *NATSBridge) Serve(ctx context.Context) error {
	sub, err := b.conn.Subscribe(b.prefix+".*", b.handle)
	if err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	b.logger.InfoContext(ctx, "nats bridge started", "subject", sub.Subject, "origin", b.origin)

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		b.logger.Warn("nats unsubscribe failed", "error", err)
	}
	return ctx.Err()
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	if msg.Header != nil && msg.Header.Get(originHeader) == b.origin {
		return
	}
	sessionID, events, err := decodeMessage(msg.Data)
	if err != nil {
		b.logger.Warn("dropping malformed feed message", "subject", msg.Subject, "error", err)
		return
	}
	_ = b.hub.Publish(context.Background(), sessionID, events)
}

type wireMessage struct {
	SessionID string            `json:"sid"`
	Events    []json.RawMessage `json:"events"`
}

func encodeMessage(sessionID id.ID, events []*event.Event) ([]byte, error) {
	w := wireMessage{SessionID: sessionID.String(), Events: make([]json.RawMessage, 0, len(events))}
	for _, e := range events {
		raw, err := event.Encode(e)
		if err != nil {
			return nil, fmt.Errorf("feed: encode event %d: %w", e.Seq, err)
		}
		w.Events = append(w.Events, raw)
	}
	return json.Marshal(w)
}

func decodeMessage(data []byte) (id.ID, []*event.Event, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return id.Nil, nil, fmt.Errorf("feed: decode message: %w", err)
	}
	sessionID, err := id.ParseSessionID(w.SessionID)
	if err != nil {
		return id.Nil, nil, fmt.Errorf("feed: decode message: %w", err)
	}
	events := make([]*event.Event, 0, len(w.Events))
	for _, raw := range w.Events {
		e, err := event.Decode(raw)
		if err != nil {
			return id.Nil, nil, err
		}
		if e.SessionID.IsNil() {
			e.SessionID = sessionID
		}
		events = append(events, e)
	}
	return sessionID, events, nil
}
