package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Viewers only send control frames.
	maxMessageSize = 512
)

// liveFrame is one message on the live tail. Backlog frames carry the
// events stored before the viewer connected; event frames carry appends
// as they are ingested.
type liveFrame struct {
	Type    string         `json:"type"`
	Events  []*event.Event `json:"events"`
	LastSeq int64          `json:"last_seq"`
}

// liveTail streams a session's appended events over a websocket. The
// subscription is taken before the backlog is read so nothing appended in
// between is missed; sequence numbers dedupe the overlap.
func (h *Handler) liveTail(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live tail is not enabled")
		return
	}
	sid, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	if _, err := h.rw.Session(r.Context(), sid); err != nil {
		writeErr(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Warn("live tail upgrade failed", "session_id", sid.String(), "error", err)
		return
	}

	sub := h.hub.Subscribe(sid)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t := &tail{
		h:       h,
		conn:    conn,
		sid:     sid,
		lastSeq: int64(queryInt(r, "since", 0)),
	}
	go t.readPump(cancel)
	t.writePump(ctx, sub.Events(), sub.Dropped)
}

type tail struct {
	h       *Handler
	conn    *websocket.Conn
	sid     id.ID
	lastSeq int64
	dropped int64
}

// readPump drains control frames so pongs are processed. It cancels the
// tail when the peer goes away.
func (t *tail) readPump(cancel context.CancelFunc) {
	defer cancel()

	t.conn.SetReadLimit(maxMessageSize)
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // best effort
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := t.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.h.logger.Debug("live tail read error", "session_id", t.sid.String(), "error", err)
			}
			return
		}
	}
}

func (t *tail) writePump(ctx context.Context, updates <-chan []*event.Event, dropped func() int64) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close() //nolint:errcheck // best effort
	}()

	if err := t.catchUp(ctx, "backlog"); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))    //nolint:errcheck // best effort
			_ = t.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck // best effort
			return

		case events, ok := <-updates:
			if !ok {
				_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))    //nolint:errcheck // best effort
				_ = t.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck // best effort
				return
			}
			// The hub dropped deliveries while this viewer lagged: reread
			// the gap from the store instead of trusting the channel.
			if d := dropped(); d != t.dropped {
				t.dropped = d
				if err := t.catchUp(ctx, "events"); err != nil {
					return
				}
				continue
			}
			if err := t.send("events", t.fresh(events)); err != nil {
				return
			}

		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // best effort
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// catchUp sends every stored event ingested after lastSeq.
func (t *tail) catchUp(ctx context.Context, frame string) error {
	events, err := t.h.rw.Events(ctx, t.sid, event.ListOpts{SinceSeq: t.lastSeq})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			t.h.logger.Error("live tail catch-up failed", "session_id", t.sid.String(), "error", err)
		}
		return err
	}
	if frame == "backlog" {
		return t.send(frame, t.fresh(events))
	}
	if fresh := t.fresh(events); len(fresh) > 0 {
		return t.send(frame, fresh)
	}
	return nil
}

// fresh filters out events the viewer already received.
func (t *tail) fresh(events []*event.Event) []*event.Event {
	out := make([]*event.Event, 0, len(events))
	for _, e := range events {
		if e.Seq > t.lastSeq {
			out = append(out, e)
		}
	}
	return out
}

func (t *tail) send(frame string, events []*event.Event) error {
	if len(events) == 0 && frame != "backlog" {
		return nil
	}
	for _, e := range events {
		if e.Seq > t.lastSeq {
			t.lastSeq = e.Seq
		}
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // best effort
	if err := t.conn.WriteJSON(liveFrame{Type: frame, Events: events, LastSeq: t.lastSeq}); err != nil {
		t.h.logger.Debug("live tail write failed", "session_id", t.sid.String(), "error", err)
		return err
	}
	return nil
}
