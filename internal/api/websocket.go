package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quantbench/internal/domain"
	"quantbench/internal/strategy"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// WatchMessage is one frame of a status feed. Type is "status" for a
// transition and "result" for the final result, which is always the last
// frame.
type WatchMessage struct {
	Type   string                 `json:"type"`
	Event  *strategy.Event        `json:"event,omitempty"`
	Result *domain.BacktestResult `json:"result,omitempty"`
}

// watchPoll re-reads the run in case the subscriber buffer dropped its
// terminal event.
var watchPoll = 250 * time.Millisecond

// watch sends the run's current status, then every transition, then the
// final result. It returns nil once the final result is sent.
func (s *Server) watch(ctx context.Context, id string, send func(WatchMessage) error) error {
	// Subscribe before reading the current state so no transition is missed.
	subID, events := s.runs.Subscribe(64)
	defer s.runs.Unsubscribe(subID)

	res, err := s.runs.Get(ctx, id)
	if err != nil {
		return err
	}
	if res.Status.Terminal() {
		return send(WatchMessage{Type: "result", Result: res})
	}
	last := res.Status
	cur := strategy.Event{ID: res.ID, Status: res.Status, Time: time.Now().UTC()}
	if err := send(WatchMessage{Type: "status", Event: &cur}); err != nil {
		return err
	}

	ticker := time.NewTicker(watchPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return strategy.ErrShutdown
			}
			if ev.ID != id {
				continue
			}
			if ev.Status.Terminal() {
				final, err := s.runs.Get(ctx, id)
				if err != nil {
					return err
				}
				return send(WatchMessage{Type: "result", Result: final})
			}
			if ev.Status == last {
				continue
			}
			last = ev.Status
			if err := send(WatchMessage{Type: "status", Event: &ev}); err != nil {
				return err
			}
		case <-ticker.C:
			res, err := s.runs.Get(ctx, id)
			if err != nil {
				return err
			}
			if res.Status.Terminal() {
				return send(WatchMessage{Type: "result", Result: res})
			}
			if res.Status == last {
				continue
			}
			last = res.Status
			ev := strategy.Event{ID: res.ID, Status: res.Status, Time: time.Now().UTC()}
			if err := send(WatchMessage{Type: "status", Event: &ev}); err != nil {
				return err
			}
		}
	}
}

// handleWatch streams status transitions of one run over a WebSocket and
// closes it after the final result.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.runs.Get(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade the websocket", "id", id, "error", err)
		return
	}
	defer ws.Close()
	log := s.log.With("id", id)
	log.Debug("websocket client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Read pump: clients send nothing but control frames, so a read error
	// means they went away.
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// WriteControl may run concurrently with WriteJSON.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	err = s.watch(ctx, id, func(m WatchMessage) error { return sendJSON(ws, m) })
	switch {
	case err == nil:
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
			time.Now().Add(writeWait))
	case ctx.Err() != nil:
		log.Debug("websocket client disconnected")
	default:
		log.Warn("websocket watch ended", "error", err)
	}
}

func sendJSON(ws *websocket.Conn, v any) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("failed to write WebSocket JSON", "error", err)
	}
	return err
}
