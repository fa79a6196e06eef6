package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second

	// maxTrackedDocuments bounds the finished documents kept for late
	// subscribers.
	maxTrackedDocuments = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StatusEvent is one message on the status stream.
type StatusEvent struct {
	Type     string            `json:"type"`
	ID       string            `json:"id"`
	Status   model.Status      `json:"status"`
	Verdict  model.Verdict     `json:"verdict,omitempty"`
	Category string            `json:"category,omitempty"`
	Record   *model.FlatRecord `json:"record,omitempty"`
	Failure  *model.Failure    `json:"failure,omitempty"`
}

// Terminal reports whether no further events follow.
func (e StatusEvent) Terminal() bool {
	return e.Type == "result"
}

type docStream struct {
	last StatusEvent
	subs map[chan StatusEvent]struct{}
	done time.Time
}

// statusHub fans document status events out to websocket subscribers.
type statusHub struct {
	mu   sync.Mutex
	docs map[string]*docStream
}

func newStatusHub() *statusHub {
	return &statusHub{docs: make(map[string]*docStream)}
}

// publish records a status transition. It matches pipeline.StatusFunc.
// Terminal transitions are reported by finish, which carries the result.
func (h *statusHub) publish(id string, status model.Status) {
	if status.Terminal() {
		return
	}
	h.send(StatusEvent{Type: "status", ID: id, Status: status})
}

// finish publishes the final event of a document.
func (h *statusHub) finish(res *pipeline.Result) {
	out := res.Output()
	ev := StatusEvent{Type: "result", ID: res.DocumentID, Status: out.Status, Record: out.Record, Failure: out.Failure}
	if out.Record != nil {
		ev.Verdict = out.Record.Verdict
		ev.Category = out.Record.Category
	}
	h.send(ev)
}

func (h *statusHub) send(ev StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ds, ok := h.docs[ev.ID]
	if !ok {
		ds = &docStream{subs: make(map[chan StatusEvent]struct{})}
		h.docs[ev.ID] = ds
	}
	if ds.last.Terminal() {
		return
	}
	ds.last = ev
	for ch := range ds.subs {
		select {
		case ch <- ev:
		default:
			// A slow subscriber loses intermediate events but still sees the
			// latest state on its next read.
		}
	}
	if ev.Terminal() {
		ds.done = time.Now()
		for ch := range ds.subs {
			close(ch)
		}
		ds.subs = nil
		h.prune()
	}
}

// prune drops the oldest finished documents beyond maxTrackedDocuments.
func (h *statusHub) prune() {
	if len(h.docs) <= maxTrackedDocuments {
		return
	}
	var oldestID string
	var oldest time.Time
	for len(h.docs) > maxTrackedDocuments {
		oldestID = ""
		for id, ds := range h.docs {
			if ds.done.IsZero() {
				continue
			}
			if oldestID == "" || ds.done.Before(oldest) {
				oldestID, oldest = id, ds.done
			}
		}
		if oldestID == "" {
			return
		}
		delete(h.docs, oldestID)
	}
}

// current returns the latest event of a document.
func (h *statusHub) current(id string) (StatusEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ds, ok := h.docs[id]
	if !ok {
		return StatusEvent{}, false
	}
	return ds.last, true
}

// subscribe returns the latest event and a channel of the following ones.
// The channel is nil when the document already finished, and closed after
// its terminal event.
func (h *statusHub) subscribe(id string) (StatusEvent, <-chan StatusEvent, func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ds, ok := h.docs[id]
	if !ok {
		return StatusEvent{}, nil, func() {}, false
	}
	if ds.last.Terminal() {
		return ds.last, nil, func() {}, true
	}
	ch := make(chan StatusEvent, 8)
	ds.subs[ch] = struct{}{}
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := ds.subs[ch]; ok {
			delete(ds.subs, ch)
			close(ch)
		}
	}
	return ds.last, ch, cancel, true
}

// WebSocketConnWriter is the write side of a websocket connection.
type WebSocketConnWriter interface {
	WriteJSON(v any) error
}

// statusWebSocketHandler streams the status of document ?id= until it
// reaches a terminal state.
func (s *Server) statusWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_id", "query parameter id is required")
		return
	}
	first, events, cancel, ok := s.hub.subscribe(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown document")
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	s.metrics.wsConnections.Inc()
	defer s.metrics.wsConnections.Dec()
	slog.Debug("WebSocket connection established", "remote_addr", r.RemoteAddr, "document", id)

	// Drain client frames so pongs and close messages are processed.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			s.metrics.wsMessagesTotal.WithLabelValues("received").Inc()
		}
	}()

	s.streamEvents(conn, conn, id, first, events, closed)

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(wsWriteWait))
}

// streamEvents writes first and then every event until the stream ends or
// the client goes away. The terminal event is always written, even when a
// full buffer dropped it from the channel. conn may be nil when out is not a
// network connection.
func (s *Server) streamEvents(conn *websocket.Conn, out WebSocketConnWriter, id string, first StatusEvent,
	events <-chan StatusEvent, closed <-chan struct{},
) {
	write := func(ev StatusEvent) bool {
		if conn != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		}
		if err := out.WriteJSON(ev); err != nil {
			return false
		}
		s.metrics.wsMessagesTotal.WithLabelValues("sent").Inc()
		return true
	}

	if !write(first) || events == nil {
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if last, found := s.hub.current(id); found && last.Terminal() {
					write(last)
				}
				return
			}
			if ev.Terminal() {
				write(ev)
				return
			}
			if !write(ev) {
				return
			}
		case <-ticker.C:
			if conn != nil {
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		case <-closed:
			return
		}
	}
}
