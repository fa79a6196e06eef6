package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
)

// mockWebSocketConn records the messages written to it.
type mockWebSocketConn struct {
	sent []StatusEvent
}

func (m *mockWebSocketConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var ev StatusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	m.sent = append(m.sent, ev)
	return nil
}

func completeResult(id string) *pipeline.Result {
	return &pipeline.Result{
		DocumentID: id,
		Status:     model.StatusComplete,
		Record:     &model.InvoiceRecord{Verdict: model.VerdictAccepted, Category: "dental"},
	}
}

func TestStatusHub_Lifecycle(t *testing.T) {
	h := newStatusHub()
	_, _, _, ok := h.subscribe("doc")
	assert.False(t, ok)

	h.publish("doc", model.StatusReceived)
	first, events, cancel, ok := h.subscribe("doc")
	require.True(t, ok)
	defer cancel()
	assert.Equal(t, model.StatusReceived, first.Status)

	h.publish("doc", model.StatusOCR)
	h.publish("doc", model.StatusFailed) // terminal statuses come from finish
	h.finish(completeResult("doc"))
	h.publish("doc", model.StatusValidating) // ignored after the result

	var got []StatusEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, model.StatusOCR, got[0].Status)
	assert.Equal(t, "result", got[1].Type)
	assert.Equal(t, model.VerdictAccepted, got[1].Verdict)
	assert.Equal(t, "dental", got[1].Category)

	last, ok := h.current("doc")
	require.True(t, ok)
	assert.True(t, last.Terminal())

	late, ch, _, ok := h.subscribe("doc")
	require.True(t, ok)
	assert.Nil(t, ch)
	assert.True(t, late.Terminal())
}

func TestStatusHub_CancelIsIdempotent(t *testing.T) {
	h := newStatusHub()
	h.publish("doc", model.StatusReceived)
	_, _, cancel, ok := h.subscribe("doc")
	require.True(t, ok)
	cancel()
	cancel()
	h.finish(completeResult("doc"))
}

func TestStatusHub_Prune(t *testing.T) {
	h := newStatusHub()
	h.publish("running", model.StatusOCR)
	for i := range maxTrackedDocuments + 5 {
		h.finish(completeResult(fmt.Sprintf("doc-%d", i)))
	}
	h.mu.Lock()
	n := len(h.docs)
	h.mu.Unlock()
	assert.LessOrEqual(t, n, maxTrackedDocuments)
	_, ok := h.current("running")
	assert.True(t, ok, "documents in flight are never pruned")
}

func TestStreamEvents_WritesTerminalAfterDroppedEvents(t *testing.T) {
	s := newTestServer(t, Config{}, Deps{})
	s.hub.publish("doc", model.StatusReceived)
	first, events, cancel, ok := s.hub.subscribe("doc")
	require.True(t, ok)
	defer cancel()

	// Overflow the subscriber buffer so the result event is dropped.
	for range 20 {
		s.hub.publish("doc", model.StatusOCR)
	}
	s.hub.finish(completeResult("doc"))

	out := &mockWebSocketConn{}
	s.streamEvents(nil, out, "doc", first, events, make(chan struct{}))
	require.NotEmpty(t, out.sent)
	assert.Equal(t, model.StatusReceived, out.sent[0].Status)
	assert.Equal(t, "result", out.sent[len(out.sent)-1].Type)
}

func TestStatusWebSocket_StreamsUntilResult(t *testing.T) {
	s := newTestServer(t, Config{}, Deps{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	w := serve(s, uploadRequest(t, "clean.png", invoicePNG(t), map[string]string{"wait": "false"}))
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[InvoiceResponse](t, w).ID

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws?id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	var last StatusEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for !last.Terminal() {
		require.NoError(t, conn.ReadJSON(&last))
		assert.Equal(t, id, last.ID)
	}
	assert.Equal(t, model.StatusComplete, last.Status)
	assert.Equal(t, model.VerdictAccepted, last.Verdict)
	require.NotNil(t, last.Record)
}

func TestStatusWebSocket_BadRequests(t *testing.T) {
	s := newTestServer(t, Config{}, Deps{})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/v1/ws", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/v1/ws?id=unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
