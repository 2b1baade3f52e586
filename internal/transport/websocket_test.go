package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rrens/vault-chat/internal/config"
	"github.com/Rrens/vault-chat/internal/domain"
	"github.com/Rrens/vault-chat/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// backend upgrades the connection, hands the received request frame to
// script, and closes the socket when script returns.
func backend(t *testing.T, script func(conn *websocket.Conn, frame domain.RequestFrame)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var frame domain.RequestFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		script(conn, frame)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialerFor(srv *httptest.Server) *transport.Dialer {
	return transport.NewDialer(config.BackendConfig{
		WSURL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		HandshakeTimeout: 2 * time.Second,
		ReadLimit:        1 << 20,
	})
}

func collect(t *testing.T, stream domain.Stream) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events")
			return events
		}
	}
}

func send(conn *websocket.Conn, frames ...string) {
	for _, f := range frames {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
	}
}

func TestOpen_SendsRequestFrameAndStreamsInOrder(t *testing.T) {
	received := make(chan domain.RequestFrame, 1)
	srv := backend(t, func(conn *websocket.Conn, frame domain.RequestFrame) {
		received <- frame
		send(conn,
			`{"type":"token","data":"<think>"}`,
			`{"type":"token","data":"hmm"}`,
			`{"type":"sources","data":[{"file":"doc.pdf","page":3}]}`,
			`{"type":"token","data":"</think>Hi"}`,
			`{"type":"done"}`,
		)
		// wait for the client to hang up
		conn.ReadMessage()
	})

	file := "notes.pdf"
	stream, err := dialerFor(srv).Open(context.Background(), domain.RequestFrame{
		SessionID: 7,
		Query:     "how is bed 4?",
		Folder:    "ward",
		File:      &file,
		Persona:   "Clinical",
	})
	require.NoError(t, err)
	defer stream.Close()
	assert.NotEmpty(t, stream.ID())

	events := collect(t, stream)
	page := 3
	assert.Equal(t, []domain.StreamEvent{
		domain.TokenEvent{Text: "<think>"},
		domain.TokenEvent{Text: "hmm"},
		domain.SourcesEvent{Sources: []domain.Source{{File: "doc.pdf", Page: &page}}},
		domain.TokenEvent{Text: "</think>Hi"},
		domain.DoneEvent{},
	}, events)

	frame := <-received
	assert.Equal(t, int64(7), frame.SessionID)
	assert.Equal(t, "how is bed 4?", frame.Query)
	assert.Equal(t, "ward", frame.Folder)
	require.NotNil(t, frame.File)
	assert.Equal(t, "notes.pdf", *frame.File)
	assert.Equal(t, "Clinical", frame.Persona)
}

func TestOpen_NullFileOnTheWire(t *testing.T) {
	raw := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m map[string]any
		_ = json.Unmarshal(msg, &m)
		raw <- m
		send(conn, `{"type":"done"}`)
		conn.ReadMessage()
	}))
	defer srv.Close()

	stream, err := dialerFor(srv).Open(context.Background(), domain.RequestFrame{SessionID: 1, Query: "q", Persona: "Vault"})
	require.NoError(t, err)
	defer stream.Close()
	collect(t, stream)

	m := <-raw
	v, ok := m["file"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, float64(1), m["session_id"])
}

func TestOpen_UnknownFrameIsMalformed(t *testing.T) {
	srv := backend(t, func(conn *websocket.Conn, _ domain.RequestFrame) {
		send(conn, `{"type":"token","data":"a"}`, `{"type":"telemetry","data":{}}`, `{"type":"token","data":"b"}`)
		conn.ReadMessage()
	})

	stream, err := dialerFor(srv).Open(context.Background(), domain.RequestFrame{SessionID: 1})
	require.NoError(t, err)

	events := collect(t, stream)
	require.Len(t, events, 2)
	assert.Equal(t, domain.TokenEvent{Text: "a"}, events[0])

	errEv, ok := events[1].(domain.ErrorEvent)
	require.True(t, ok)
	assert.True(t, errors.Is(errEv.Err, domain.ErrMalformedFrame))

	var terr *domain.TransportError
	assert.True(t, errors.As(errEv.Err, &terr))
}

func TestOpen_BadTokenPayloadIsMalformed(t *testing.T) {
	srv := backend(t, func(conn *websocket.Conn, _ domain.RequestFrame) {
		send(conn, `{"type":"token","data":42}`)
		conn.ReadMessage()
	})

	stream, err := dialerFor(srv).Open(context.Background(), domain.RequestFrame{SessionID: 1})
	require.NoError(t, err)

	events := collect(t, stream)
	require.Len(t, events, 1)
	assert.True(t, errors.Is(events[0].(domain.ErrorEvent).Err, domain.ErrMalformedFrame))
}

func TestOpen_AbruptCloseIsConnectionLost(t *testing.T) {
	srv := backend(t, func(conn *websocket.Conn, _ domain.RequestFrame) {
		send(conn, `{"type":"token","data":"partial"}`)
		// returning closes the socket without a done frame
	})

	stream, err := dialerFor(srv).Open(context.Background(), domain.RequestFrame{SessionID: 1})
	require.NoError(t, err)

	events := collect(t, stream)
	require.Len(t, events, 2)
	assert.Equal(t, domain.TokenEvent{Text: "partial"}, events[0])
	assert.True(t, errors.Is(events[1].(domain.ErrorEvent).Err, domain.ErrConnectionLost))
}

func TestOpen_BackendErrorFrame(t *testing.T) {
	srv := backend(t, func(conn *websocket.Conn, _ domain.RequestFrame) {
		send(conn, `{"type":"error","data":"model not loaded"}`)
		conn.ReadMessage()
	})

	stream, err := dialerFor(srv).Open(context.Background(), domain.RequestFrame{SessionID: 1})
	require.NoError(t, err)

	events := collect(t, stream)
	require.Len(t, events, 1)
	var berr *domain.BackendError
	require.True(t, errors.As(events[0].(domain.ErrorEvent).Err, &berr))
	assert.Equal(t, "model not loaded", berr.Reason)
}

func TestHandle_CloseStopsDelivery(t *testing.T) {
	release := make(chan struct{})
	srv := backend(t, func(conn *websocket.Conn, _ domain.RequestFrame) {
		send(conn, `{"type":"token","data":"first"}`)
		<-release
		send(conn, `{"type":"token","data":"late"}`, `{"type":"done"}`)
	})
	defer close(release)

	stream, err := dialerFor(srv).Open(context.Background(), domain.RequestFrame{SessionID: 1})
	require.NoError(t, err)

	first := <-stream.Events()
	assert.Equal(t, domain.TokenEvent{Text: "first"}, first)

	require.NoError(t, stream.Close())
	assert.NotPanics(t, func() { stream.Close() })

	// the channel closes without a synthetic error event
	assert.Empty(t, collect(t, stream))
}

func TestOpen_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := dialerFor(srv).Open(context.Background(), domain.RequestFrame{SessionID: 1})
	require.Error(t, err)

	var terr *domain.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "dial", terr.Op)
}
