package genailive_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/liveguide/pkg/audio"
	"github.com/MrWong99/liveguide/pkg/provider/live"
	"github.com/MrWong99/liveguide/pkg/provider/live/genailive"
)

// fakeServer accepts one Live session and hands the connection to script.
func fakeServer(t *testing.T, script func(ctx context.Context, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "BidiGenerateContent") {
			http.NotFound(w, r)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.SetReadLimit(1 << 20)
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		script(ctx, conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func send(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

type events struct {
	mu       sync.Mutex
	opens    int
	messages []live.Message
	closes   []string
	errs     []error
	done     chan struct{}
	once     sync.Once
}

func newEvents() *events { return &events{done: make(chan struct{})} }

func (e *events) callbacks() live.Callbacks {
	end := func() { e.once.Do(func() { close(e.done) }) }
	return live.Callbacks{
		OnOpen: func() {
			e.mu.Lock()
			e.opens++
			e.mu.Unlock()
		},
		OnMessage: func(m live.Message) {
			e.mu.Lock()
			e.messages = append(e.messages, m)
			e.mu.Unlock()
		},
		OnClose: func(reason string) {
			e.mu.Lock()
			e.closes = append(e.closes, reason)
			e.mu.Unlock()
			end()
		},
		OnError: func(err error) {
			e.mu.Lock()
			e.errs = append(e.errs, err)
			e.mu.Unlock()
			end()
		},
	}
}

func TestSession_RoundTrip(t *testing.T) {
	chunk := audio.EncodedChunk{Seq: 1, MIMEType: audio.PCMMIMEType(audio.InputFormat), Data: "AAABAAIA"}
	setup := make(chan string, 1)
	input := make(chan string, 1)

	srv := fakeServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		setup <- string(data)
		if send(ctx, conn, map[string]any{"setupComplete": map[string]any{}}) != nil {
			return
		}
		_, data, err = conn.Read(ctx)
		if err != nil {
			return
		}
		input <- string(data)

		_ = send(ctx, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		_ = send(ctx, conn, map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAABAA=="}},
				map[string]any{"text": "not audio"},
			}},
			"turnComplete": true,
		}})
		conn.Close(websocket.StatusNormalClosure, "done")
	})

	ev := newEvents()
	p := genailive.New("test-key", genailive.WithBaseURL("ws"+strings.TrimPrefix(srv.URL, "http")))
	sess, err := p.Connect(t.Context(), live.Config{
		Modality:     live.ModalityAudio,
		Voice:        "Puck",
		Instructions: "Answer briefly.",
	}, ev.callbacks())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case raw := <-setup:
		for _, want := range []string{genailive.DefaultModel, "Puck", "Answer briefly.", "AUDIO"} {
			if !strings.Contains(raw, want) {
				t.Errorf("setup message missing %q: %s", want, raw)
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no setup message")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		ev.mu.Lock()
		opened := ev.opens > 0
		ev.mu.Unlock()
		if opened {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("OnOpen not called")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := sess.SendAudio(t.Context(), chunk); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case raw := <-input:
		if !strings.Contains(raw, "realtimeInput") || !strings.Contains(raw, chunk.Data) {
			t.Errorf("realtime input = %s", raw)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no realtime input")
	}

	select {
	case <-ev.done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end")
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.opens != 1 {
		t.Errorf("opens = %d, want 1", ev.opens)
	}
	if n := len(ev.closes) + len(ev.errs); n != 1 {
		t.Errorf("terminal callbacks = %d, want exactly 1", n)
	}
	want := []live.Message{
		{Interrupted: true},
		{Audio: "AAABAA==", MIMEType: "audio/pcm;rate=24000"},
		{TurnComplete: true},
	}
	if len(ev.messages) != len(want) {
		t.Fatalf("messages = %+v, want %+v", ev.messages, want)
	}
	for i := range want {
		if ev.messages[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, ev.messages[i], want[i])
		}
	}
}

func TestSession_CloseSuppressesCallbacks(t *testing.T) {
	release := make(chan struct{})
	srv := fakeServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		<-release
		conn.Close(websocket.StatusNormalClosure, "late")
	})
	defer close(release)

	ev := newEvents()
	p := genailive.New("test-key", genailive.WithBaseURL("ws"+strings.TrimPrefix(srv.URL, "http")))
	sess, err := p.Connect(t.Context(), live.Config{}, ev.callbacks())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.SendAudio(t.Context(), audio.EncodedChunk{Data: "AAAA"}); !errors.Is(err, live.ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}

	time.Sleep(50 * time.Millisecond)
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.closes)+len(ev.errs) != 0 {
		t.Errorf("terminal callbacks after local Close: closes=%v errs=%v", ev.closes, ev.errs)
	}
}

func TestSession_RejectsMalformedChunk(t *testing.T) {
	srv := fakeServer(t, func(ctx context.Context, conn *websocket.Conn) {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})
	p := genailive.New("test-key", genailive.WithBaseURL("ws"+strings.TrimPrefix(srv.URL, "http")))
	sess, err := p.Connect(t.Context(), live.Config{}, live.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if err := sess.SendAudio(t.Context(), audio.EncodedChunk{Seq: 7, Data: "not base64!"}); err == nil {
		t.Error("expected an error for a malformed chunk")
	}
}

func TestConnect_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p := genailive.New("test-key", genailive.WithBaseURL("ws"+strings.TrimPrefix(srv.URL, "http")))
	if _, err := p.Connect(t.Context(), live.Config{}, live.Callbacks{}); err == nil {
		t.Fatal("expected a dial error")
	}
}
