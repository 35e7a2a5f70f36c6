package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/liveguide/pkg/audio"
	"github.com/MrWong99/liveguide/pkg/provider/live"
)

func TestSession_CallbackContract(t *testing.T) {
	t.Parallel()

	var opens, msgs, closes, errs int
	cb := live.Callbacks{
		OnOpen:    func() { opens++ },
		OnMessage: func(live.Message) { msgs++ },
		OnClose:   func(string) { closes++ },
		OnError:   func(error) { errs++ },
	}

	p := &Provider{}
	if _, err := p.Connect(context.Background(), live.Config{Model: "m"}, cb); err != nil {
		t.Fatal(err)
	}
	s := p.Last()
	s.Open()
	s.Open()
	s.Deliver(live.Message{Audio: "AAA="})
	s.Fail(errors.New("boom"))
	s.CloseRemote("late")
	s.Deliver(live.Message{Interrupted: true})

	if opens != 1 || msgs != 1 || errs != 1 || closes != 0 {
		t.Errorf("opens=%d msgs=%d errs=%d closes=%d, want 1/1/1/0", opens, msgs, errs, closes)
	}
	if got := p.Calls(); len(got) != 1 || got[0].Cfg.Model != "m" {
		t.Errorf("ConnectCalls = %+v", got)
	}
}

func TestSession_LocalCloseSuppressesCallbacks(t *testing.T) {
	t.Parallel()

	called := false
	p := &Provider{}
	sess, _ := p.Connect(context.Background(), live.Config{}, live.Callbacks{
		OnClose: func(string) { called = true },
	})
	sess.Close()
	sess.Close()

	if p.Last().CloseRemote("bye") || called {
		t.Error("remote close fired after local Close")
	}
	if p.Last().CloseCalls() != 2 {
		t.Errorf("CloseCalls = %d, want 2", p.Last().CloseCalls())
	}
	if err := sess.SendAudio(context.Background(), audio.EncodedChunk{}); !errors.Is(err, live.ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v", err)
	}
}

func TestProvider_ConnectErr(t *testing.T) {
	t.Parallel()

	want := errors.New("dial failed")
	p := &Provider{ConnectErr: want}
	if _, err := p.Connect(context.Background(), live.Config{}, live.Callbacks{}); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
	if p.Last() != nil {
		t.Error("failed Connect must not create a session")
	}
}
