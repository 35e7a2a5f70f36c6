// Package mock provides test doubles for the live package interfaces.
//
// Provider records Connect calls and hands out scriptable Sessions. A test
// drives the remote side of a Session with Open, Deliver, CloseRemote and
// Fail, and inspects what the code under test sent with Sent.
//
// Example:
//
//	p := &mock.Provider{}
//	sess, _ := p.Connect(ctx, cfg, callbacks)
//	remote := p.Last()
//	remote.Open()
//	remote.Deliver(live.Message{Audio: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/liveguide/pkg/audio"
	"github.com/MrWong99/liveguide/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// AutoOpen makes every new session fire OnOpen from a separate goroutine
	// right after Connect returns.
	AutoOpen bool

	// SendErr is copied into every new session's SendErr.
	SendErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	sessions []*Session
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Connect records the call and returns a new Session bound to cb.
func (p *Provider) Connect(ctx context.Context, cfg live.Config, cb live.Callbacks) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		err := p.ConnectErr
		p.mu.Unlock()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	s := &Session{cb: cb, SendErr: p.SendErr}
	p.sessions = append(p.sessions, s)
	autoOpen := p.AutoOpen
	p.mu.Unlock()

	if autoOpen {
		go s.Open()
	}
	return s, nil
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]ConnectCall, len(p.ConnectCalls))
	copy(cp, p.ConnectCalls)
	return cp
}

// Last returns the most recently created session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Sessions returns every session created so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]*Session, len(p.sessions))
	copy(cp, p.sessions)
	return cp
}

// Session is a scriptable mock of live.Session. Remote-side methods fire the
// callbacks synchronously on the calling goroutine and respect the callback
// contract: one terminal callback, nothing after a local Close.
type Session struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned from SendAudio.
	SendErr error

	cb         live.Callbacks
	sent       []audio.EncodedChunk
	closeCalls int
	ended      bool // terminal callback fired or closed locally
	opened     bool
}

var _ live.Session = (*Session)(nil)

// SendAudio records chunk, or returns SendErr / live.ErrSessionClosed.
func (s *Session) SendAudio(_ context.Context, chunk audio.EncodedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return live.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, chunk)
	return nil
}

// Close records the call and suppresses further callbacks.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.ended = true
	return nil
}

// Sent returns a copy of every chunk accepted by SendAudio.
func (s *Session) Sent() []audio.EncodedChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]audio.EncodedChunk, len(s.sent))
	copy(cp, s.sent)
	return cp
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Closed reports whether the session has ended for any reason.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Open fires OnOpen once. It reports false if the session already ended or
// was opened before.
func (s *Session) Open() bool {
	s.mu.Lock()
	if s.ended || s.opened {
		s.mu.Unlock()
		return false
	}
	s.opened = true
	fn := s.cb.OnOpen
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

// Deliver fires OnMessage with m unless the session has ended.
func (s *Session) Deliver(m live.Message) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	fn := s.cb.OnMessage
	s.mu.Unlock()
	if fn != nil {
		fn(m)
	}
	return true
}

// CloseRemote ends the session from the remote side with OnClose.
func (s *Session) CloseRemote(reason string) bool {
	fn, ok := s.terminate()
	if ok && fn.OnClose != nil {
		fn.OnClose(reason)
	}
	return ok
}

// Fail ends the session from the remote side with OnError.
func (s *Session) Fail(err error) bool {
	fn, ok := s.terminate()
	if ok && fn.OnError != nil {
		fn.OnError(err)
	}
	return ok
}

func (s *Session) terminate() (live.Callbacks, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return live.Callbacks{}, false
	}
	s.ended = true
	return s.cb, true
}
