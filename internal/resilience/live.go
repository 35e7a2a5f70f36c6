package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/liveguide/pkg/audio"
	"github.com/MrWong99/liveguide/pkg/provider/live"
)

// Provider is a [live.Provider] guarded by a [CircuitBreaker].
type Provider struct {
	inner   live.Provider
	breaker *CircuitBreaker
}

var _ live.Provider = (*Provider)(nil)

// GuardProvider wraps p. An empty cfg.Name defaults to p.Name().
func GuardProvider(p live.Provider, cfg CircuitBreakerConfig) *Provider {
	if cfg.Name == "" {
		cfg.Name = p.Name()
	}
	return &Provider{inner: p, breaker: NewCircuitBreaker(cfg)}
}

// Name returns the wrapped provider's name.
func (p *Provider) Name() string { return p.inner.Name() }

// Breaker exposes the breaker for status reporting.
func (p *Provider) Breaker() *CircuitBreaker { return p.breaker }

// Connect dials through the breaker. The attempt is settled when the remote
// side opens, fails, or the session is closed locally.
func (p *Provider) Connect(ctx context.Context, cfg live.Config, cb live.Callbacks) (live.Session, error) {
	finish, err := p.breaker.Begin()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.inner.Name(), err)
	}

	wrapped := live.Callbacks{
		OnOpen: func() {
			finish(nil)
			if cb.OnOpen != nil {
				cb.OnOpen()
			}
		},
		OnMessage: cb.OnMessage,
		OnClose: func(reason string) {
			finish(fmt.Errorf("remote closed before open: %s", reason))
			if cb.OnClose != nil {
				cb.OnClose(reason)
			}
		},
		OnError: func(err error) {
			finish(err)
			if cb.OnError != nil {
				cb.OnError(err)
			}
		},
	}

	s, err := p.inner.Connect(ctx, cfg, wrapped)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			finish(context.Canceled)
		} else {
			finish(err)
		}
		return nil, err
	}
	return &session{inner: s, finish: finish}, nil
}

// session settles a pending attempt as neutral when closed locally.
type session struct {
	inner  live.Session
	finish func(error)
	once   sync.Once
}

func (s *session) SendAudio(ctx context.Context, chunk audio.EncodedChunk) error {
	return s.inner.SendAudio(ctx, chunk)
}

func (s *session) Close() error {
	s.once.Do(func() { s.finish(context.Canceled) })
	return s.inner.Close()
}
