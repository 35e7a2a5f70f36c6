// Package genailive implements [live.Provider] on top of the official Google
// Gen AI SDK's Live client.
//
// It speaks the same BidiGenerateContent protocol as the gemini package but
// leaves framing, authentication and endpoint selection to the SDK. Inbound
// audio arrives decoded from the SDK and is re-encoded to base64 so that the
// playback path sees the same [live.Message] shape from every provider.
package genailive

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/liveguide/pkg/audio"
	"github.com/MrWong99/liveguide/pkg/provider/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

// Name is the registry name of this provider.
const Name = "genai-live"

const (
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice = "Kore"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithBaseURL overrides the API base URL (e.g. "https://proxy.internal").
// The SDK derives the WebSocket endpoint from it.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithLogger sets the logger used by sessions. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// Provider opens Gemini Live sessions through google.golang.org/genai.
type Provider struct {
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, logger: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns [Name].
func (p *Provider) Name() string { return Name }

// Connect creates an SDK client, opens a live session and starts the
// receive loop. OnOpen fires on the server's setupComplete.
func (p *Provider) Connect(ctx context.Context, cfg live.Config, cb live.Callbacks) (live.Session, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      p.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: p.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("genailive: client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	conn, err := client.Live.Connect(ctx, model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genailive: connect: %w", err)
	}

	s := &session{
		conn:   conn,
		cb:     cb,
		logger: p.logger.With("provider", Name),
	}
	go s.receiveLoop()
	return s, nil
}

func connectConfig(cfg live.Config) *genai.LiveConnectConfig {
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	cc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	if cfg.Instructions != "" {
		cc.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.Instructions}},
		}
	}
	return cc
}

type session struct {
	conn   *genai.Session
	cb     live.Callbacks
	logger *slog.Logger

	// sendMu serialises writes; the SDK session allows one writer.
	sendMu sync.Mutex

	mu     sync.Mutex
	closed bool
	opened bool
}

func (s *session) receiveLoop() {
	for {
		msg, err := s.conn.Receive()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
				s.finish(ce.Text, nil)
				return
			}
			s.finish("", fmt.Errorf("genailive: receive: %w", err))
			return
		}
		if s.isClosed() {
			return
		}
		s.dispatch(msg)
	}
}

func (s *session) dispatch(msg *genai.LiveServerMessage) {
	if msg.SetupComplete != nil {
		s.mu.Lock()
		first := !s.opened
		s.opened = true
		s.mu.Unlock()
		if first && s.cb.OnOpen != nil {
			s.cb.OnOpen()
		}
	}
	if msg.GoAway != nil {
		s.logger.Info("genailive: server announced disconnect")
	}
	sc := msg.ServerContent
	if sc == nil || s.cb.OnMessage == nil {
		return
	}
	// Flush before any audio in the same frame.
	if sc.Interrupted {
		s.cb.OnMessage(live.Message{Interrupted: true})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			if !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
				continue
			}
			s.cb.OnMessage(live.Message{
				Audio:    base64.StdEncoding.EncodeToString(p.InlineData.Data),
				MIMEType: p.InlineData.MIMEType,
			})
		}
	}
	if sc.TurnComplete {
		s.cb.OnMessage(live.Message{TurnComplete: true})
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// finish fires the single terminal callback unless Close ran first.
func (s *session) finish(reason string, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.conn.Close()
	if err != nil {
		if s.cb.OnError != nil {
			s.cb.OnError(err)
		}
		return
	}
	if s.cb.OnClose != nil {
		s.cb.OnClose(reason)
	}
}

// SendAudio forwards one chunk as realtime audio input. The SDK write has no
// deadline, so ctx is only checked before sending.
func (s *session) SendAudio(ctx context.Context, chunk audio.EncodedChunk) error {
	if s.isClosed() {
		return live.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	pcm, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return fmt.Errorf("genailive: chunk %d: %w", chunk.Seq, err)
	}
	mime := chunk.MIMEType
	if mime == "" {
		mime = audio.PCMMIMEType(audio.InputFormat)
	}

	s.sendMu.Lock()
	err = s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: mime},
	})
	s.sendMu.Unlock()
	if err != nil {
		if s.isClosed() {
			return live.ErrSessionClosed
		}
		return fmt.Errorf("genailive: send audio: %w", err)
	}
	return nil
}

// Close ends the session without firing callbacks. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("genailive: close: %w", err)
	}
	return nil
}
