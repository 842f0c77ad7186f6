// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Deepgram publishes a stream of interim and final "Results" messages for the
// audio it has received. Each message is folded into an [stt.ResultList] so
// that consumers receive events with the resultIndex watermark semantics
// described in package stt.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/lexicdys/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000
)

// closeStreamMessage asks Deepgram to flush pending audio and close the socket.
var closeStreamMessage = []byte(`{"type":"CloseStream"}`)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint URL. Useful for proxies and tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
// It respects cfg.SampleRate, cfg.Channels, cfg.Language, cfg.Continuous,
// and cfg.InterimResults.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:     conn,
		cfg:      cfg,
		events:   make(chan stt.Event, 64),
		audio:    make(chan []byte, 256),
		stopping: make(chan struct{}),
		closed:   make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn   *websocket.Conn
	cfg    stt.StreamConfig
	events chan stt.Event
	audio  chan []byte

	// stopping is closed by Stop and Abort: no more audio is accepted.
	stopping chan struct{}
	// closed is closed by Close: pending events are dropped.
	closed chan struct{}

	stopOnce  sync.Once
	abortOnce sync.Once
	closeOnce sync.Once
	aborted   atomic.Bool
	wg        sync.WaitGroup

	// results is confined to readLoop.
	results stt.ResultList
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.stopping:
		return fmt.Errorf("deepgram: %w", stt.ErrSessionClosed)
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.stopping:
		return fmt.Errorf("deepgram: %w", stt.ErrSessionClosed)
	}
}

// Events returns the session event channel.
func (s *session) Events() <-chan stt.Event { return s.events }

// Stop flushes queued audio and asks Deepgram to close the stream. The
// remaining results and the End event follow asynchronously.
func (s *session) Stop() error {
	s.stopOnce.Do(func() { close(s.stopping) })
	return nil
}

// Abort drops the connection immediately.
func (s *session) Abort() error {
	s.abortOnce.Do(func() {
		s.aborted.Store(true)
		s.stopOnce.Do(func() { close(s.stopping) })
		_ = s.conn.CloseNow()
	})
	return nil
}

// Close terminates the session and waits for its goroutines to exit.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.Abort()
		close(s.closed)
		s.wg.Wait()
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.stopping:
			if s.aborted.Load() {
				return
			}
			// Drain the audio channel before asking Deepgram to finish.
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					_ = s.conn.Write(ctx, websocket.MessageText, closeStreamMessage)
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and publishes result events.
// It is the only goroutine that publishes events and closes the channel.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if rerr := s.classify(ctx, err); rerr != nil {
				s.publish(stt.ErrorEvent(rerr))
			}
			s.publish(stt.Event{Kind: stt.EventEnd})
			return
		}

		transcript, confidence, isFinal, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}

		if isFinal {
			s.publish(s.results.Final(transcript, confidence))
			if !s.cfg.Continuous {
				_ = s.Stop()
			}
		} else if s.cfg.InterimResults {
			s.publish(s.results.Interim(transcript, confidence))
		}
	}
}

// classify maps a read error to the error event published before End, or nil
// when the stream ended normally.
func (s *session) classify(ctx context.Context, err error) *stt.RecognitionError {
	if s.aborted.Load() || ctx.Err() != nil {
		return stt.NewError(stt.CodeAborted, "session aborted")
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure:
		return nil
	case websocket.StatusPolicyViolation:
		return stt.NewError(stt.CodeServiceNotAllowed, "%v", err)
	}
	select {
	case <-s.stopping:
		// Deepgram may drop the socket without a close frame after CloseStream.
		return nil
	default:
	}
	return stt.NewError(stt.CodeNetwork, "%v", err)
}

// publish delivers ev unless the session has been closed.
func (s *session) publish(ev stt.Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. It returns
// ok=false for messages that carry no transcript and must be ignored.
func parseDeepgramResponse(data []byte) (transcript string, confidence float64, isFinal, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", 0, false, false
	}
	if resp.Type != "Results" {
		return "", 0, false, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return "", 0, false, false
	}

	alt := resp.Channel.Alternatives[0]
	return alt.Transcript, alt.Confidence, resp.IsFinal, true
}

var _ stt.SessionHandle = (*session)(nil)
