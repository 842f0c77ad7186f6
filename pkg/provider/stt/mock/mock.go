// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled Event values and inspect which
// audio chunks were delivered and how the session was terminated.
//
// Example:
//
//	p := &mock.Provider{}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess := p.LastSession()
//	sess.Emit(stt.Event{Kind: stt.EventResult, Results: []stt.Result{{Transcript: "fox"}}})
//	sess.End()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lexicdys/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a new Session with a buffered event channel and
	// records it in Created.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Created holds every Session created by StartStream, in order.
	Created []*Session
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	s := NewSession(16)
	p.Created = append(p.Created, s)
	return s, nil
}

// LastSession returns the most recently created Session, or nil. Thread-safe.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Created) == 0 {
		return nil
	}
	return p.Created[len(p.Created)-1]
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// LastCall returns the most recent StartStream call. ok is false when
// StartStream was never called. Thread-safe.
func (p *Provider) LastCall() (call StartStreamCall, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StartStreamCalls) == 0 {
		return StartStreamCall{}, false
	}
	return p.StartStreamCalls[len(p.StartStreamCalls)-1], true
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
	p.Created = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of stt.SessionHandle. Tests drive it with
// Emit and End; Stop, Abort, and Close only record the call.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events().
	EventsCh chan stt.Event

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// StopErr, AbortErr, and CloseErr are returned by the matching methods.
	StopErr  error
	AbortErr error
	CloseErr error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	StopCallCount  int
	AbortCallCount int
	CloseCallCount int

	ended bool
}

// NewSession returns a Session whose event channel has the given buffer size.
func NewSession(buffer int) *Session {
	return &Session{EventsCh: make(chan stt.Event, buffer)}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Events returns EventsCh.
func (s *Session) Events() <-chan stt.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Stop records the call and returns StopErr.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCallCount++
	return s.StopErr
}

// Abort records the call and returns AbortErr.
func (s *Session) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AbortCallCount++
	return s.AbortErr
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Emit sends ev on EventsCh. It is a no-op after End.
func (s *Session) Emit(ev stt.Event) {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return
	}
	s.EventsCh <- ev
}

// EmitFragments sends a result event whose open slots hold fragments.
func (s *Session) EmitFragments(fragments ...string) {
	results := make([]stt.Result, len(fragments))
	for i, f := range fragments {
		results[i] = stt.Result{Transcript: f}
	}
	s.Emit(stt.Event{Kind: stt.EventResult, Results: results})
}

// EmitFinal sends a result event whose open slots hold final fragments.
func (s *Session) EmitFinal(fragments ...string) {
	results := make([]stt.Result, len(fragments))
	for i, f := range fragments {
		results[i] = stt.Result{Transcript: f, IsFinal: true}
	}
	s.Emit(stt.Event{Kind: stt.EventResult, Results: results})
}

// EmitError sends an error event with the given code.
func (s *Session) EmitError(code stt.ErrorCode) {
	s.Emit(stt.ErrorEvent(&stt.RecognitionError{Code: code}))
}

// End sends the terminal EventEnd and closes EventsCh. Calling End more than
// once is safe.
func (s *Session) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()
	s.EventsCh <- stt.Event{Kind: stt.EventEnd}
	close(s.EventsCh)
}

// Counts returns the Stop, Abort, and Close call counts. Thread-safe.
func (s *Session) Counts() (stop, abort, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCallCount, s.AbortCallCount, s.CloseCallCount
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
