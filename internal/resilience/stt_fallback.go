package resilience

import (
	"context"

	"github.com/MrWong99/lexicdys/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that opens each stream on the first
// healthy backend of a primary and its fallbacks.
//
// Failover only happens when a stream is opened. Once a backend accepted a
// stream, errors on that stream are delivered in-band to the learner like
// any other recognition failure.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns an [STTFallback] preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend tried after the ones already added.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in the order they are tried.
func (f *STTFallback) Names() []string {
	return f.group.Names()
}

// Breaker returns the breaker guarding the named backend, or nil.
func (f *STTFallback) Breaker(name string) *CircuitBreaker {
	return f.group.Breaker(name)
}

// StartStream opens a stream on the first backend that accepts it. When all
// backends fail the returned error wraps [ErrAllFailed] and the last
// backend's error.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	handle, _, err := f.StartNamedStream(ctx, cfg)
	return handle, err
}

// StartNamedStream is [STTFallback.StartStream] that also reports the name of
// the backend serving the stream.
func (f *STTFallback) StartNamedStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, string, error) {
	return Try(ctx, f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
