package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/lexicdys/pkg/provider/stt"
	sttmock "github.com/MrWong99/lexicdys/pkg/provider/stt/mock"
)

func newSTTFallback(primary, secondary *sttmock.Provider) *STTFallback {
	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour},
	})
	fb.AddFallback("whisper", secondary)
	return fb
}

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{}
	secondary := &sttmock.Provider{}
	fb := newSTTFallback(primary, secondary)

	cfg := stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-US"}
	handle, err := fb.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle != primary.LastSession() {
		t.Error("handle was not opened on the primary")
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Fatalf("calls = (%d, %d), want (1, 0)", primary.CallCount(), secondary.CallCount())
	}
	if got := primary.StartStreamCalls[0].Cfg; got != cfg {
		t.Errorf("primary cfg = %+v, want %+v", got, cfg)
	}
	if got := fb.Names(); !slices.Equal(got, []string{"deepgram", "whisper"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{StartStreamErr: errors.New("primary down")}
	secondary := &sttmock.Provider{}
	fb := newSTTFallback(primary, secondary)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle != secondary.LastSession() {
		t.Error("handle was not opened on the fallback")
	}
}

func TestSTTFallback_AllFailKeepsCause(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{StartStreamErr: errors.New("primary down")}
	secondary := &sttmock.Provider{StartStreamErr: stt.NewError(stt.CodeServiceNotAllowed, "bad key")}
	fb := newSTTFallback(primary, secondary)

	_, err := fb.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	var re *stt.RecognitionError
	if !errors.As(err, &re) || re.Code != stt.CodeServiceNotAllowed {
		t.Errorf("err = %v, want it to carry the fallback's recognition error", err)
	}
}
