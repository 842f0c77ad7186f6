package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/lexicdys/pkg/provider/stt"
	"github.com/MrWong99/lexicdys/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing the provided responseText. It increments *callCount on
// every matched request.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeechPCM generates a sine-wave PCM buffer at 440 Hz whose RMS is well
// above the silence threshold. The buffer contains `samples` 16-bit
// little-endian signed samples.
func makeSpeechPCM(samples int) []byte {
	const amplitude = 10_000.0 // RMS ≈ 7071
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// makeSilencePCM generates a zero-valued PCM buffer.
func makeSilencePCM(samples int) []byte {
	return make([]byte, samples*2)
}

func mustStartStream(t *testing.T, p stt.Provider, cfg stt.StreamConfig) stt.SessionHandle {
	t.Helper()
	h, err := p.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// nextEvent waits for the next event on h.
func nextEvent(t *testing.T, h stt.SessionHandle, timeout time.Duration) (stt.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		return ev, ok
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return stt.Event{}, false
	}
}

// drain collects all remaining events until the channel closes.
func drain(t *testing.T, h stt.SessionHandle) []stt.Event {
	t.Helper()
	var evs []stt.Event
	for {
		ev, ok := nextEvent(t, h, 5*time.Second)
		if !ok {
			return evs
		}
		evs = append(evs, ev)
	}
}

var oneShot = stt.StreamConfig{SampleRate: 16000, Channels: 1}
var continuous = stt.StreamConfig{SampleRate: 16000, Channels: 1, Continuous: true}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	t.Parallel()
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("base.en"),
		whisper.WithLanguage("de"),
		whisper.WithSampleRate(48000),
		whisper.WithSilenceThresholdMs(300),
		whisper.WithMaxBufferDurationMs(5000),
		whisper.WithHTTPClient(http.DefaultClient),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

func TestStartStream_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://localhost:8080")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.StartStream(ctx, oneShot); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

// ---- silence detection / buffering ------------------------------------------

func TestSilenceAloneDoesNotTriggerInference(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := newMockServer(t, "unexpected", &calls)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(50))
	h := mustStartStream(t, p, oneShot)

	// 1 second of silence (16000 samples × 2 bytes).
	_ = h.SendAudio(makeSilencePCM(16000))
	_ = h.Stop()

	evs := drain(t, h)
	if len(evs) != 1 || evs[0].Kind != stt.EventEnd {
		t.Errorf("events = %+v, want only end", evs)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("inference called %d time(s) for silence-only audio; want 0", n)
	}
}

func TestSpeechFollowedBySilenceTriggersInference(t *testing.T) {
	t.Parallel()
	const wantText = "the quick brown fox"
	srv := newMockServer(t, " "+wantText+" ", nil)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	h := mustStartStream(t, p, oneShot)

	// 100 ms of speech then 100 ms of silence.
	if err := h.SendAudio(makeSpeechPCM(1600)); err != nil {
		t.Fatalf("SendAudio (speech): %v", err)
	}
	if err := h.SendAudio(makeSilencePCM(1600)); err != nil {
		t.Fatalf("SendAudio (silence): %v", err)
	}

	evs := drain(t, h)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2 (final, end): %+v", len(evs), evs)
	}
	if !evs[0].HasFinal() {
		t.Error("first event should carry a final result")
	}
	if got := evs[0].Fragments(); len(got) != 1 || got[0] != wantText {
		t.Errorf("Fragments() = %q; want [%q]", got, wantText)
	}
	if evs[1].Kind != stt.EventEnd {
		t.Errorf("last event = %v; want end", evs[1].Kind)
	}
}

func TestInterimEmittedBeforeFinal(t *testing.T) {
	t.Parallel()
	const wantText = "jumps over"
	srv := newMockServer(t, wantText, nil)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	h := mustStartStream(t, p, stt.StreamConfig{SampleRate: 16000, Channels: 1, InterimResults: true})

	_ = h.SendAudio(makeSpeechPCM(1600))
	_ = h.SendAudio(makeSilencePCM(1600))

	ev, _ := nextEvent(t, h, 5*time.Second)
	if ev.Kind != stt.EventResult || ev.HasFinal() {
		t.Fatalf("first event = %+v; want interim result", ev)
	}
	ev, _ = nextEvent(t, h, 5*time.Second)
	if !ev.HasFinal() || ev.ResultIndex != 0 || len(ev.Results) != 1 {
		t.Fatalf("second event = %+v; want final replacing slot 0", ev)
	}
}

func TestContinuousSessionAccumulatesSlots(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "lazy dog", nil)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	h := mustStartStream(t, p, continuous)

	for range 2 {
		_ = h.SendAudio(makeSpeechPCM(1600))
		_ = h.SendAudio(makeSilencePCM(1600))
	}

	first, _ := nextEvent(t, h, 5*time.Second)
	second, _ := nextEvent(t, h, 5*time.Second)
	if first.ResultIndex != 0 || second.ResultIndex != 1 {
		t.Errorf("ResultIndex = %d, %d; want 0, 1", first.ResultIndex, second.ResultIndex)
	}
	if len(second.Results) != 2 {
		t.Errorf("len(Results) = %d; want 2", len(second.Results))
	}

	_ = h.Stop()
	evs := drain(t, h)
	if len(evs) == 0 || evs[len(evs)-1].Kind != stt.EventEnd {
		t.Errorf("session did not end after Stop: %+v", evs)
	}
}

func TestMaxBufferExceededForcesFlush(t *testing.T) {
	t.Parallel()
	const wantText = "brown fox"
	srv := newMockServer(t, wantText, nil)

	// maxBuffer = 200 ms; silence threshold = 10 s (will never be reached).
	p, _ := whisper.New(srv.URL,
		whisper.WithSilenceThresholdMs(10_000),
		whisper.WithMaxBufferDurationMs(200),
	)
	h := mustStartStream(t, p, oneShot)

	// 210 ms of continuous speech.
	if err := h.SendAudio(makeSpeechPCM(3360)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	ev, _ := nextEvent(t, h, 5*time.Second)
	if got := ev.Fragments(); len(got) != 1 || got[0] != wantText {
		t.Errorf("Fragments() = %q; want [%q]", got, wantText)
	}
}

// ---- stop / abort / close ---------------------------------------------------

func TestStop_FlushesRemainingBuffer(t *testing.T) {
	t.Parallel()
	const wantText = "quick"
	srv := newMockServer(t, wantText, nil)

	// Very long silence threshold: the flush only happens on Stop.
	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(60_000))
	h := mustStartStream(t, p, continuous)

	_ = h.SendAudio(makeSpeechPCM(1600))
	_ = h.Stop()

	evs := drain(t, h)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(evs), evs)
	}
	if got := evs[0].Fragments(); len(got) != 1 || got[0] != wantText {
		t.Errorf("Fragments() = %q; want [%q]", got, wantText)
	}
}

func TestAbort_ReportsAbortedAndDiscardsAudio(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := newMockServer(t, "never", &calls)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(60_000))
	h := mustStartStream(t, p, continuous)

	_ = h.SendAudio(makeSpeechPCM(1600))
	_ = h.Abort()

	evs := drain(t, h)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(evs), evs)
	}
	if evs[0].Kind != stt.EventError || !stt.IsAborted(evs[0].Err) {
		t.Errorf("first event = %+v; want aborted error", evs[0])
	}
	if evs[1].Kind != stt.EventEnd {
		t.Errorf("last event = %v; want end", evs[1].Kind)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("inference called %d time(s) after Abort; want 0", n)
	}
}

func TestClose_ClosesEventsChannel(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "", nil)

	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, oneShot)
	_ = h.Close()

	for {
		select {
		case _, open := <-h.Events():
			if !open {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for Events channel to close")
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "", nil)

	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, oneShot)

	if err := h.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}

func TestSendAudio_AfterStop_ReturnsError(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "", nil)

	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, oneShot)
	_ = h.Stop()

	if err := h.SendAudio(makeSpeechPCM(100)); err == nil {
		t.Fatal("SendAudio after Stop() should return an error")
	}
}

// ---- error handling ---------------------------------------------------------

func TestInference_ServerError_ReportsNetworkError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	h := mustStartStream(t, p, continuous)

	_ = h.SendAudio(makeSpeechPCM(1600))
	_ = h.SendAudio(makeSilencePCM(1600))

	evs := drain(t, h)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(evs), evs)
	}
	if evs[0].Kind != stt.EventError || evs[0].Err.Code != stt.CodeNetwork {
		t.Errorf("first event = %+v; want network error", evs[0])
	}
}

func TestInference_Unauthorized_ReportsServiceNotAllowed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	h := mustStartStream(t, p, oneShot)

	_ = h.SendAudio(makeSpeechPCM(1600))
	_ = h.SendAudio(makeSilencePCM(1600))

	evs := drain(t, h)
	if len(evs) != 2 || evs[0].Kind != stt.EventError {
		t.Fatalf("events = %+v, want error then end", evs)
	}
	if evs[0].Err.Code != stt.CodeServiceNotAllowed {
		t.Errorf("error code = %q, want %q", evs[0].Err.Code, stt.CodeServiceNotAllowed)
	}
}

func TestInference_RequestForm(t *testing.T) {
	t.Parallel()

	type request struct {
		fields map[string]string
		wav    []byte
	}
	got := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req := request{fields: make(map[string]string)}
		for k, v := range r.MultipartForm.Value {
			req.fields[k] = v[0]
		}
		if f, _, err := r.FormFile("file"); err == nil {
			req.wav, _ = io.ReadAll(f)
			f.Close()
		}
		got <- req
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "katze"})
	}))
	t.Cleanup(srv.Close)

	p, _ := whisper.New(srv.URL, whisper.WithModel("base"), whisper.WithSilenceThresholdMs(100))
	h := mustStartStream(t, p, stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "de-DE"})

	speech := makeSpeechPCM(1600)
	_ = h.SendAudio(speech)
	_ = h.SendAudio(makeSilencePCM(1600))

	var req request
	select {
	case req = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("no inference request")
	}
	want := map[string]string{"language": "de", "model": "base", "response_format": "json"}
	for k, v := range want {
		if req.fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, req.fields[k], v)
		}
	}
	if len(req.wav) < 44 || string(req.wav[0:4]) != "RIFF" || string(req.wav[8:16]) != "WAVEfmt " {
		t.Fatalf("file is not a WAV: % x", req.wav[:min(len(req.wav), 16)])
	}
	if rate := binary.LittleEndian.Uint32(req.wav[24:28]); rate != 16000 {
		t.Errorf("WAV sample rate = %d, want 16000", rate)
	}
	if size := binary.LittleEndian.Uint32(req.wav[40:44]); int(size) != len(req.wav)-44 {
		t.Errorf("WAV data size = %d, body has %d", size, len(req.wav)-44)
	}
	if len(req.wav)-44 < len(speech) {
		t.Errorf("WAV carries %d bytes of audio, want at least the %d bytes of speech", len(req.wav)-44, len(speech))
	}

	ev, _ := nextEvent(t, h, 5*time.Second)
	if frags := ev.Fragments(); len(frags) != 1 || frags[0] != "katze" {
		t.Errorf("fragments = %v, want [katze]", frags)
	}
}

func TestInference_EmptyResponse_ProducesNoResult(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "   ", nil)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	h := mustStartStream(t, p, continuous)

	_ = h.SendAudio(makeSpeechPCM(1600))
	_ = h.SendAudio(makeSilencePCM(1600))
	_ = h.Stop()

	for _, ev := range drain(t, h) {
		if ev.Kind == stt.EventResult {
			t.Errorf("received result %+v for empty server response", ev)
		}
	}
}

// ---- concurrent use ---------------------------------------------------------

func TestConcurrentSendAudio_DoesNotRace(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "hello", nil)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	h := mustStartStream(t, p, continuous)

	go func() {
		for range h.Events() {
		}
	}()

	done := make(chan struct{})
	for range 4 {
		go func() {
			for range 10 {
				_ = h.SendAudio(makeSpeechPCM(160))
			}
			done <- struct{}{}
		}()
	}
	for range 4 {
		<-done
	}
}
