package whisper

import (
	"cmp"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/lexicdys/pkg/provider/stt"
)

// Option configures a [Provider] or a [NativeProvider]. Options that only
// concern the inference server are ignored by the native provider.
type Option func(*options)

type options struct {
	language            string
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int

	// Server only.
	model      string
	httpClient *http.Client
}

func newOptions(opts []Option) options {
	o := options{
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLanguage sets the default recognition language, used when a stream
// does not name one. Region suffixes are dropped ("en-US" becomes "en").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(o *options) { o.language = lang }
}

// WithSampleRate sets the default sample rate of streamed PCM in Hz.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(o *options) { o.sampleRate = rate }
}

// WithSilenceThresholdMs sets how much trailing silence ends an utterance.
// Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(o *options) { o.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs caps the audio buffered for one utterance; longer
// speech is transcribed in pieces. Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(o *options) { o.maxBufferDurationMs = ms }
}

// WithModel names the model the inference server should use. When empty
// the server uses the model it was started with.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithHTTPClient replaces the client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// stream holds the audio parameters of one session, resolved against the
// provider defaults.
type stream struct {
	language   string
	sampleRate int
	channels   int
}

func (o options) stream(cfg stt.StreamConfig) stream {
	return stream{
		language:   cmp.Or(cfg.Language, o.language),
		sampleRate: cmp.Or(max(cfg.SampleRate, 0), o.sampleRate),
		channels:   cmp.Or(max(cfg.Channels, 0), 1),
	}
}

func (o options) segmenter(s stream) *segmenter {
	return newSegmenter(s.sampleRate, s.channels, o.silenceThresholdMs, o.maxBufferDurationMs)
}

// isoLanguage reduces a BCP 47 tag to the ISO 639-1 code whisper.cpp
// expects.
func isoLanguage(tag string) string {
	lang, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(lang)
}
