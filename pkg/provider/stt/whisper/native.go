// The native provider needs the whisper.cpp static library and headers at
// build time, found through LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/lexicdys/pkg/audio"
	"github.com/MrWong99/lexicdys/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in-process. The model is loaded once and
// shared; every inference gets its own whisper context, so streams can run
// concurrently.
type NativeProvider struct {
	model whisperlib.Model
	opts  options
}

// NewNative loads the ggml model at modelPath. [WithModel] and
// [WithHTTPClient] have no effect here. Close releases the model.
func NewNative(modelPath string, opts ...Option) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &NativeProvider{model: model, opts: newOptions(opts)}, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// StartStream opens a stream. Only a cancelled ctx fails here.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	s := p.opts.stream(cfg)
	r := nativeRecognizer{model: p.model, stream: s}
	return startSession(ctx, r.infer, cfg, p.opts.segmenter(s)), nil
}

type nativeRecognizer struct {
	model  whisperlib.Model
	stream stream
}

func (r nativeRecognizer) infer(ctx context.Context, pcm []byte) (string, error) {
	// Contexts are not safe for concurrent use; the model is.
	wctx, err := r.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if lang := isoLanguage(r.stream.language); lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return "", stt.NewError(stt.CodeLanguageNotSupported, "whisper: language %q: %v", r.stream.language, err)
		}
	}

	samples := audio.Float32(audio.DownmixToMono(pcm, r.stream.channels))
	// Returning false from the encoder callback aborts inference.
	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, keepGoing, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return collectSegments(wctx)
}

// collectSegments joins the non-blank segment texts of a finished inference.
func collectSegments(wctx whisperlib.Context) (string, error) {
	var b strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}
