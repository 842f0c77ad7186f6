// Package whisper provides speech recognition backed by whisper.cpp.
//
// [Provider] talks to a whisper-server process over its POST /inference API.
// [NativeProvider] links whisper.cpp in-process through its Go bindings.
//
// whisper.cpp transcribes whole clips, so both providers buffer streamed PCM
// and cut it into utterances with an energy-based silence detector. Each
// utterance is transcribed as a batch and becomes one final result slot.
// When interim results are requested, an interim copy of the text is
// published immediately before its final.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000})
//	h.SendAudio(pcm)
//	for ev := range h.Events() { ... }
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/MrWong99/lexicdys/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// maxResponseBytes bounds the JSON read back from the inference server.
const maxResponseBytes = 1 << 20

// Provider recognizes speech through a whisper.cpp inference server. It is
// safe for concurrent use; every stream buffers its own audio.
type Provider struct {
	serverURL string
	opts      options
}

// New returns a Provider for the server at serverURL, for example
// "http://localhost:8080".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	return &Provider{serverURL: serverURL, opts: newOptions(opts)}, nil
}

// StartStream opens a stream. No request reaches the server until the first
// utterance is complete, so only a cancelled ctx fails here.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	s := p.opts.stream(cfg)
	c := client{
		url:    p.serverURL + "/inference",
		model:  p.opts.model,
		http:   p.opts.httpClient,
		stream: s,
	}
	return startSession(ctx, c.infer, cfg, p.opts.segmenter(s)), nil
}

// client sends the utterances of one stream to the server.
type client struct {
	url    string
	model  string
	http   *http.Client
	stream stream
}

func (c client) infer(ctx context.Context, pcm []byte) (string, error) {
	body, contentType, err := c.form(pcm)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", stt.NewError(stt.CodeServiceNotAllowed, "whisper: server returned HTTP %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return out.Text, nil
}

// form builds the multipart body: the utterance as a WAV file plus the
// language, model and response format fields.
func (c client) form(pcm []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, c.stream.sampleRate, c.stream.channels)); err != nil {
		return nil, "", fmt.Errorf("whisper: write audio: %w", err)
	}

	fields := [][2]string{
		{"language", isoLanguage(c.stream.language)},
		{"model", c.model},
		{"response_format", "json"},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// encodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte RIFF
// header.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const headerSize = 44
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, headerSize, headerSize+len(pcm))
	le := binary.LittleEndian
	copy(out[0:], "RIFF")
	le.PutUint32(out[4:], uint32(headerSize-8+len(pcm)))
	copy(out[8:], "WAVEfmt ")
	le.PutUint32(out[16:], 16) // fmt chunk size
	le.PutUint16(out[20:], 1)  // linear PCM
	le.PutUint16(out[22:], uint16(channels))
	le.PutUint32(out[24:], uint32(sampleRate))
	le.PutUint32(out[28:], uint32(sampleRate*blockAlign))
	le.PutUint16(out[32:], uint16(blockAlign))
	le.PutUint16(out[34:], bitsPerSample)
	copy(out[36:], "data")
	le.PutUint32(out[40:], uint32(len(pcm)))
	return append(out, pcm...)
}
