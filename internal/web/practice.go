package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lexicdys/internal/observe"
	"github.com/MrWong99/lexicdys/internal/practice"
	"github.com/MrWong99/lexicdys/pkg/audio"
	"github.com/MrWong99/lexicdys/pkg/audio/opus"
)

const (
	// writeTimeout bounds a single frame write to the client.
	writeTimeout = 5 * time.Second

	// readLimit is the largest client message accepted. Audio chunks from a
	// browser are a few kilobytes.
	readLimit = 1 << 20
)

// practiceSocket serves GET /api/practice/{type}?user=ID, the live practice
// screen over a WebSocket.
//
// Text frames from the client carry commands ({"type": "listen"}, "stop",
// "next", "restart", "status"). Binary frames carry audio in the configured
// encoding. Optional query parameters "rate" and "channels" describe the
// client's audio; they default to the recognition sample rate, mono.
func (s *Server) practiceSocket(w http.ResponseWriter, r *http.Request) {
	t, ok := contentType(w, r)
	if !ok {
		return
	}
	dec, err := s.audioDecoder(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.store.ListContent(r.Context(), t)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		observe.Logger(r.Context()).Debug("web: websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	user := r.URL.Query().Get("user")
	drillID := uuid.NewString()
	ctx, span := observe.StartDrillSpan(r.Context(), drillID, string(t), len(items))
	log := observe.Logger(ctx).With(
		"drill_id", drillID,
		"content_type", t,
		"user", user,
	)

	out := newOutbox()
	tuning := s.Tuning()
	dcfg := practice.DrillConfig{
		User:         user,
		Provider:     s.cfg.Practice.Provider,
		ProviderName: s.cfg.Practice.ProviderName,
		Progress:     s.store,
		Observer:     frameObserver{out: out},
		AdvanceDelay: tuning.AdvanceDelay,
		Language:     s.cfg.Practice.Language,
		SampleRate:   s.cfg.Practice.SampleRate,
	}
	if tuning.PhoneticFallback {
		dcfg.Phonetic = s.phonetic
	}
	opts := append([]practice.DrillOption{
		practice.WithLogger(log),
		practice.WithMetrics(s.metrics),
	}, s.drillOpts...)

	drill, err := practice.NewDrill(items, dcfg, opts...)
	if err != nil {
		log.Error("web: create drill", "err", err)
		observe.EndSpan(span, err)
		conn.Close(websocket.StatusInternalError, "practice set unavailable")
		return
	}
	defer drill.Close()
	log.Info("practice connected", "items", len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return writeFrames(gctx, conn, out) })
	g.Go(func() error { return s.readClient(gctx, conn, drill, dec, out, log) })
	err = g.Wait()

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway:
		log.Info("practice disconnected")
		err = nil
	case errors.Is(err, context.Canceled):
		log.Info("practice disconnected", "reason", "server shutdown")
	default:
		log.Warn("practice connection failed", "err", err)
	}
	observe.EndSpan(span, err)
	conn.Close(websocket.StatusNormalClosure, "")
}

// writeFrames sends queued frames until ctx is done.
func writeFrames(ctx context.Context, conn *websocket.Conn, out *outbox) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-out.ready:
		}
		for _, f := range out.drain() {
			data, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("web: encode frame: %w", err)
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// readClient dispatches client frames to the drill until the connection
// closes.
func (s *Server) readClient(ctx context.Context, conn *websocket.Conn, drill *practice.Drill, dec audio.Decoder, out *outbox, log *slog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			forwardAudio(drill, dec, data, log)
			continue
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			out.push(errorFrame{Type: "error", Code: codeBadRequest, Message: "invalid command"})
			continue
		}
		if err := dispatch(ctx, drill, cmd, out); err != nil {
			log.Debug("web: command refused", "command", cmd.Type, "err", err)
			out.push(errorFrameFor(err))
		}
	}
}

func dispatch(ctx context.Context, drill *practice.Drill, cmd clientCommand, out *outbox) error {
	switch cmd.Type {
	case "listen":
		// The stream lives as long as the connection.
		return drill.Listen(ctx)
	case "stop":
		return drill.StopListening()
	case "next":
		return drill.Next()
	case "restart":
		return drill.Restart()
	case "status":
		st := drill.Status()
		out.push(statusFrame{
			Type:       "status",
			Index:      st.Index,
			Total:      st.Total,
			Item:       st.Item,
			Transcript: st.Transcript,
			Score:      st.Score,
			State:      st.State.String(),
			Listening:  st.Listening,
			Finished:   st.Finished,
		})
		return nil
	default:
		return fmt.Errorf("%w %q", errUnknownCommand, cmd.Type)
	}
}

// forwardAudio decodes one audio packet and hands it to the drill. Audio
// arriving while not listening is dropped silently; the browser keeps
// sending for a moment after a stop.
func forwardAudio(drill *practice.Drill, dec audio.Decoder, packet []byte, log *slog.Logger) {
	pcm, err := dec.Decode(packet)
	if err != nil {
		log.Debug("web: dropping undecodable audio", "bytes", len(packet), "err", err)
		return
	}
	if len(pcm) == 0 {
		return
	}
	if err := drill.SendAudio(pcm); err != nil && !errors.Is(err, practice.ErrNotListening) {
		log.Debug("web: audio not delivered", "err", err)
	}
}

// audioDecoder builds the per-connection decoder for the configured
// encoding. The client format comes from the rate and channels query
// parameters and must lie within the audio package bounds.
func (s *Server) audioDecoder(q url.Values) (audio.Decoder, error) {
	target := audio.Format{SampleRate: s.cfg.Practice.SampleRate, Channels: 1}
	channels, err := queryInt(q, "channels", 1, 1, audio.MaxChannels)
	if err != nil {
		return nil, err
	}

	switch s.cfg.Practice.AudioFormat {
	case audio.EncodingOpus:
		return opus.NewDecoder(channels, target)
	default:
		rate, err := queryInt(q, "rate", target.SampleRate, audio.MinSampleRate, audio.MaxSampleRate)
		if err != nil {
			return nil, err
		}
		return audio.NewPCMDecoder(audio.Format{SampleRate: rate, Channels: channels}, target)
	}
}

// queryInt parses an integer query parameter in [lo, hi], returning def when
// it is absent.
func queryInt(q url.Values, key string, def, lo, hi int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("query parameter %s: %q is not an integer", key, v)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("query parameter %s: %d is out of range [%d, %d]", key, n, lo, hi)
	}
	return n, nil
}
