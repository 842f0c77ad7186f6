package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/lexicdys/internal/observe"
	"github.com/MrWong99/lexicdys/pkg/provider/stt"
	"github.com/MrWong99/lexicdys/pkg/scoring"
	"github.com/MrWong99/lexicdys/pkg/store"
)

const (
	// DefaultAdvanceDelay is how long a completed item stays on screen
	// before the drill moves to the next one.
	DefaultAdvanceDelay = 1500 * time.Millisecond

	defaultLanguage   = "en-US"
	defaultSampleRate = 16000

	// progressTimeout bounds a single fire-and-forget progress write.
	progressTimeout = 10 * time.Second
)

// Observer receives drill notifications. Methods are called in event order
// while the drill's lock is held; implementations must return quickly and
// must not call back into the [Drill].
type Observer interface {
	// ItemStarted announces the item the learner should say next.
	ItemStarted(index, total int, item store.Content)

	// ScoreUpdated reports the live transcript and accuracy after every
	// applied result batch.
	ScoreUpdated(transcript string, score int, band scoring.Band)

	// ItemCompleted reports that the current item was completed.
	ItemCompleted(item store.Content, score int)

	// ListeningChanged reports whether a recognition stream is active.
	ListeningChanged(listening bool)

	// Failed reports a recognition failure the learner should see.
	Failed(err *RecognitionError)

	// Finished reports that every item of the set was handled.
	Finished()
}

// NopObserver ignores every notification. Embed it to implement only the
// callbacks of interest.
type NopObserver struct{}

func (NopObserver) ItemStarted(int, int, store.Content)    {}
func (NopObserver) ScoreUpdated(string, int, scoring.Band) {}
func (NopObserver) ItemCompleted(store.Content, int)       {}
func (NopObserver) ListeningChanged(bool)                  {}
func (NopObserver) Failed(*RecognitionError)               {}
func (NopObserver) Finished()                              {}

// ProgressRecorder stores a completed attempt. [store.ProgressStore]
// satisfies it.
type ProgressRecorder interface {
	AppendProgress(ctx context.Context, p store.Progress) (store.Progress, error)
}

// DrillConfig holds the collaborators and settings of a [Drill].
type DrillConfig struct {
	// User identifies the learner in progress records. Progress is not
	// recorded when empty.
	User string

	// Provider opens recognition streams. A nil Provider makes [Drill.Listen]
	// fail with [stt.ErrUnavailable].
	Provider stt.Provider

	// ProviderName labels provider metrics. Providers that report the backend
	// serving each stream override it per stream.
	ProviderName string

	// Progress stores completed attempts. May be nil.
	Progress ProgressRecorder

	// Observer receives notifications. May be nil.
	Observer Observer

	// AdvanceDelay is the pause between completing an item and moving to the
	// next. Defaults to [DefaultAdvanceDelay].
	AdvanceDelay time.Duration

	// Language is the BCP-47 recognition language. Defaults to "en-US".
	Language string

	// SampleRate is the rate of the PCM audio passed to [Drill.SendAudio].
	// Defaults to 16000.
	SampleRate int

	// Phonetic, when set, lets word items complete on a final result that
	// sounds like the target word.
	Phonetic *scoring.PhoneticMatcher
}

// DrillOption is a functional option for [NewDrill].
type DrillOption func(*Drill)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) DrillOption {
	return func(d *Drill) { d.log = l }
}

// WithMetrics records drill activity on m.
func WithMetrics(m *observe.Metrics) DrillOption {
	return func(d *Drill) { d.metrics = m }
}

// WithAfterFunc replaces the timer used for the advance delay. fn must call f
// once after delay unless the returned stop function is called first; stop
// reports whether it prevented the call, like [time.Timer.Stop].
func WithAfterFunc(fn func(delay time.Duration, f func()) (stop func() bool)) DrillOption {
	return func(d *Drill) { d.afterFunc = fn }
}

// Status is a snapshot of a [Drill].
type Status struct {
	Index      int
	Total      int
	Item       store.Content
	Transcript string
	Score      int
	State      State
	Listening  bool
	Finished   bool
}

// Drill walks a learner through an ordered practice set. It owns the
// [Session] of the current item, the active recognition stream, and the
// advance timer that moves on after a completed item.
//
// All methods are safe for concurrent use.
type Drill struct {
	cfg       DrillConfig
	items     []store.Content
	observer  Observer
	log       *slog.Logger
	metrics   *observe.Metrics
	afterFunc func(time.Duration, func()) func() bool

	mu          sync.Mutex
	index       int
	session     *Session
	stream      *stream
	listenStart time.Time
	timerStop   func() bool
	timerGen    uint64
	finished    bool
	closed      bool

	pending sync.WaitGroup
}

// stream is one recognition stream opened by [Drill.Listen].
type stream struct {
	handle      stt.SessionHandle
	provider    string
	contentType store.ContentType
	started     time.Time
}

// namedStarter is implemented by providers that spread streams over several
// backends, such as a failover group.
type namedStarter interface {
	StartNamedStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, string, error)
}

// startStream opens a stream and returns the name of the backend serving it.
func (d *Drill) startStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, string, error) {
	ns, ok := d.cfg.Provider.(namedStarter)
	if !ok {
		h, err := d.cfg.Provider.StartStream(ctx, cfg)
		return h, d.cfg.ProviderName, err
	}
	h, name, err := ns.StartNamedStream(ctx, cfg)
	if name == "" {
		name = d.cfg.ProviderName
	}
	return h, name, err
}

// NewDrill returns a drill over items. An empty set is valid and reports
// [Observer.Finished] right away; otherwise the first item is announced with
// [Observer.ItemStarted].
func NewDrill(items []store.Content, cfg DrillConfig, opts ...DrillOption) (*Drill, error) {
	for i, it := range items {
		if strings.TrimSpace(it.Text) == "" {
			return nil, fmt.Errorf("practice: item %d (%s): %w", i, it.ID, ErrInvalidTarget)
		}
	}
	if cfg.AdvanceDelay <= 0 {
		cfg.AdvanceDelay = DefaultAdvanceDelay
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}

	d := &Drill{
		cfg:      cfg,
		items:    items,
		observer: cfg.Observer,
		log:      slog.Default(),
		afterFunc: func(delay time.Duration, f func()) func() bool {
			return time.AfterFunc(delay, f).Stop
		},
	}
	if d.observer == nil {
		d.observer = NopObserver{}
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics != nil {
		d.metrics.ActiveDrills.Add(context.Background(), 1)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.enterItemLocked(0)
	return d, nil
}

// Status returns a snapshot of the drill.
func (d *Drill) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{
		Index:     d.index,
		Total:     len(d.items),
		Listening: d.stream != nil,
		Finished:  d.finished,
	}
	if d.session != nil {
		st.Item = d.items[d.index]
		st.Transcript = d.session.Transcript()
		st.Score = d.session.Score()
		st.State = d.session.State()
	}
	return st
}

// Listen opens a recognition stream for the current item and starts a fresh
// attempt. Any stream still open is aborted first. ctx bounds the lifetime of
// the stream.
func (d *Drill) Listen(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.closed:
		return ErrClosed
	case d.finished:
		return ErrFinished
	case d.timerStop != nil:
		return ErrLocked
	case d.cfg.Provider == nil:
		return stt.ErrUnavailable
	}

	d.abortStreamLocked()

	item := d.items[d.index]
	handle, provider, err := d.startStream(ctx, d.streamConfig(item.Type))
	if err != nil {
		d.recordProviderRequest(ctx, provider, "error")
		return fmt.Errorf("practice: start recognition: %w", err)
	}
	d.recordProviderRequest(ctx, provider, "ok")
	if d.metrics != nil {
		d.metrics.ActiveStreams.Add(ctx, 1)
	}

	now := time.Now()
	s := &stream{handle: handle, provider: provider, contentType: item.Type, started: now}
	d.stream = s
	d.listenStart = now
	d.session.Reset()
	d.observer.ListeningChanged(true)

	go d.consume(s)
	return nil
}

// StopListening ends the current attempt. The advance timer is cancelled and
// results still in flight are discarded.
func (d *Drill) StopListening() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.cancelTimerLocked()
	if s := d.stream; s != nil {
		d.stream = nil
		if err := s.handle.Stop(); err != nil {
			d.log.Warn("practice: failed to stop recognition", "err", err)
		}
		d.observer.ListeningChanged(false)
	}
	if d.session != nil {
		d.session.Stop()
	}
	return nil
}

// Next skips to the following item. It is refused with [ErrLocked] while a
// completed item waits for its advance timer.
func (d *Drill) Next() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.closed:
		return ErrClosed
	case d.finished:
		return ErrFinished
	case d.timerStop != nil:
		return ErrLocked
	}
	d.abortStreamLocked()
	if !d.session.Locked() && d.metrics != nil {
		d.metrics.RecordSkip(context.Background(), string(d.items[d.index].Type))
	}
	d.enterItemLocked(d.index + 1)
	return nil
}

// Restart rewinds to the first item with a fresh session.
func (d *Drill) Restart() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.cancelTimerLocked()
	d.abortStreamLocked()
	if d.session != nil && !d.session.Locked() && !d.finished && d.metrics != nil {
		d.metrics.RecordSkip(context.Background(), string(d.items[d.index].Type))
	}
	d.finished = false
	d.enterItemLocked(0)
	return nil
}

// SendAudio forwards a PCM chunk to the active recognition stream.
func (d *Drill) SendAudio(chunk []byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	s := d.stream
	d.mu.Unlock()
	if s == nil {
		return ErrNotListening
	}
	return s.handle.SendAudio(chunk)
}

// Close aborts the active stream, cancels the advance timer, and waits for
// pending progress writes. Later stream events and timers have no effect.
func (d *Drill) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.cancelTimerLocked()
	s := d.stream
	d.stream = nil
	d.mu.Unlock()

	var err error
	if s != nil {
		err = s.handle.Close()
	}
	d.pending.Wait()
	if d.metrics != nil {
		d.metrics.ActiveDrills.Add(context.Background(), -1)
	}
	return err
}

// consume applies the events of s in order until its channel closes.
func (d *Drill) consume(s *stream) {
	for ev := range s.handle.Events() {
		d.mu.Lock()
		if !d.closed && d.stream == s {
			d.apply(s, ev)
		}
		d.mu.Unlock()
	}
	_ = s.handle.Close()
	if d.metrics != nil {
		ctx := context.Background()
		d.metrics.ActiveStreams.Add(ctx, -1)
		d.metrics.RecordStream(ctx, string(s.contentType), time.Since(s.started))
	}
}

// apply handles one event of the active stream. d.mu must be held.
func (d *Drill) apply(s *stream, ev stt.Event) {
	switch ev.Kind {
	case stt.EventResult:
		d.applyResult(s, ev)
	case stt.EventError:
		if d.session.Locked() {
			// The stream is winding down after a completion; the advance
			// timer owns the item now.
			if !stt.IsAborted(ev.Err) {
				d.log.Debug("practice: recognition error after completion", "err", ev.Err)
			}
			return
		}
		err := d.session.HandleError(ev.Err)
		var re *RecognitionError
		if !errors.As(err, &re) {
			return
		}
		d.log.Info("practice: recognition failed", "category", re.Category, "err", re.Err)
		if d.metrics != nil {
			d.metrics.RecordProviderError(context.Background(), s.provider, string(re.Category))
		}
		d.observer.Failed(re)
		d.stream = nil
		_ = s.handle.Abort()
		d.observer.ListeningChanged(false)
	case stt.EventEnd:
		d.stream = nil
		if !d.session.Locked() {
			d.session.Stop()
		}
		d.observer.ListeningChanged(false)
	}
}

func (d *Drill) applyResult(s *stream, ev stt.Event) {
	if d.session.Locked() {
		return
	}
	completed := d.session.OnFragmentBatch(ev.Fragments())
	d.observer.ScoreUpdated(d.session.Transcript(), d.session.Score(), scoring.BandFor(d.session.Score()))

	item := d.items[d.index]
	if !completed && item.Type == store.ContentWord && ev.HasFinal() {
		completed = d.acceptWord(item, finalTranscript(ev))
	}
	if completed {
		d.complete(s, item)
	}
}

// acceptWord applies the flashcard checks to a final transcript.
func (d *Drill) acceptWord(item store.Content, spoken string) bool {
	if scoring.CompactEqual(spoken, item.Text) {
		return d.session.Complete(100)
	}
	if d.cfg.Phonetic == nil {
		return false
	}
	if confidence, ok := d.cfg.Phonetic.Match(spoken, item.Text); ok {
		d.log.Debug("practice: accepted phonetic match",
			"spoken", spoken, "target", item.Text, "confidence", confidence)
		return d.session.Complete(d.session.Score())
	}
	return false
}

// complete runs the side effects of a completed item. d.mu must be held.
func (d *Drill) complete(s *stream, item store.Content) {
	score := d.session.Score()
	if err := s.handle.Stop(); err != nil {
		d.log.Warn("practice: failed to stop recognition", "err", err)
	}
	if d.metrics != nil {
		d.metrics.RecordCompletion(context.Background(), string(item.Type), time.Since(d.listenStart))
	}
	d.recordProgress(item, score)
	d.observer.ItemCompleted(item, score)

	d.timerGen++
	gen := d.timerGen
	d.timerStop = d.afterFunc(d.cfg.AdvanceDelay, func() { d.advance(gen) })
}

// advance is the advance timer callback.
func (d *Drill) advance(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || gen != d.timerGen || d.timerStop == nil {
		return
	}
	d.timerStop = nil
	if !d.session.BeginAdvance() {
		return
	}
	d.abortStreamLocked()
	d.enterItemLocked(d.index + 1)
}

// recordProgress stores the attempt without blocking the drill.
func (d *Drill) recordProgress(item store.Content, score int) {
	if d.cfg.Progress == nil || d.cfg.User == "" {
		return
	}
	p := store.Progress{
		UserID:      d.cfg.User,
		ContentID:   item.ID,
		ContentType: item.Type,
		Accuracy:    score,
	}
	d.pending.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), progressTimeout)
		defer cancel()
		if _, err := d.cfg.Progress.AppendProgress(ctx, p); err != nil {
			d.log.Warn("practice: failed to record progress",
				"user", p.UserID, "content_id", p.ContentID, "err", err)
			if d.metrics != nil {
				d.metrics.RecordProgressFailure(ctx, string(p.ContentType))
			}
		}
	})
}

// enterItemLocked makes items[i] current, or finishes the set when i is past
// the end.
func (d *Drill) enterItemLocked(i int) {
	d.cancelTimerLocked()
	if i >= len(d.items) {
		d.finished = true
		d.session = nil
		d.index = len(d.items)
		d.observer.Finished()
		return
	}
	d.index = i
	if d.session == nil {
		// Item texts are validated by NewDrill.
		d.session, _ = Start(d.items[i].Text)
	} else {
		_ = d.session.Retarget(d.items[i].Text)
	}
	d.session.Stop()
	d.observer.ItemStarted(i, len(d.items), d.items[i])
}

func (d *Drill) abortStreamLocked() {
	s := d.stream
	if s == nil {
		return
	}
	d.stream = nil
	if err := s.handle.Abort(); err != nil {
		d.log.Warn("practice: failed to abort recognition", "err", err)
	}
	d.observer.ListeningChanged(false)
}

func (d *Drill) cancelTimerLocked() {
	if d.timerStop != nil {
		d.timerStop()
		d.timerStop = nil
	}
	d.timerGen++
}

func (d *Drill) streamConfig(t store.ContentType) stt.StreamConfig {
	cfg := stt.StreamConfig{
		SampleRate: d.cfg.SampleRate,
		Channels:   1,
		Language:   d.cfg.Language,
	}
	if t == store.ContentSentence {
		cfg.Continuous = true
		cfg.InterimResults = true
	}
	return cfg
}

func (d *Drill) recordProviderRequest(ctx context.Context, provider, status string) {
	if d.metrics != nil {
		d.metrics.RecordProviderRequest(ctx, provider, status)
	}
}

// finalTranscript joins the trimmed final results of ev, the way a
// flashcard reads a single-shot recognition.
func finalTranscript(ev stt.Event) string {
	var b strings.Builder
	for _, r := range ev.Results[ev.ResultIndex:] {
		if r.IsFinal {
			b.WriteString(strings.TrimSpace(r.Transcript))
		}
	}
	return b.String()
}
