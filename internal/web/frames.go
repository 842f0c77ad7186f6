package web

import (
	"errors"
	"sync"

	"github.com/MrWong99/lexicdys/internal/practice"
	"github.com/MrWong99/lexicdys/pkg/scoring"
	"github.com/MrWong99/lexicdys/pkg/store"
)

// Server-to-client frames on the practice WebSocket. Every frame is a JSON
// object with a "type" field.

type itemFrame struct {
	Type  string        `json:"type"` // "item"
	Index int           `json:"index"`
	Total int           `json:"total"`
	Item  store.Content `json:"item"`
}

type listeningFrame struct {
	Type      string `json:"type"` // "listening"
	Listening bool   `json:"listening"`
}

type scoreFrame struct {
	Type       string `json:"type"` // "score"
	Transcript string `json:"transcript"`
	Score      int    `json:"score"`
	Band       string `json:"band"`
}

type completeFrame struct {
	Type  string        `json:"type"` // "complete"
	Item  store.Content `json:"item"`
	Score int           `json:"score"`
}

type errorFrame struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

type finishedFrame struct {
	Type string `json:"type"` // "finished"
}

type statusFrame struct {
	Type       string        `json:"type"` // "status"
	Index      int           `json:"index"`
	Total      int           `json:"total"`
	Item       store.Content `json:"item"`
	Transcript string        `json:"transcript"`
	Score      int           `json:"score"`
	State      string        `json:"state"`
	Listening  bool          `json:"listening"`
	Finished   bool          `json:"finished"`
}

// clientCommand is a text frame sent by the client.
type clientCommand struct {
	Type string `json:"type"`
}

// Error codes for failures that are not recognition errors.
const (
	codeBadRequest = "bad-request"
	codeLocked     = "locked"
	codeFinished   = "finished"
)

var errUnknownCommand = errors.New("unknown command")

// errorFrameFor converts a drill error into the frame shown to the learner.
func errorFrameFor(err error) errorFrame {
	switch {
	case errors.Is(err, practice.ErrLocked):
		return errorFrame{Type: "error", Code: codeLocked, Message: "The item is complete. Moving on shortly."}
	case errors.Is(err, practice.ErrFinished):
		return errorFrame{Type: "error", Code: codeFinished, Message: "The practice set is finished."}
	case errors.Is(err, errUnknownCommand):
		return errorFrame{Type: "error", Code: codeBadRequest, Message: err.Error()}
	}
	var re *practice.RecognitionError
	if errors.As(err, &re) {
		return errorFrame{Type: "error", Code: string(re.Category), Message: re.Category.Message()}
	}
	cat := practice.Categorize(err)
	return errorFrame{Type: "error", Code: string(cat), Message: cat.Message()}
}

// outbox queues frames for the connection writer. Observer callbacks run
// under the drill lock, so pushing never blocks.
type outbox struct {
	mu     sync.Mutex
	frames []any
	ready  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{ready: make(chan struct{}, 1)}
}

func (o *outbox) push(f any) {
	o.mu.Lock()
	o.frames = append(o.frames, f)
	o.mu.Unlock()
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

func (o *outbox) drain() []any {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.frames
	o.frames = nil
	return out
}

// frameObserver turns drill notifications into frames.
type frameObserver struct {
	out *outbox
}

var _ practice.Observer = frameObserver{}

func (o frameObserver) ItemStarted(index, total int, item store.Content) {
	o.out.push(itemFrame{Type: "item", Index: index, Total: total, Item: item})
}

func (o frameObserver) ScoreUpdated(transcript string, score int, band scoring.Band) {
	o.out.push(scoreFrame{Type: "score", Transcript: transcript, Score: score, Band: band.String()})
}

func (o frameObserver) ItemCompleted(item store.Content, score int) {
	o.out.push(completeFrame{Type: "complete", Item: item, Score: score})
}

func (o frameObserver) ListeningChanged(listening bool) {
	o.out.push(listeningFrame{Type: "listening", Listening: listening})
}

func (o frameObserver) Failed(err *practice.RecognitionError) {
	o.out.push(errorFrameFor(err))
}

func (o frameObserver) Finished() {
	o.out.push(finishedFrame{Type: "finished"})
}
