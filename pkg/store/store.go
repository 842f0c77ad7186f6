// Package store defines the persistence collaborators of the practice server:
// the content catalogue (words and sentences maintained by administrators)
// and the append-only progress log written when a learner completes an item.
//
// All interfaces are public so that alternative backends can be supplied.
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextLength is the longest content text or record identifier, in runes,
// the store accepts. Scoring cost grows with the product of the lengths
// compared.
const MaxTextLength = 1000

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrInvalid is wrapped by all validation failures.
var ErrInvalid = errors.New("store: invalid input")

// ContentType discriminates the two kinds of practice content.
type ContentType string

const (
	// ContentWord is a single word practised as a flashcard.
	ContentWord ContentType = "word"
	// ContentSentence is a sentence practised on the reading screen.
	ContentSentence ContentType = "sentence"
)

// ParseContentType accepts the singular and plural forms used in URLs
// ("word", "words", "sentence", "sentences").
func ParseContentType(s string) (ContentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "word", "words":
		return ContentWord, nil
	case "sentence", "sentences":
		return ContentSentence, nil
	default:
		return "", fmt.Errorf("%w: unknown content type %q", ErrInvalid, s)
	}
}

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	return t == ContentWord || t == ContentSentence
}

// Content is one practice item.
type Content struct {
	ID        string      `json:"id"`
	Type      ContentType `json:"type"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Progress records one completed practice item.
type Progress struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	ContentID   string      `json:"contentId"`
	ContentType ContentType `json:"contentType"`
	Accuracy    int         `json:"accuracy"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Validate checks the caller-supplied fields of p.
func (p Progress) Validate() error {
	var errs []error
	if strings.TrimSpace(p.UserID) == "" {
		errs = append(errs, errors.New("userId is required"))
	}
	if strings.TrimSpace(p.ContentID) == "" {
		errs = append(errs, errors.New("contentId is required"))
	}
	if utf8.RuneCountInString(p.UserID) > MaxTextLength || utf8.RuneCountInString(p.ContentID) > MaxTextLength {
		errs = append(errs, fmt.Errorf("userId and contentId are limited to %d characters", MaxTextLength))
	}
	if !p.ContentType.Valid() {
		errs = append(errs, fmt.Errorf("unknown contentType %q", p.ContentType))
	}
	if p.Accuracy < 0 || p.Accuracy > 100 {
		errs = append(errs, fmt.Errorf("accuracy %d out of range [0,100]", p.Accuracy))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// NormalizeText trims text and rejects empty content or content longer than
// [MaxTextLength].
func NormalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: text is required", ErrInvalid)
	}
	if n := utf8.RuneCountInString(text); n > MaxTextLength {
		return "", fmt.Errorf("%w: text has %d characters, limit is %d", ErrInvalid, n, MaxTextLength)
	}
	return text, nil
}

// ContentStore is the content catalogue.
type ContentStore interface {
	// ListContent returns all items of type t, newest first.
	ListContent(ctx context.Context, t ContentType) ([]Content, error)

	// GetContent returns the item of type t with the given id, or ErrNotFound.
	GetContent(ctx context.Context, t ContentType, id string) (Content, error)

	// AddContent stores a new item and returns it with ID and CreatedAt set.
	AddContent(ctx context.Context, t ContentType, text string) (Content, error)

	// UpdateContent replaces the text of an existing item, or returns
	// ErrNotFound.
	UpdateContent(ctx context.Context, t ContentType, id, text string) (Content, error)

	// DeleteContent removes an item, or returns ErrNotFound.
	DeleteContent(ctx context.Context, t ContentType, id string) error
}

// ProgressStore is the append-only progress log.
type ProgressStore interface {
	// AppendProgress validates and stores p, returning it with ID and
	// CreatedAt set.
	AppendProgress(ctx context.Context, p Progress) (Progress, error)

	// ListProgress returns all records of userID, newest first.
	ListProgress(ctx context.Context, userID string) ([]Progress, error)
}

// Store combines both collaborators with a liveness probe.
type Store interface {
	ContentStore
	ProgressStore

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
