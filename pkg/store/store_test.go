package store_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/lexicdys/pkg/store"
)

func TestParseContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    store.ContentType
		wantErr bool
	}{
		{"word", store.ContentWord, false},
		{"words", store.ContentWord, false},
		{"Sentences", store.ContentSentence, false},
		{" sentence ", store.ContentSentence, false},
		{"paragraph", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := store.ParseContentType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseContentType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, store.ErrInvalid) {
			t.Errorf("ParseContentType(%q) error = %v, want ErrInvalid", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseContentType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProgress_Validate(t *testing.T) {
	t.Parallel()

	valid := store.Progress{UserID: "u1", ContentID: "c1", ContentType: store.ContentWord, Accuracy: 100}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate(valid) = %v, want nil", err)
	}

	tests := []struct {
		name string
		mut  func(p *store.Progress)
	}{
		{"missing user", func(p *store.Progress) { p.UserID = " " }},
		{"missing content", func(p *store.Progress) { p.ContentID = "" }},
		{"bad type", func(p *store.Progress) { p.ContentType = "poem" }},
		{"negative accuracy", func(p *store.Progress) { p.Accuracy = -1 }},
		{"accuracy above 100", func(p *store.Progress) { p.Accuracy = 101 }},
		{"long user", func(p *store.Progress) { p.UserID = strings.Repeat("u", store.MaxTextLength+1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := valid
			tt.mut(&p)
			if err := p.Validate(); !errors.Is(err, store.ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	if got, err := store.NormalizeText("  the quick fox "); err != nil || got != "the quick fox" {
		t.Errorf("NormalizeText = (%q, %v), want (%q, nil)", got, err, "the quick fox")
	}
	if _, err := store.NormalizeText(" \t"); !errors.Is(err, store.ErrInvalid) {
		t.Errorf("NormalizeText(blank) error = %v, want ErrInvalid", err)
	}

	limit := strings.Repeat("ä", store.MaxTextLength)
	if got, err := store.NormalizeText(" " + limit + " "); err != nil || got != limit {
		t.Errorf("NormalizeText(at limit) = (%d runes, %v), want the text back", len([]rune(got)), err)
	}
	if _, err := store.NormalizeText(limit + "a"); !errors.Is(err, store.ErrInvalid) {
		t.Errorf("NormalizeText(over limit) error = %v, want ErrInvalid", err)
	}
}
