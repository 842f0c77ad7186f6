package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/lexicdys/internal/app"
	"github.com/MrWong99/lexicdys/internal/config"
	"github.com/MrWong99/lexicdys/internal/observe"
	"github.com/MrWong99/lexicdys/pkg/provider/stt"
	sttmock "github.com/MrWong99/lexicdys/pkg/provider/stt/mock"
	"github.com/MrWong99/lexicdys/pkg/store"
	"github.com/MrWong99/lexicdys/pkg/store/memstore"
)

// testConfig returns a defaulted config for tests.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(`
server:
  listen_addr: "127.0.0.1:0"
store:
  seed:
    words: [cat, dog]
    sentences: ["The cat sat on the mat."]
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithMetrics(testMetrics(t)),
		app.WithMetricsHandler(http.NotFoundHandler()),
	}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func getJSON[T any](t *testing.T, url string) (T, int) {
	t.Helper()
	var v T
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return v, resp.StatusCode
}

func TestNew_SeedsInConfiguredOrder(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t), nil)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	words, status := getJSON[[]store.Content](t, srv.URL+"/api/content/words")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(words) != 2 || words[0].Text != "cat" || words[1].Text != "dog" {
		t.Errorf("words = %+v, want [cat dog]", words)
	}
	sentences, _ := getJSON[[]store.Content](t, srv.URL+"/api/content/sentences")
	if len(sentences) != 1 {
		t.Errorf("sentences = %+v, want one seeded sentence", sentences)
	}
}

func TestNew_SeedSkipsExistingContent(t *testing.T) {
	t.Parallel()

	st := memstore.New(memstore.WithContent(store.Content{
		ID:        "w1",
		Type:      store.ContentWord,
		Text:      "fox",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	newApp(t, testConfig(t), nil, app.WithStore(st))

	words, err := st.ListContent(context.Background(), store.ContentWord)
	if err != nil {
		t.Fatal(err)
	}
	if len(words) != 1 || words[0].Text != "fox" {
		t.Errorf("words = %+v, want only the existing fox", words)
	}
	sentences, _ := st.ListContent(context.Background(), store.ContentSentence)
	if len(sentences) != 1 {
		t.Errorf("sentences = %d, want the seed applied per type", len(sentences))
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		providers *app.Providers
		want      string
	}{
		{"no speech", nil, "degraded"},
		{"speech", &app.Providers{STT: app.NamedSTT{Name: "mock", Provider: &sttmock.Provider{}}}, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newApp(t, testConfig(t), tt.providers)
			srv := httptest.NewServer(a.Handler())
			t.Cleanup(srv.Close)

			body, status := getJSON[struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}](t, srv.URL+"/readyz")
			if status != http.StatusOK {
				t.Errorf("status = %d, want 200", status)
			}
			if body.Status != tt.want {
				t.Errorf("readyz status = %q, want %q (checks %v)", body.Status, tt.want, body.Checks)
			}
		})
	}
}

func TestPractice_FailsOverToFallback(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{StartStreamErr: stt.NewError(stt.CodeNetwork, "connection refused")}
	fallback := &sttmock.Provider{}
	a := newApp(t, testConfig(t), &app.Providers{
		STT:       app.NamedSTT{Name: "deepgram", Provider: primary},
		Fallbacks: []app.NamedSTT{{Name: "whisper", Provider: fallback}},
	})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/practice/words", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	read := func(wantType string) {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read %s: %v", wantType, err)
		}
		var f struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &f); err != nil || f.Type != wantType {
			t.Fatalf("frame = %s, want type %q", data, wantType)
		}
	}
	read("item")
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"listen"}`)); err != nil {
		t.Fatal(err)
	}
	read("listening")

	if got := primary.CallCount(); got != 1 {
		t.Errorf("primary calls = %d, want 1", got)
	}
	if fallback.LastSession() == nil {
		t.Error("fallback did not open a stream")
	}
	fallback.LastSession().End()
}

func TestReload(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	old := testConfig(t)
	a := newApp(t, old, nil, app.WithLevelVar(lv))

	updated := *old
	updated.Server.LogLevel = config.LogDebug
	updated.Practice.AdvanceDelay = 3 * time.Second
	updated.Practice.PhoneticFallback = true
	updated.Server.ListenAddr = ":9999"

	a.Reload(old, &updated)

	if got := lv.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v, want debug", got)
	}
	if got := a.Tuning(); got.AdvanceDelay != 3*time.Second || !got.PhoneticFallback {
		t.Errorf("tuning = %+v after reload", got)
	}
}

func TestServeAndShutdown(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), nil,
		app.WithMetrics(testMetrics(t)),
		app.WithMetricsHandler(http.NotFoundHandler()),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
	defer stop()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("second Shutdown() = %v, want nil", err)
	}
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Server.ListenAddr = "256.0.0.1:bad"
	a := newApp(t, cfg, nil)
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded on an invalid address")
	}
}
