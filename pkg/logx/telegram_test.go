package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"spudbot/internal/transport"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
	to   []transport.ChatTarget
}

func (r *recordingSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	r.to = append(r.to, to)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(r.msgs)}, nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestFormatTelegramJSON(t *testing.T) {
	line := `{"level":"warn","time":"2024-01-01T00:00:00Z","message":"calendar update failed","kind":"epoch","comp":"events"}`
	got := formatTelegramJSON([]byte(line))
	want := "[WARN] calendar update failed\n- comp=events\n- kind=epoch"
	if got != want {
		t.Fatalf("formatTelegramJSON:\n got %q\nwant %q", got, want)
	}

	raw := formatTelegramJSON([]byte("  not json  "))
	if raw != "not json" {
		t.Fatalf("raw passthrough: got %q", raw)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 10); got != "abcdef" {
		t.Fatalf("short string changed: %q", got)
	}
	got := truncate(strings.Repeat("x", 50), 20)
	if len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncation %q", got)
	}
}

func TestTelegramSinkHonorsMinLevel(t *testing.T) {
	svc, log := New(Config{
		Level: "debug",
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     -100,
			ThreadID:   7,
			MinLevel:   "warn",
			RatePerSec: 100,
		},
	})
	defer svc.Close()

	rec := &recordingSender{}
	svc.SetSender(rec)

	log.Info("routine poll")
	log.Warn("calendar unreachable", String("kind", "gap"))

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.msgs) != 1 {
		t.Fatalf("expected exactly one mirrored record, got %d: %v", len(rec.msgs), rec.msgs)
	}
	if !strings.HasPrefix(rec.msgs[0], "[WARN] calendar unreachable") {
		t.Fatalf("unexpected message %q", rec.msgs[0])
	}
	if rec.to[0] != (transport.ChatTarget{ChatID: -100, ThreadID: 7}) {
		t.Fatalf("unexpected target %+v", rec.to[0])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"chatty":  zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in, zerolog.InfoLevel); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped")
	l.With(String("k", "v")).Warn("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}
