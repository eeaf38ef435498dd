package browser

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAcquirePage_Disabled(t *testing.T) {
	b := New(Config{Enabled: false})
	_, err := b.AcquirePage(context.Background())
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("AcquirePage() error = %v, want ErrDisabled", err)
	}
}

func TestAcquirePage_CancelledWhileWaiting(t *testing.T) {
	b := New(Config{Enabled: true, MaxPages: 1})
	// Occupy the only slot without launching Chromium.
	b.slots <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.AcquirePage(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AcquirePage() error = %v, want deadline exceeded", err)
	}
}

func TestShutdown_IdempotentWithoutStart(t *testing.T) {
	b := New(Config{Enabled: true})
	// Never started: both calls are no-ops.
	b.Shutdown()
	b.Shutdown()

	_, err := b.AcquirePage(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("AcquirePage() after Shutdown error = %v, want ErrClosed", err)
	}
}

func TestNew_DefaultMaxPages(t *testing.T) {
	b := New(Config{Enabled: true, MaxPages: 0})
	if cap(b.slots) != 3 {
		t.Errorf("slot capacity = %d, want 3", cap(b.slots))
	}
}

func TestPageNumRegex(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"?page=7", "7"},
		{"/results?distance=10k&page=12", "12"},
		{"3", "3"},
		{"next", ""},
	}
	for _, tt := range tests {
		m := pageNumRe.FindStringSubmatch(tt.in)
		got := ""
		if m != nil {
			got = m[1]
		}
		if got != tt.want {
			t.Errorf("pageNumRe(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
