package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaultsDebounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.lua")
	if err := os.WriteFile(path, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	w, err := New(path, 0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer w.Close()

	if w.debounce != DefaultDebounce {
		t.Errorf("debounce = %v, want default %v", w.debounce, DefaultDebounce)
	}
}

func TestNewHonorsExplicitDebounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.lua")
	if err := os.WriteFile(path, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	w, err := New(path, 250*time.Millisecond)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer w.Close()

	if w.debounce != 250*time.Millisecond {
		t.Errorf("debounce = %v, want 250ms", w.debounce)
	}
}

func TestNewResolvesAbsolutePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.lua")
	if err := os.WriteFile(path, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	w, err := New(path, 0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer w.Close()

	if !filepath.IsAbs(w.path) {
		t.Errorf("path = %q, want an absolute path", w.path)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.lua")
	if err := os.WriteFile(path, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	w, err := New(path, 0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestWatchReturnsAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.lua")
	if err := os.WriteFile(path, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	w, err := New(path, 0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- w.Watch(func() {}, nil)
	}()

	if err := w.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned error %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after Close")
	}
}

func TestErrClosedIsDistinctSentinel(t *testing.T) {
	if ErrClosed == nil {
		t.Fatal("ErrClosed must not be nil")
	}
	if ErrClosed.Error() == "" {
		t.Error("ErrClosed must carry a message")
	}
}
