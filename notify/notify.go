// Package notify carries user-visible signals (toasts) and haptic cues out of
// the service layer without tying it to a particular UI.
package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// Level classifies a notice.
type Level string

const (
	LevelError   Level = "error"
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
)

// Notice is one transient user-visible message.
type Notice struct {
	Level   Level
	Title   string
	Message string
}

// Notifier surfaces notices to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Func adapts a plain function into a Notifier.
type Func func(ctx context.Context, n Notice)

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, n Notice) {
	if f != nil {
		f(ctx, n)
	}
}

// Error builds an error notice.
func Error(title, message string) Notice {
	return Notice{Level: LevelError, Title: title, Message: message}
}

// LogNotifier writes notices to a structured logger. Used by headless
// front-ends where a log line is the toast.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if n.Level == LevelError {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, n.Message, slog.String("component", "notify"), slog.String("title", n.Title))
}

// Recorder keeps every notice it receives. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Reset drops recorded notices.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = nil
}

// Haptics plays short tactile cues.
type Haptics interface {
	Failure()
}

// NopHaptics ignores every cue.
type NopHaptics struct{}

func (NopHaptics) Failure() {}

// BellHaptics approximates a failure buzz on a terminal with the BEL character.
type BellHaptics struct {
	W io.Writer
}

func (b BellHaptics) Failure() {
	if b.W != nil {
		_, _ = io.WriteString(b.W, "\a")
	}
}
