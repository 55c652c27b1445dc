package cache

import (
	"io"
	"log/slog"
)

// logger wraps *slog.Logger with the small vocabulary the cache needs
// (scavenge summaries, eviction reasons, disposal) and a guaranteed
// non-nil default. It never participates in control flow: every call
// site that logs would behave identically with the logger removed.
type logger struct {
	base *slog.Logger
}

// newLogger wraps base, or falls back to a logger that discards
// everything when base is nil (the default when WithLogger is omitted).
func newLogger(base *slog.Logger) *logger {
	if base == nil {
		base = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &logger{base: base}
}

func (l *logger) withKey(key string) *slog.Logger {
	return l.base.With("key", key)
}

func (l *logger) scavengeStarted(reason string) {
	l.base.Debug("scavenge pass starting", "reason", reason)
}

func (l *logger) scavengeCompleted(reason string, removed int64, aborted bool) {
	l.base.Info("scavenge pass completed", "reason", reason, "removed", removed, "aborted_early", aborted)
}

func (l *logger) evicted(key string, size int64, reason string) {
	l.withKey(key).Debug("entry evicted", "size", size, "reason", reason)
}

func (l *logger) oversizeAdmitted(key string, size, capacity int64) {
	l.withKey(key).Warn("admitted entry larger than capacity", "size", size, "capacity", capacity)
}

func (l *logger) disposed() {
	l.base.Info("cache disposed")
}

func (l *logger) releaseFailed(key string, err error) {
	l.withKey(key).Warn("payload release failed", "error", err)
}
