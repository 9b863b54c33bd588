package logging

import "testing"

func TestNopLoggerDoesNotPanic(t *testing.T) {
	l := NewNop()
	l.Debug("x")
	l.Info("y", "k", "v")
	child := l.With("component", "test")
	child.Warn("z")
	child.Error("w")
}
