package logging

import "fundingkeeper/internal/core"

// Nop is a core.Logger that discards everything; used by unit tests across
// the module so they don't need a zap dependency wired up.
type Nop struct{ fields []any }

func NewNop() core.Logger { return &Nop{} }

func (n *Nop) Debug(string, ...any) {}
func (n *Nop) Info(string, ...any)  {}
func (n *Nop) Warn(string, ...any)  {}
func (n *Nop) Error(string, ...any) {}
func (n *Nop) Fatal(string, ...any) {}
func (n *Nop) With(kv ...any) core.Logger {
	return &Nop{fields: append(append([]any{}, n.fields...), kv...)}
}
