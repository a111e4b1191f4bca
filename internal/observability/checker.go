package observability

import "context"

// Checker is a dependency verified by the readiness probe.
// Check must honour ctx; the probe cancels it after the configured timeout.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a plain function into a Checker.
type CheckFunc struct {
	Component string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string { return c.Component }

func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
