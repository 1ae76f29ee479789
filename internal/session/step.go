package session

import (
	"context"
	"fmt"
	"log/slog"
)

// A single provisioning step.
//
// check probes whether the step's destination already exists; when it
// reports true and overwrite is false, the step fails with
// ErrAlreadyExists and action is never called. A nil check means the
// step always runs.
type step struct {
	name      string
	group     string
	overwrite bool
	check     func(ctx context.Context) (bool, error)
	action    func(ctx context.Context) error
}

// Runs the steps in order, stopping at the first failure.
//
// Failures carry the step name and group so the caller can tell which
// part of provisioning broke.
func runSteps(ctx context.Context, steps []step) error {
	for _, st := range steps {
		if st.check != nil {
			present, err := st.check(ctx)
			if err != nil {
				return fmt.Errorf("step %q (%s): %w: %w", st.name, st.group, ErrStepFailed, err)
			}
			if present && !st.overwrite {
				return fmt.Errorf("step %q (%s): %w", st.name, st.group, ErrAlreadyExists)
			}
		}

		slog.Debug("running setup step", "step", st.name, "group", st.group)
		if err := st.action(ctx); err != nil {
			return fmt.Errorf("step %q (%s): %w: %w", st.name, st.group, ErrStepFailed, err)
		}
	}
	return nil
}
