package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muhammad1505/idm-open/internal/engine"
)

// lifecycleOp is the shape shared by pause/resume/cancel/remove: one
// engine call taking a context and a task id.
type lifecycleOp func(e *engine.Engine, ctx context.Context, id string) error

func lifecycleCmd(use, short string, op lifecycleOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return fmt.Errorf("opening engine: %w", err)
			}
			defer e.Shutdown()
			return op(e, cmd.Context(), args[0])
		},
	}
}

var pauseCmd = lifecycleCmd("pause", "pause an active or queued task", func(e *engine.Engine, ctx context.Context, id string) error {
	return e.Pause(ctx, id)
})

var resumeCmd = lifecycleCmd("resume", "resume a paused or failed task", func(e *engine.Engine, ctx context.Context, id string) error {
	// Resume, like add_task, admits immediately (so a resumed task re-enters
	// at the head of its priority band and actually starts running): wait
	// it out for the same reason add does, or the deferred Shutdown cancels
	// it back to paused a moment after resuming it.
	if err := e.Resume(ctx, id); err != nil {
		return err
	}
	return waitForNoActive(ctx, e)
})

var cancelCmd = lifecycleCmd("cancel", "cancel a queued or active task", func(e *engine.Engine, ctx context.Context, id string) error {
	return e.Cancel(ctx, id)
})

var removeCmd = lifecycleCmd("remove", "cancel if needed and delete a task's records", func(e *engine.Engine, ctx context.Context, id string) error {
	return e.Remove(ctx, id)
})
