package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muhammad1505/idm-open/internal/engine"
	"github.com/muhammad1505/idm-open/internal/storage"
)

// waitForNoActive blocks until no task is in the active status, since
// idmctl has no background runner loop to keep admitted tasks progressing
// once this process exits: Shutdown would otherwise cancel them back to
// paused moments after admitting them.
func waitForNoActive(ctx context.Context, e *engine.Engine) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		tasks, err := e.ListTasks(ctx)
		if err != nil {
			return err
		}
		anyActive := false
		for _, t := range tasks {
			if storage.Status(t.Status) == storage.StatusActive {
				anyActive = true
				break
			}
		}
		if !anyActive {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue-queued",
	Short: "admit every queued task the active cap allows and wait for them to finish",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return fmt.Errorf("opening engine: %w", err)
		}
		defer e.Shutdown()

		n := e.EnqueueQueued()
		fmt.Println(n)
		if n == 0 {
			return nil
		}
		return waitForNoActive(cmd.Context(), e)
	},
}

var startNextCmd = &cobra.Command{
	Use:   "start-next",
	Short: "admit at most one queued task and wait for it to finish",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return fmt.Errorf("opening engine: %w", err)
		}
		defer e.Shutdown()

		id, ok := e.StartNext()
		if !ok {
			fmt.Println("(nothing to start)")
			return nil
		}
		fmt.Println(id)
		return waitForTerminal(cmd.Context(), e, id)
	},
}
