package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muhammad1505/idm-open/internal/engine"
	"github.com/muhammad1505/idm-open/internal/storage"
)

var (
	addDest        string
	addHeaders     []string
	addMirrors     []string
	addPriority    int
	addSpeedCap    int
	addProxy       string
	addAuthUser    string
	addAuthPass    string
	addChecksumAlg string
	addChecksumHex string
	addNoWait      bool
)

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "add a new download task",
	Long: `add creates a new queued task for url and admits it if a slot is free.

Since idmctl holds the engine only for the lifetime of one invocation, add
blocks and polls until no task is active any more (this one and any other
the admission pass started) before printing the task's detail and exiting,
unless --no-wait is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return fmt.Errorf("opening engine: %w", err)
		}
		defer e.Shutdown()

		opts := engine.AddTaskOptions{
			Mirrors:     addMirrors,
			Priority:    addPriority,
			SpeedCapBPS: addSpeedCap,
			Proxy:       addProxy,
			AuthUser:    addAuthUser,
			AuthPass:    addAuthPass,
			ChecksumAlg: addChecksumAlg,
			ChecksumHex: addChecksumHex,
		}
		if len(addHeaders) > 0 {
			opts.Headers = make(map[string]string, len(addHeaders))
			for _, h := range addHeaders {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("malformed --header %q, want \"Name: Value\"", h)
				}
				opts.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
			}
		}

		id, err := e.AddTask(cmd.Context(), args[0], addDest, opts)
		if err != nil {
			return err
		}
		fmt.Println(id)

		if addNoWait {
			return nil
		}
		// add_task's admission pass (AdmitAll) can pull in other tasks that
		// were already queued, not just this one: wait for every active
		// task to finish, not only id, so Shutdown doesn't cancel a
		// bystander task back to paused the moment this one completes.
		if err := waitForNoActive(cmd.Context(), e); err != nil {
			return err
		}
		d, err := e.GetTask(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(d)
	},
}

// waitForTerminal polls get_task until the task reaches a terminal status,
// then prints its final detail as JSON.
func waitForTerminal(ctx context.Context, e *engine.Engine, id string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d, err := e.GetTask(ctx, id)
			if err != nil {
				return err
			}
			if d == nil {
				return fmt.Errorf("task %s disappeared", id)
			}
			switch storage.Status(d.Status) {
			case storage.StatusCompleted, storage.StatusFailed, storage.StatusCanceled:
				return printJSON(d)
			}
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(cmdOut())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	addCmd.Flags().StringVarP(&addDest, "dest", "d", "", "destination file or directory (default: engine download dir)")
	addCmd.Flags().StringArrayVar(&addHeaders, "header", nil, "extra request header \"Name: Value\" (repeatable)")
	addCmd.Flags().StringArrayVar(&addMirrors, "mirror", nil, "alternative URL to fall back to, lowest-rank first (repeatable)")
	addCmd.Flags().IntVar(&addPriority, "priority", 0, "higher runs first among queued tasks")
	addCmd.Flags().IntVar(&addSpeedCap, "speed-cap", 0, "per-task throttle in bytes/sec (0 = unlimited)")
	addCmd.Flags().StringVar(&addProxy, "proxy", "", "proxy URL for this task's requests")
	addCmd.Flags().StringVar(&addAuthUser, "auth-user", "", "basic auth username")
	addCmd.Flags().StringVar(&addAuthPass, "auth-pass", "", "basic auth password")
	addCmd.Flags().StringVar(&addChecksumAlg, "checksum-alg", "", "expected checksum algorithm (md5, sha1, sha256, sha512)")
	addCmd.Flags().StringVar(&addChecksumHex, "checksum-hex", "", "expected checksum, hex-encoded")
	addCmd.Flags().BoolVar(&addNoWait, "no-wait", false, "return immediately after queuing instead of waiting for completion")
}
