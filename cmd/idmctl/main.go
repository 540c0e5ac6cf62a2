// Command idmctl is a thin command-line exerciser for the engine facade:
// every subcommand maps onto exactly one operation of add_task/list_tasks/
// get_task/pause/resume/cancel/remove/enqueue_queued/start_next. It holds
// no state of its own beyond the flags on the command line; the durable
// store under --db is the only thing that persists between invocations.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
