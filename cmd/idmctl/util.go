package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/muhammad1505/idm-open/internal/engine"
)

// cmdOut is where command output is written; overridden by tests.
var cmdOut = func() io.Writer { return os.Stdout }

func printTable(tasks []engine.TaskDetail) {
	w := tabwriter.NewWriter(cmdOut(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tDOWNLOADED\tTOTAL\tURL")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", t.ID, t.Status, t.DownloadedBytes, t.TotalBytes, t.URL)
	}
	w.Flush()
}
