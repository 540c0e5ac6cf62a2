package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list every task",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return fmt.Errorf("opening engine: %w", err)
		}
		defer e.Shutdown()

		tasks, err := e.ListTasks(cmd.Context())
		if err != nil {
			return err
		}
		if listJSON {
			return printJSON(tasks)
		}
		printTable(tasks)
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print the task list as JSON instead of a table")
}
