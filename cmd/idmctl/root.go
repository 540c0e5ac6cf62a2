package main

import (
	"github.com/spf13/cobra"

	"github.com/muhammad1505/idm-open/internal/config"
	"github.com/muhammad1505/idm-open/internal/engine"
)

var (
	flagDB          string
	flagDownloadDir string
	flagMaxActive   int
)

var rootCmd = &cobra.Command{
	Use:   "idmctl",
	Short: "a command-line exerciser for the idm-open download engine",
	Long: `idmctl drives the download engine's public operations one at a time:
add a task, list tasks, inspect one, pause/resume/cancel/remove it, or
admit queued tasks. Each invocation opens the engine against the durable
store at --db, performs one operation, and closes it again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it. It only
// needs to happen once, from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaults := config.DefaultSettings()
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", defaults.DBPath, "path to the task database")
	rootCmd.PersistentFlags().StringVar(&flagDownloadDir, "download-dir", defaults.DownloadDir, "default directory for tasks with no explicit destination")
	rootCmd.PersistentFlags().IntVar(&flagMaxActive, "max-active", defaults.MaxActiveTasks, "maximum number of concurrently active tasks")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(startNextCmd)
}

// openEngine builds the engine from environment-resolved defaults
// (config.LoadSettings), with --db/--download-dir/--max-active applied on
// top only where the caller actually passed them: an unset flag still
// carries its DefaultSettings() value, which would otherwise clobber an
// IDM_DB/IDM_DOWNLOAD_DIR/IDM_MAX_ACTIVE the environment already resolved.
func openEngine() (*engine.Engine, error) {
	settings := config.LoadSettings()
	flags := rootCmd.PersistentFlags()
	if flags.Changed("db") {
		settings.DBPath = flagDB
	}
	if flags.Changed("download-dir") {
		settings.DownloadDir = flagDownloadDir
	}
	if flags.Changed("max-active") {
		settings.MaxActiveTasks = flagMaxActive
	}
	return engine.New(settings)
}
