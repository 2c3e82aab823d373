// Package cli implements logbookctl, the command line companion of the logbook API: it renders
// and inspects entry documents offline and manages the database schema.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"logbook/api/internal/logging"
)

type options struct {
	configFile string
	logLevel   string
}

// NewRootCommand builds the logbookctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "logbookctl",
		Short:         "Inspect logbook entry documents and manage the logbook database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetupWriter(cmd.ErrOrStderr(), opts.logLevel, "console")
		},
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default is $LOGBOOK_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newRenderCommand(),
		newExtractCommand(),
		newMatchCommand(),
		newImportHTMLCommand(),
		newMigrateCommand(opts),
	)
	return root
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

// readInput reads a file argument, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
