// Package commands implements the bayeuxctl command line.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sioux-io/gobayeux"
)

var (
	address  string
	path     string
	logLevel string

	logger = logrus.New()
)

// Execute runs the root command against os.Args
func Execute() error {
	return newRootCmd(os.Stdout).Execute()
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "bayeuxctl",
		Short:         "Talk to a Bayeux server over a single pipelined connection",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid --loglevel %q: %w", logLevel, err)
			}
			logger.SetLevel(level)
			logger.SetOutput(cmd.ErrOrStderr())
			if address == "" {
				return fmt.Errorf("--address required")
			}
			return nil
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&address, "address", "", "host:port of the Bayeux server")
	root.PersistentFlags().StringVar(&path, "path", gobayeux.DefaultPath, "HTTP path the server is mounted at")
	root.PersistentFlags().StringVar(&logLevel, "loglevel", "error", "the level to log at")

	root.AddCommand(watchCmd(), publishCmd())
	return root
}

func clientOptions() []gobayeux.Option {
	return []gobayeux.Option{
		gobayeux.WithAddress(address),
		gobayeux.WithPath(path),
		gobayeux.WithLogger(logger),
	}
}

// renderMessages writes one row per message
func renderMessages(out io.Writer, ms []gobayeux.Message) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Channel", "Successful", "Data", "Error"})
	for _, m := range ms {
		t.AppendRow(table.Row{m.Channel, m.Successful, string(m.Data), m.Error})
	}
	t.Render()
}
