package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/phobosrover/phobosexec/command"
	"github.com/phobosrover/phobosexec/script"
)

var checkCmd = &cobra.Command{
	Use:   "check <script>",
	Short: "Load a script and print its timeline without running it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := consoleLogger(cmd.ErrOrStderr(), cfg.Log.Level)
		defer logger.Sync() //nolint:errcheck

		interp, err := script.Load(args[0], logger)
		if err != nil {
			return err
		}

		return printTimeline(cmd.OutOrStdout(), interp.Pending())
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func printTimeline(w io.Writer, cmds []script.ScheduledCommand) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "TIME\tTYPE\tCOMMAND")

	for _, c := range cmds {
		fmt.Fprintf(tw, "%.2f\t%s\t%s\n",
			float64(c.ExecTime), c.Command.Tag(), describe(c.Command))
	}

	return tw.Flush()
}

func describe(cmd command.Command) string {
	switch c := cmd.(type) {
	case command.Invalid:
		return "invalid: " + c.Err.Error()
	case command.Unknown:
		return "unknown command type, will make safe"
	default:
		return fmt.Sprint(c)
	}
}
