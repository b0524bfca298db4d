package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phobosrover/phobosexec/datarecording"
	"github.com/phobosrover/phobosexec/executive"
	"github.com/phobosrover/phobosexec/loco"
)

var inspectTail int

var inspectCmd = &cobra.Command{
	Use:   "inspect <archive.sqlite3>",
	Short: "List the tables of an archive and print its latest rows.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := datarecording.OpenReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		reader.MapTable(executive.ExecArchTable, executive.ExecArchEntry{})
		reader.MapTable(loco.ArchTable, loco.ArchEntry{})

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		tables, err := reader.Tables(ctx)
		if err != nil {
			return err
		}

		for _, table := range tables {
			n, err := reader.Count(ctx, table)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s: %d rows\n", table, n)

			if inspectTail <= 0 || !knownTable(table) {
				continue
			}

			rows, err := reader.Query(ctx, table, datarecording.QueryParams{
				OrderBy: "ElapsedS DESC",
				Limit:   inspectTail,
			})
			if err != nil {
				return err
			}

			for i := len(rows) - 1; i >= 0; i-- {
				fmt.Fprintf(out, "  %+v\n", rows[i])
			}
		}

		return nil
	},
}

func knownTable(table string) bool {
	return table == executive.ExecArchTable || table == loco.ArchTable
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().IntVar(&inspectTail, "tail", 5,
		"number of latest rows to print for known tables")
}
