package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/Napageneral/airport/internal/config"
	"github.com/Napageneral/airport/internal/history"
)

func newHistoryCmd(out io.Writer, configPath *string) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded simulation runs",
	}

	open := func() (*history.Store, error) {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		return history.Open(cfg.History.DBPath)
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []history.Run{}
			}
			return printJSON(out, runs)
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 = all)")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the full report of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			report, err := store.Report(args[0])
			if err != nil {
				return err
			}
			return printJSON(out, report)
		},
	}

	eventsCmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Print the plane events of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			events, err := store.Events(args[0])
			if err != nil {
				return err
			}
			if events == nil {
				events = []history.Event{}
			}
			return printJSON(out, events)
		},
	}

	queryCmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a read-only SQL query against the history database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			return printJSON(out, store.Query(args[0]))
		},
	}

	historyCmd.AddCommand(listCmd, showCmd, eventsCmd, queryCmd)
	return historyCmd
}
