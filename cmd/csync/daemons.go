package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/csync-dev/csync/internal/registry"
)

func init() {
	rootCmd.AddCommand(newDaemonsCmd())
}

func newDaemonsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "daemons",
		Aliases: []string{"daemon-status"},
		Short:   "Show the status of all running csync daemons",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			reg, err := registry.New(registry.DefaultRoot())
			if err != nil {
				return err
			}

			records := reg.ListAll()
			if len(records) == 0 {
				fmt.Println(yellow("No running csync daemons found"))
				return nil
			}

			headerStyle := lipgloss.NewStyle().Bold(true)
			t := table.New().
				Border(lipgloss.NormalBorder()).
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == table.HeaderRow {
						return headerStyle
					}
					return lipgloss.NewStyle().Padding(0, 1)
				}).
				Headers("PID", "LOCAL PATH", "REMOTE TARGET", "STARTED", "SYNCS", "LAST SYNC")

			for _, rec := range records {
				lastSync := "never"
				if rec.LastSync != nil {
					lastSync = humanize.Time(*rec.LastSync)
				}
				t.Row(
					strconv.Itoa(rec.PID),
					rec.LocalPath,
					rec.RemoteTarget,
					humanize.Time(rec.StartedAt),
					strconv.FormatUint(rec.SyncCount, 10),
					lastSync,
				)
			}

			fmt.Println(t)
			return nil
		},
	}
}
