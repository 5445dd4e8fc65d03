package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/cabmeter/internal/history"
	"github.com/autopeer-io/cabmeter/internal/trip"
	"github.com/autopeer-io/cabmeter/pkg/options"
)

func newHistoryCommand() *cobra.Command {
	store := options.NewStoreOptions()
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print completed trips from the local history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := history.Open(store.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			trips, err := s.List(context.Background(), limit)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), historyTable(trips))
			return err
		},
	}
	cmd.Flags().StringVar(&store.Path, "store.path", store.Path, "Path of the trip history database.")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of trips to print, 0 for all.")
	return cmd
}

func historyTable(trips []*trip.Trip) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("ID", "START", "END", "DISTANCE (M)", "FARE", "EXTRA", "TOTAL", "DASH")
	for _, t := range trips {
		end := "-"
		if t.EndTime != nil {
			end = t.EndTime.Local().Format(time.DateTime)
		}
		table.AddRow(
			t.ID,
			t.StartTime.Local().Format(time.DateTime),
			end,
			strconv.FormatFloat(t.DistanceMeters, 'f', 0, 64),
			strconv.FormatFloat(t.Fare, 'f', 2, 64),
			strconv.FormatFloat(t.Extra, 'f', 2, 64),
			strconv.FormatFloat(t.TotalFare, 'f', 2, 64),
			strconv.FormatBool(t.IsDash),
		)
	}
	return table
}
