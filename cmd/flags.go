package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// rangeFlags are the flags selecting what a manual run reprocesses
type rangeFlags struct {
	entityTypeID int
	force        bool
	entities     []string
	start        string
	end          string
}

func (f *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.entityTypeID, "entity-type", 0, "Entity type id")
	cmd.Flags().BoolVar(&f.force, "force", false, "Reprocess ignoring checkpoints and cached aggregates")
	cmd.Flags().StringSliceVar(&f.entities, "entity", nil, "Restrict a forced run to these entity ids")
	cmd.Flags().StringVar(&f.start, "start", "", "Start of the reprocessed range (RFC3339)")
	cmd.Flags().StringVar(&f.end, "end", "", "End of the reprocessed range (RFC3339)")

	_ = cmd.MarkFlagRequired("entity-type")
}

func (f *rangeFlags) window() (start, end *time.Time, err error) {
	if start, err = parseTime("start", f.start); err != nil {
		return nil, nil, err
	}

	if end, err = parseTime("end", f.end); err != nil {
		return nil, nil, err
	}

	if start != nil && end != nil && !start.Before(*end) {
		return nil, nil, fmt.Errorf("--start %s must be before --end %s", f.start, f.end)
	}

	return start, end, nil
}

func parseTime(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}

	t = t.UTC()

	return &t, nil
}
