package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"finplan/internal/core"
	"finplan/internal/log"
)

type obligationFlags struct {
	description  string
	amount       string
	direction    string
	frequency    string
	start        string
	end          string
	profileID    int64
	categoryID   int64
	reserveID    int64
	skipPastRuns bool
	format       string
}

func (f obligationFlags) toObligation() (core.RecurringObligation, error) {
	amount, err := core.ParseMoney(f.amount)
	if err != nil {
		return core.RecurringObligation{}, fmt.Errorf("invalid --amount: %w", err)
	}
	start, err := core.ParseDate(f.start)
	if err != nil {
		return core.RecurringObligation{}, fmt.Errorf("invalid --start: %w", err)
	}
	var end core.Date
	if f.end != "" {
		if end, err = core.ParseDate(f.end); err != nil {
			return core.RecurringObligation{}, fmt.Errorf("invalid --end: %w", err)
		}
	}

	return core.RecurringObligation{
		Description:     strings.TrimSpace(f.description),
		Amount:          amount,
		Direction:       core.Direction(strings.ToUpper(f.direction)),
		Frequency:       core.Frequency(strings.ToUpper(f.frequency)),
		StartDate:       start,
		EndDate:         end,
		ProfileID:       f.profileID,
		CategoryID:      f.categoryID,
		LinkedReserveID: f.reserveID,
	}, nil
}

func addObligationCmd(opts *rootOptions) *cobra.Command {
	var f obligationFlags

	c := &cobra.Command{
		Use:   "add-obligation",
		Short: "Register a recurring income or expense",
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := f.toObligation()
			if err != nil {
				return err
			}

			app, err := opts.openApp(false)
			if err != nil {
				return err
			}
			defer app.Close()

			created, err := app.Obligations.Create(cmd.Context(), o, f.skipPastRuns)
			if err != nil {
				return err
			}
			app.Logger.WithComponent(log.ComponentCLI).Info("Obligation registered",
				log.NewFields().WithObligation(created).WithOperation(log.OpCreate).ToSlice()...)

			out := cmd.OutOrStdout()
			if f.format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(obligationView(created))
			}
			fmt.Fprintf(out, "Obligation #%d %q: %s %s, next run %s (active=%t)\n",
				created.ID, created.Description, created.Frequency, created.Amount, created.NextRun, created.Active)
			return nil
		},
	}

	c.Flags().StringVarP(&f.description, "description", "d", "", "Description (required)")
	c.Flags().StringVarP(&f.amount, "amount", "a", "", "Amount, e.g. 200.00 (required)")
	c.Flags().StringVar(&f.direction, "direction", "expense", "expense|income")
	c.Flags().StringVarP(&f.frequency, "frequency", "f", "monthly", "weekly|monthly|yearly")
	c.Flags().StringVar(&f.start, "start", "", "First occurrence, YYYY-MM-DD (required)")
	c.Flags().StringVar(&f.end, "end", "", "Last allowed occurrence, YYYY-MM-DD")
	c.Flags().Int64Var(&f.profileID, "profile", 0, "Owning profile ID (required)")
	c.Flags().Int64Var(&f.categoryID, "category", 0, "Budget category ID")
	c.Flags().Int64Var(&f.reserveID, "reserve", 0, "Linked reserve goal ID")
	c.Flags().BoolVar(&f.skipPastRuns, "skip-past-runs", false, "Start from the first occurrence on or after today")
	c.Flags().StringVar(&f.format, "format", "pretty", "Output format: pretty|json")

	for _, name := range []string{"description", "amount", "start", "profile"} {
		_ = c.MarkFlagRequired(name)
	}
	return c
}

type obligationJSON struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Direction   string `json:"direction"`
	Frequency   string `json:"frequency"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date,omitempty"`
	NextRun     string `json:"next_run"`
	Active      bool   `json:"active"`
	ProfileID   int64  `json:"profile_id"`
	CategoryID  int64  `json:"category_id,omitempty"`
	ReserveID   int64  `json:"reserve_id,omitempty"`
}

func obligationView(o core.RecurringObligation) obligationJSON {
	return obligationJSON{
		ID:          o.ID,
		Description: o.Description,
		Amount:      o.Amount.String(),
		Direction:   string(o.Direction),
		Frequency:   string(o.Frequency),
		StartDate:   o.StartDate.String(),
		EndDate:     o.EndDate.String(),
		NextRun:     o.NextRun.String(),
		Active:      o.Active,
		ProfileID:   o.ProfileID,
		CategoryID:  o.CategoryID,
		ReserveID:   o.LinkedReserveID,
	}
}
