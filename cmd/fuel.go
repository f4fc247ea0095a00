package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"fleet-fuel-monitor/internal/alerts"
	"fleet-fuel-monitor/internal/models"
	"fleet-fuel-monitor/internal/parser"
	"fleet-fuel-monitor/internal/report"
	"fleet-fuel-monitor/internal/telemetry"

	"github.com/spf13/cobra"
)

// reportCmd builds daily distance and fuel reports
func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fleet reports",
	}

	var devices []string
	var from, to string
	var outputFormat string
	var output string

	dailyCmd := &cobra.Command{
		Use:   "daily",
		Short: "Daily distance and fuel consumed per device",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			start, end, err := report.ParseRange(from, to, loc, time.Now())
			if err != nil {
				return err
			}

			if len(devices) == 0 {
				if devices, err = database.DeviceIDs(); err != nil {
					return fmt.Errorf("error listing devices: %w", err)
				}
			}
			if len(devices) == 0 {
				fmt.Println("No devices to report on. Register vehicles or pass --device.")
				return nil
			}

			source, release, err := openSource(cmd.Context())
			if err != nil {
				return fmt.Errorf("telemetry source error: %w", err)
			}
			defer release()

			began := time.Now()
			rep := report.NewBuilder(source, loc, cfg.Report.Concurrency).Build(cmd.Context(), devices, start, end)
			elapsed := time.Since(began)

			out := os.Stdout
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("error creating output file: %w", err)
				}
				defer file.Close()
				out = file
			}

			switch outputFormat {
			case "csv":
				if err := rep.WriteCSV(out); err != nil {
					return fmt.Errorf("error writing CSV: %w", err)
				}
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return fmt.Errorf("error writing JSON: %w", err)
				}
			default:
				printReport(rep, elapsed)
			}

			for id, msg := range rep.Failures {
				fmt.Fprintf(os.Stderr, "Warning: %s: %s\n", id, msg)
			}
			return nil
		},
	}

	dailyCmd.Flags().StringSliceVarP(&devices, "device", "d", nil, "Device ids (default: all registered vehicles)")
	dailyCmd.Flags().StringVarP(&from, "from", "s", "", "Start date or time (default: 6 days before --to)")
	dailyCmd.Flags().StringVarP(&to, "to", "e", "", "End date or time, dates are inclusive (default: today)")
	dailyCmd.Flags().StringVarP(&outputFormat, "format", "f", "table", "Output format (table, json, csv)")
	dailyCmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")

	cmd.AddCommand(dailyCmd)
	return cmd
}

func printReport(rep *report.FleetReport, elapsed time.Duration) {
	fmt.Printf("Daily report %s to %s, %d devices (built in %v)\n\n",
		rep.From.Format(telemetry.DateLayout), rep.To.Format(telemetry.DateLayout), len(rep.Devices), elapsed)

	if len(rep.Devices) == 0 {
		fmt.Println("No data.")
		return
	}

	fmt.Printf("%-12s", "Date")
	for _, id := range rep.Devices {
		fmt.Printf(" %22s", id)
	}
	fmt.Println()
	fmt.Println(strings.Repeat("-", 12+23*len(rep.Devices)))

	printCells := func(label string, cells []models.DailyStat) {
		fmt.Printf("%-12s", label)
		for _, c := range cells {
			unit := "L"
			if rep.FuelUnit(c.DeviceID) == models.FuelUnitPercent {
				unit = "%"
			}
			fmt.Printf(" %22s", fmt.Sprintf("%.1f km / %.1f %s", c.DistanceKm, c.FuelConsumedLiters, unit))
		}
		fmt.Println()
	}
	for _, row := range rep.Rows() {
		printCells(row.Date, row.Cells)
	}
	fmt.Println(strings.Repeat("-", 12+23*len(rep.Devices)))
	printCells("Total", rep.Totals())
}

// consumptionCmd classifies fuel consumption per vehicle from fill-ups
func consumptionCmd() *cobra.Command {
	var vehicleID string
	var source string
	var from, to string
	var outputFormat string
	var publish bool

	cmd := &cobra.Command{
		Use:   "consumption",
		Short: "Classify fuel consumption per vehicle from fill-ups",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			q, err := fillUpFilter(vehicleID, source, from, to)
			if err != nil {
				return err
			}
			fillUps, err := database.ListFillUps(q)
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}

			analyses := newAnalyzer().Analyze(fillUps)

			switch outputFormat {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(analyses); err != nil {
					return err
				}
			default:
				if len(analyses) == 0 {
					fmt.Println("No fill-ups found.")
				}
				fmt.Printf("%-10s %-8s %5s %10s %10s %8s %9s %-12s %10s\n",
					"Vehicle", "Driver", "Fills", "Liters", "Km", "L/km", "L/100km", "Level", "Cost")
				fmt.Println(strings.Repeat("-", 92))
				for _, a := range analyses {
					driver := "-"
					if a.DriverID != nil {
						driver = *a.DriverID
					}
					fmt.Printf("%-10s %-8s %5d %10.1f %10.1f %8.3f %9.1f %-12s %10s\n",
						a.VehicleID, driver, a.FillUps, a.TotalLiters, a.TotalKm,
						a.LiterPerKm, a.LitersPer100Km, a.Level, a.EstimatedCost.StringFixed(2))
				}
			}

			if publish {
				publisher, err := alerts.NewPublisher(cmd.Context(), cfg.Redis.URL)
				if err != nil {
					return fmt.Errorf("alerts error: %w", err)
				}
				defer publisher.Close()

				n, err := publisher.Publish(cmd.Context(), analyses)
				if err != nil {
					return fmt.Errorf("error publishing alerts: %w", err)
				}
				fmt.Fprintf(os.Stderr, "Published %d alerts\n", n)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&vehicleID, "vehicle", "V", "", "Filter by vehicle ID")
	cmd.Flags().StringVar(&source, "source", "", "Filter by fill-up source (tank, station)")
	cmd.Flags().StringVarP(&from, "from", "s", "", "Only fill-ups at or after this time")
	cmd.Flags().StringVarP(&to, "to", "e", "", "Only fill-ups at or before this time")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	cmd.Flags().BoolVar(&publish, "alert", false, "Publish red classifications to Redis")
	return cmd
}

func fillUpFilter(vehicleID, source, from, to string) (models.FillUpQuery, error) {
	q := models.FillUpQuery{VehicleID: vehicleID, Source: source}
	if from != "" {
		t, err := telemetry.ParseTimestamp(from, loc)
		if err != nil {
			return q, fmt.Errorf("invalid --from: %w", err)
		}
		q.StartTime = t
	}
	if to != "" {
		t, err := telemetry.ParseTimestamp(to, loc)
		if err != nil {
			return q, fmt.Errorf("invalid --to: %w", err)
		}
		q.EndTime = t
	}
	return q, nil
}

// fillUpCmd records and lists fill-ups
func fillUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fillup",
		Short: "Fill-up management commands",
	}

	// Add subcommand
	var f models.FillUp
	var driver string
	var price float64
	var filledAt string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Record a fill-up",
		RunE: func(cmd *cobra.Command, args []string) error {
			if driver != "" {
				f.DriverID = &driver
			}
			if cmd.Flags().Changed("price") {
				f.UnitPrice = &price
			}
			if filledAt != "" {
				t, err := telemetry.ParseTimestamp(filledAt, loc)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				f.FilledAt = t
			}
			if errs := parser.ValidateFillUp(&f); len(errs) > 0 {
				return fmt.Errorf("invalid fill-up: %s", strings.Join(errs, "; "))
			}

			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			if err := database.InsertFillUp(&f); err != nil {
				return fmt.Errorf("error recording fill-up: %w", err)
			}
			fmt.Printf("Recorded fill-up %s: %s %.1f L at %.0f km\n", f.ID, f.VehicleID, f.QuantityLiters, f.OdometerKm)
			return nil
		},
	}
	addCmd.Flags().StringVarP(&f.VehicleID, "vehicle", "V", "", "Vehicle ID")
	addCmd.Flags().StringVar(&driver, "driver", "", "Driver ID")
	addCmd.Flags().Float64VarP(&f.QuantityLiters, "quantity", "q", 0, "Liters filled")
	addCmd.Flags().Float64Var(&f.OdometerKm, "odometer", 0, "Odometer reading in km")
	addCmd.Flags().Float64Var(&price, "price", 0, "Unit price per liter")
	addCmd.Flags().StringVar(&f.Source, "source", models.SourceStation, "Source (tank, station)")
	addCmd.Flags().StringVar(&filledAt, "at", "", "Fill-up time (default: now)")

	// List subcommand
	var vehicleID, source, from, to string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List fill-ups",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			q, err := fillUpFilter(vehicleID, source, from, to)
			if err != nil {
				return err
			}
			q.Limit = limit

			fillUps, err := database.ListFillUps(q)
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}

			fmt.Printf("Found %d fill-ups\n\n", len(fillUps))
			for _, f := range fillUps {
				driver := "-"
				if f.DriverID != nil {
					driver = *f.DriverID
				}
				fmt.Printf("[%s] %-10s driver %-8s %7.1f L at %9.0f km (%s)\n",
					f.FilledAt.In(loc).Format("2006-01-02 15:04"), f.VehicleID, driver,
					f.QuantityLiters, f.OdometerKm, f.Source)
			}
			return nil
		},
	}
	listCmd.Flags().StringVarP(&vehicleID, "vehicle", "V", "", "Filter by vehicle ID")
	listCmd.Flags().StringVar(&source, "source", "", "Filter by source (tank, station)")
	listCmd.Flags().StringVarP(&from, "from", "s", "", "Start time")
	listCmd.Flags().StringVarP(&to, "to", "e", "", "End time")
	listCmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum fill-ups to return")

	// Import subcommand
	importCmd := &cobra.Command{
		Use:   "import [file...]",
		Short: "Import fill-ups from CSV files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			p := parser.NewParser("csv", loc)
			var total int64
			for _, file := range args {
				records, err := p.ParseFillUpFile(file)
				if err != nil {
					fmt.Printf("  Error in %s: %v\n", file, err)
					continue
				}
				n, err := database.InsertFillUpBatch(records)
				if err != nil {
					fmt.Printf("  Database error in %s: %v\n", file, err)
					continue
				}
				fmt.Printf("  Imported %d fill-ups from %s\n", n, file)
				total += n
			}
			fmt.Printf("\nTotal: %d fill-ups imported\n", total)
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd, importCmd)
	return cmd
}
