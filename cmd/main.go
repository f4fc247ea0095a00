package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fleet-fuel-monitor/internal/alerts"
	"fleet-fuel-monitor/internal/api"
	"fleet-fuel-monitor/internal/config"
	"fleet-fuel-monitor/internal/consumption"
	"fleet-fuel-monitor/internal/db"
	"fleet-fuel-monitor/internal/gpsapi"
	"fleet-fuel-monitor/internal/models"
	"fleet-fuel-monitor/internal/parser"
	"fleet-fuel-monitor/internal/report"
	"fleet-fuel-monitor/internal/telemetry"
	"fleet-fuel-monitor/internal/timescale"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	dbPath   string
	cfg      *config.Config
	loc      *time.Location
	database *db.Database
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fleet-fuel",
		Short: "Fleet Fuel Monitor - Daily distance and fuel consumption reporting",
		Long: `A CLI tool for turning vehicle breadcrumb histories into daily distance and
fuel reports, and for tracking fill-ups and classifying fuel consumption.
Telemetry comes from local SQLite storage, the hosted GPS API or TimescaleDB.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(cfgFile); err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DB.Path = dbPath
			}
			loc, err = cfg.Location()
			return err
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./fleet.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides db.path)")

	// Add commands
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(consumptionCmd())
	rootCmd.AddCommand(fillUpCmd())
	rootCmd.AddCommand(vehicleCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initDB initializes database connection
func initDB() error {
	var err error
	database, err = db.New(cfg.DB.Path)
	return err
}

// openSource returns the configured telemetry source and a release func
func openSource(ctx context.Context) (report.Source, func(), error) {
	switch cfg.Telemetry.Source {
	case config.SourceGPSAPI:
		client := gpsapi.NewClient(cfg.GPSAPI.BaseURL, cfg.GPSAPI.APIKey, cfg.GPSAPI.Timeout, loc)
		return client, func() {}, nil
	case config.SourceTimescale:
		tanks := timescale.Tanks{
			DefaultLiters: cfg.Timescale.TankLiters,
			ByVehicle:     cfg.Timescale.TankLitersByVehicle,
		}
		store, err := timescale.NewStore(ctx, cfg.Timescale.DSN, tanks)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return database, func() {}, nil
	}
}

func newAnalyzer() *consumption.Analyzer {
	return consumption.NewAnalyzer(cfg.Thresholds(), cfg.Consumption.FuelPrice)
}

// serverCmd starts the REST API server
func serverCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			source, release, err := openSource(ctx)
			if err != nil {
				return fmt.Errorf("telemetry source error: %w", err)
			}
			defer release()

			publisher, err := alerts.NewPublisher(ctx, cfg.Redis.URL)
			if err != nil {
				return fmt.Errorf("alerts error: %w", err)
			}
			defer publisher.Close()

			builder := report.NewBuilder(source, loc, cfg.Report.Concurrency)
			server := api.NewServer(database, builder, newAnalyzer(), publisher)

			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			fmt.Printf("Fleet Fuel Monitor API Server\n")
			fmt.Printf("   Listening on http://localhost%s\n", addr)
			fmt.Printf("   Database:  %s\n", cfg.DB.Path)
			fmt.Printf("   Telemetry: %s\n", cfg.Telemetry.Source)
			fmt.Printf("   Timezone:  %s\n\n", loc)
			fmt.Println("Available endpoints:")
			fmt.Println("  GET    /health")
			fmt.Println("  GET    /api/v1/vehicles")
			fmt.Println("  POST   /api/v1/vehicles")
			fmt.Println("  GET    /api/v1/vehicles/{id}")
			fmt.Println("  POST   /api/v1/breadcrumbs/{device_id}")
			fmt.Println("  GET    /api/v1/reports/daily")
			fmt.Println("  GET    /api/v1/reports/daily.csv")
			fmt.Println("  GET    /api/v1/fillups")
			fmt.Println("  POST   /api/v1/fillups")
			fmt.Println("  GET    /api/v1/fillups/{id}")
			fmt.Println("  DELETE /api/v1/fillups/{id}")
			fmt.Println("  GET    /api/v1/consumption")
			fmt.Println("  GET    /api/v1/stats")
			fmt.Println()

			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			log.Println("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			log.Println("Server shutdown complete")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Server port (overrides server.port)")
	return cmd
}

// ingestCmd ingests breadcrumb histories from files
func ingestCmd() *cobra.Command {
	var format string
	var deviceID string
	var validate bool

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest breadcrumb histories from files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			p := parser.NewParser(format, loc)
			var totalRecords, totalSkipped int64
			totalErrors := 0

			for _, file := range args {
				fmt.Printf("Processing %s...\n", file)
				start := time.Now()

				records, err := p.ParseFile(file)
				if err != nil {
					fmt.Printf("  Error: %v\n", err)
					totalErrors++
					continue
				}

				if deviceID != "" {
					for i := range records {
						if records[i].DeviceID == "" {
							records[i].DeviceID = deviceID
						}
					}
				}

				// Validate if requested
				if validate {
					valid := records[:0]
					for _, r := range records {
						if errs := parser.ValidateBreadcrumb(&r.Breadcrumb); len(errs) == 0 {
							valid = append(valid, r)
						} else {
							totalErrors++
						}
					}
					records = valid
				}

				var count int64
				for device, crumbs := range parser.GroupByDevice(records) {
					if device == "" {
						fmt.Printf("  Skipping %d records without device_id (use --device)\n", len(crumbs))
						totalSkipped += int64(len(crumbs))
						continue
					}
					inserted, skipped, err := database.InsertBreadcrumbs(device, crumbs, loc)
					if err != nil {
						fmt.Printf("  Database error for %s: %v\n", device, err)
						continue
					}
					count += inserted
					totalSkipped += skipped
				}

				elapsed := time.Since(start)
				fmt.Printf("  Inserted %d breadcrumbs in %v (%.0f records/sec)\n",
					count, elapsed, float64(count)/elapsed.Seconds())
				totalRecords += count
			}

			fmt.Printf("\nTotal: %d breadcrumbs ingested", totalRecords)
			if totalSkipped > 0 {
				fmt.Printf(", %d skipped", totalSkipped)
			}
			if totalErrors > 0 {
				fmt.Printf(", %d errors", totalErrors)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "File format (csv, json, log)")
	cmd.Flags().StringVarP(&deviceID, "device", "d", "", "Device id for records that carry none")
	cmd.Flags().BoolVarP(&validate, "validate", "v", true, "Validate records before inserting")
	return cmd
}

// statsCmd shows database statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			stats, err := database.GetStats()
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println("Fleet Fuel Monitor Statistics")
			fmt.Println("=============================")
			fmt.Printf("  Total Vehicles:     %v\n", stats["total_vehicles"])
			fmt.Printf("  Breadcrumbs:        %v\n", stats["total_breadcrumbs"])
			fmt.Printf("  Tracked Devices:    %v\n", stats["tracked_devices"])
			fmt.Printf("  Fill-ups:           %v\n", stats["total_fillups"])
			fmt.Printf("  Fuel Filled:        %.1f L\n", stats["total_fuel_liters"])
			fmt.Printf("  Database:           %s\n", cfg.DB.Path)

			return nil
		},
	}
}

// vehicleCmd manages vehicles
func vehicleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vehicle",
		Short: "Vehicle management commands",
	}

	// List subcommand
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all vehicles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			vehicles, err := database.ListVehicles()
			if err != nil {
				return fmt.Errorf("error listing vehicles: %w", err)
			}

			if len(vehicles) == 0 {
				fmt.Println("No vehicles found. Use 'fleet-fuel generate' to create sample data.")
				return nil
			}

			fmt.Printf("%-10s %-20s %-12s %-10s %-16s\n", "ID", "Name", "Plate", "Type", "Device")
			fmt.Println(strings.Repeat("-", 72))
			for _, v := range vehicles {
				fmt.Printf("%-10s %-20s %-12s %-10s %-16s\n", v.ID, v.Name, v.LicensePlate, v.VehicleType, v.DeviceID)
			}

			return nil
		},
	}

	// Add subcommand
	var v models.Vehicle
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a vehicle",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v.ID == "" || v.Name == "" || v.LicensePlate == "" {
				return fmt.Errorf("--id, --name and --plate are required")
			}
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			if err := database.InsertVehicle(&v); err != nil {
				return fmt.Errorf("error adding vehicle: %w", err)
			}
			fmt.Printf("Added vehicle %s (%s)\n", v.ID, v.LicensePlate)
			return nil
		},
	}
	addCmd.Flags().StringVar(&v.ID, "id", "", "Vehicle ID")
	addCmd.Flags().StringVar(&v.Name, "name", "", "Vehicle name")
	addCmd.Flags().StringVar(&v.LicensePlate, "plate", "", "License plate")
	addCmd.Flags().StringVar(&v.VehicleType, "type", "Truck", "Vehicle type")
	addCmd.Flags().StringVar(&v.DeviceID, "device", "", "Telemetry device id (defaults to the vehicle id)")

	// Sync subcommand
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Register the GPS API's devices as vehicles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.GPSAPI.BaseURL == "" {
				return fmt.Errorf("gpsapi.base_url is not configured")
			}
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			client := gpsapi.NewClient(cfg.GPSAPI.BaseURL, cfg.GPSAPI.APIKey, cfg.GPSAPI.Timeout, loc)
			devices, err := client.Devices(cmd.Context())
			if err != nil {
				return fmt.Errorf("error listing devices: %w", err)
			}

			added := 0
			for _, d := range devices {
				plate := d.Plate
				if plate == "" {
					plate = d.ID
				}
				name := d.Name
				if name == "" {
					name = d.ID
				}
				veh := models.Vehicle{ID: d.ID, Name: name, LicensePlate: plate, VehicleType: "Tracked", DeviceID: d.ID}
				if _, err := database.GetVehicle(d.ID); err == nil {
					continue
				}
				if err := database.InsertVehicle(&veh); err != nil {
					log.Printf("Warning: device %s: %v", d.ID, err)
					continue
				}
				added++
			}
			fmt.Printf("Synced %d devices, %d new vehicles\n", len(devices), added)
			return nil
		},
	}

	cmd.AddCommand(listCmd, addCmd, syncCmd)
	return cmd
}

// generateCmd generates sample breadcrumbs and fill-ups
func generateCmd() *cobra.Command {
	var days int
	var vehicleCount int
	var interval time.Duration
	var output string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate sample breadcrumbs and fill-ups",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 || days <= 0 {
				return fmt.Errorf("--days and --interval must be positive")
			}
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			rng := rand.New(rand.NewSource(time.Now().UnixNano()))

			// Create sample vehicles
			vehicles := []models.Vehicle{}
			vehicleTypes := []string{"Truck", "Van", "Sedan", "SUV"}

			for i := 1; i <= vehicleCount; i++ {
				v := models.Vehicle{
					ID:           fmt.Sprintf("VEH-%03d", i),
					Name:         fmt.Sprintf("Vehicle %d", i),
					LicensePlate: fmt.Sprintf("FL-%04d", rng.Intn(10000)),
					VehicleType:  vehicleTypes[rng.Intn(len(vehicleTypes))],
					DeviceID:     fmt.Sprintf("35%013d", rng.Int63n(1e13)),
				}
				if err := database.InsertVehicle(&v); err != nil {
					log.Printf("Warning: vehicle %s: %v", v.ID, err)
					continue
				}
				vehicles = append(vehicles, v)
			}
			fmt.Printf("Created %d vehicles\n", len(vehicles))

			start := time.Now()
			baseTime := time.Now().In(loc).Truncate(time.Hour).AddDate(0, 0, -days)
			steps := int(time.Duration(days) * 24 * time.Hour / interval)

			var exported []parser.Record
			var totalCrumbs, totalFillUps int64
			for _, v := range vehicles {
				crumbs, fillUps := simulate(rng, v, baseTime, steps, interval)

				inserted, _, err := database.InsertBreadcrumbs(v.DeviceID, crumbs, loc)
				if err != nil {
					return fmt.Errorf("error inserting breadcrumbs: %w", err)
				}
				totalCrumbs += inserted

				n, err := database.InsertFillUpBatch(fillUps)
				if err != nil {
					return fmt.Errorf("error inserting fill-ups: %w", err)
				}
				totalFillUps += n

				if output != "" {
					for _, c := range crumbs {
						exported = append(exported, parser.Record{DeviceID: v.DeviceID, Breadcrumb: c})
					}
				}
			}

			elapsed := time.Since(start)
			fmt.Printf("Generated %d breadcrumbs and %d fill-ups in %v\n", totalCrumbs, totalFillUps, elapsed)

			// Export to file if requested
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("error creating output file: %w", err)
				}
				defer file.Close()

				enc := json.NewEncoder(file)
				enc.SetIndent("", "  ")
				if err := enc.Encode(exported); err != nil {
					return fmt.Errorf("error writing output file: %w", err)
				}
				fmt.Printf("Breadcrumbs exported to %s\n", output)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Days of history to generate")
	cmd.Flags().IntVarP(&vehicleCount, "vehicles", "n", 5, "Number of vehicles to create")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "Time between breadcrumbs")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Export generated breadcrumbs to a JSON file")
	return cmd
}

// simulate drives a vehicle around Casablanca, burning fuel with distance
// and refilling from the tank or a station when it runs low.
func simulate(rng *rand.Rand, v models.Vehicle, start time.Time, steps int, interval time.Duration) ([]models.Breadcrumb, []models.FillUp) {
	const tankLiters = 80.0

	pos := models.LatLng{Lat: 33.5731 + (rng.Float64()-0.5)*0.1, Lng: -7.5898 + (rng.Float64()-0.5)*0.1}
	fuel := tankLiters * (0.5 + rng.Float64()/2)
	odometer := float64(20000 + rng.Intn(100000))
	rate := 0.08 + rng.Float64()*0.4
	driver := fmt.Sprintf("DRV-%02d", rng.Intn(20)+1)

	crumbs := make([]models.Breadcrumb, 0, steps)
	var fillUps []models.FillUp

	for i := 0; i < steps; i++ {
		at := start.Add(time.Duration(i) * interval)
		var dist float64
		if h := at.Hour(); h >= 7 && h < 19 {
			dist = rng.Float64() * 5
			pos.Lat += (rng.Float64() - 0.5) * 0.01
			pos.Lng += (rng.Float64() - 0.5) * 0.01
		}
		odometer += dist
		fuel -= dist * rate

		if fuel < tankLiters*0.15 {
			qty := tankLiters - fuel
			source := models.SourceStation
			if rng.Intn(2) == 0 {
				source = models.SourceTank
			}
			price := 12 + rng.Float64()*2
			d := driver
			fillUps = append(fillUps, models.FillUp{
				VehicleID:      v.ID,
				DriverID:       &d,
				QuantityLiters: qty,
				OdometerKm:     odometer,
				UnitPrice:      &price,
				Source:         source,
				FilledAt:       at,
			})
			fuel = tankLiters
		}

		p := pos
		d := dist
		crumbs = append(crumbs, models.Breadcrumb{
			FormattedTime:     at.Format("2006-01-02 15:04:05"),
			Position:          &p,
			SegmentDistanceKm: &d,
			Sensors: []models.SensorReading{
				{Name: "Fuel level", Kind: telemetry.FuelTankKind, Value: models.SensorValue(fuel)},
				{Name: "Ignition", Kind: "acc", Value: models.SensorValue(boolToFloat(dist > 0))},
			},
		})
	}

	return crumbs, fillUps
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
