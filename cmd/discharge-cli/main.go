// Command discharge-cli runs a single discharge test without the HTTP API
// and exits non-zero when the run ends in an emergency.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"discharge_tester/internal/config"
	"discharge_tester/internal/hardware"
	"discharge_tester/internal/logger"
	"discharge_tester/internal/models"
	"discharge_tester/internal/repository"
	"discharge_tester/internal/repository/db"
	"discharge_tester/internal/service"
	"discharge_tester/internal/telemetry"

	arg "github.com/alexflint/go-arg"
)

var version = "No version provided"

type argSpec struct {
	ConfigDir    string        `arg:"-c, --config" default:"configs" help:"Directory holding config.yml"`
	DB           string        `arg:"--db" help:"SQLite file, overrides db.path"`
	ExportDir    string        `arg:"--export-dir" help:"Write <run id>.csv here, overrides export.dir"`
	Cells        int           `arg:"--cells" help:"Number of cells under test"`
	MaxRuntime   float64       `arg:"--max-runtime" help:"Run time limit in simulated seconds"`
	RelayFail    bool          `arg:"--relay-fail" help:"Make the simulated relay fail to close"`
	TickInterval time.Duration `arg:"--tick-interval" help:"Wall-clock pause between ticks, e.g. 1s (0 runs flat out)"`
	Serial       string        `arg:"--serial" help:"Use the test board on this serial port instead of the simulator"`
	LogLevel     string        `arg:"-l, --log-level" help:"Set the logging level (debug, info, warn, error)"`
}

func (argSpec) Version() string {
	return version
}

func procArgs() argSpec {
	args := argSpec{TickInterval: -1}
	arg.MustParse(&args)
	return args
}

func main() {
	if err := runMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMain() error {
	args := procArgs()

	cfg, err := config.Load(args.ConfigDir)
	if err != nil {
		return err
	}
	applyArgs(&cfg, args)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.Get(cfg.Log.Level, cfg.Log.File)
	defer func() { _ = log.Sync() }()

	conn, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.DB.Path, err)
	}
	defer conn.Close()

	pub, err := telemetry.New(telemetry.Config{Broker: cfg.MQTT.Broker, Topic: cfg.MQTT.Topic, ClientID: cfg.MQTT.ClientID})
	if err != nil {
		return err
	}
	defer pub.Close()

	deps := service.Deps{Config: cfg, Log: log, Publisher: pub}
	if cfg.Link.Mode == config.LinkSerial {
		deps.Link = hardware.NewSerialLink(hardware.Config{Port: cfg.Link.Port, Baud: cfg.Link.Baud, ReadTimeout: cfg.Link.Timeout})
	}
	services := service.NewService(repository.NewRepository(conn), deps)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := services.Discharge.Start(ctx, service.StartParams{})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = services.Discharge.Abort(context.Background())
	}()
	services.Wait()

	run, err = services.Runs.Get(context.Background(), run.ID)
	if err != nil {
		return err
	}
	fmt.Printf("run %s: %s after %d ticks (%.1fs simulated)\n", run.ID, run.Outcome, run.Ticks, run.EndTimeS)
	if run.Error != "" {
		fmt.Printf("error: %s\n", run.Error)
	}
	if run.Outcome == models.OutcomeEmergency {
		return fmt.Errorf("run %s ended in emergency", run.ID)
	}
	return nil
}

// applyArgs lets flags override the loaded configuration.
func applyArgs(cfg *config.Config, args argSpec) {
	if args.DB != "" {
		cfg.DB.Path = args.DB
	}
	if args.ExportDir != "" {
		cfg.Export.Dir = args.ExportDir
	}
	if args.Cells > 0 {
		cfg.Test.Cells = args.Cells
	}
	if args.MaxRuntime > 0 {
		cfg.Test.MaxRuntimeS = args.MaxRuntime
	}
	if args.RelayFail {
		cfg.Test.RelayFail = true
	}
	if args.TickInterval >= 0 {
		cfg.Test.TickInterval = args.TickInterval
	}
	if args.Serial != "" {
		cfg.Link.Mode = config.LinkSerial
		cfg.Link.Port = args.Serial
	}
	if args.LogLevel != "" {
		cfg.Log.Level = args.LogLevel
	}
}
