// Command icpsim walks a simulated biped through a straight-line plan under
// the capture-point controller, optionally pushing it mid-walk, and writes
// diagnostics to sqlite and plots to the output directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/config"
	"github.com/banshee-data/capturepoint/internal/diagstore"
	"github.com/banshee-data/capturepoint/internal/icp/controller"
	"github.com/banshee-data/capturepoint/internal/icp/debug"
	"github.com/banshee-data/capturepoint/internal/icp/input"
	"github.com/banshee-data/capturepoint/internal/monitoring"
	"github.com/banshee-data/capturepoint/internal/report"
	"github.com/banshee-data/capturepoint/internal/security"
	"github.com/banshee-data/capturepoint/internal/simulation"
	"github.com/banshee-data/capturepoint/internal/timeutil"
	"github.com/banshee-data/capturepoint/internal/version"
)

var (
	configPath  = flag.String("config", "", "Tuning JSON file (defaults to "+config.DefaultConfigPath+")")
	steps       = flag.Int("steps", 4, "Number of steps to walk")
	stepLength  = flag.Float64("step-length", 0.3, "Forward step length (m)")
	stepWidth   = flag.Float64("step-width", 0.2, "Lateral distance between the feet (m)")
	swing       = flag.Float64("swing", 0.6, "Planned swing duration (s)")
	transfer    = flag.Float64("transfer", 0.3, "Planned transfer duration (s)")
	pushTime    = flag.Float64("push-time", -1, "Time of the push (s); negative disables it")
	pushX       = flag.Float64("push-x", 0, "Forward capture point offset of the push (m)")
	pushY       = flag.Float64("push-y", 0, "Lateral capture point offset of the push (m)")
	outDir      = flag.String("out", "icpsim-out", "Output directory for reports")
	dbPath      = flag.String("db", "", "sqlite file to record diagnostics in; empty disables recording")
	writeHTML   = flag.Bool("html", false, "Write an interactive HTML report")
	writePNG    = flag.Bool("png", false, "Write PNG plots")
	label       = flag.String("label", "walk", "Run label, also used in report file names")
	realtime    = flag.Bool("realtime", false, "Pace the simulation at the control rate")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

// options is the parsed command line.
type options struct {
	tuning   *config.TuningConfig
	scenario simulation.Scenario
	outDir   string
	dbPath   string
	html     bool
	png      bool
	label    string
	realtime bool
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println("icpsim", version.String())
		return
	}

	opts, err := parseOptions()
	if err != nil {
		log.Fatalf("invalid options: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("icpsim: %v", err)
	}
}

func parseOptions() (options, error) {
	var (
		tuning *config.TuningConfig
		err    error
	)
	if *configPath == "" {
		tuning, err = config.LoadTuningConfig(config.DefaultConfigPath)
		if errors.Is(err, fs.ErrNotExist) {
			tuning, err = config.EmptyTuningConfig(), nil
		}
	} else {
		tuning, err = config.LoadTuningConfig(*configPath)
	}
	if err != nil {
		return options{}, err
	}

	s := simulation.DefaultScenario(input.RectangularFoot(tuning.GetFootLength(), tuning.GetFootWidth()))
	s.Steps = *steps
	s.StepLength = *stepLength
	s.StepWidth = *stepWidth
	s.Timing.SwingDuration = *swing
	s.Timing.TransferDuration = *transfer
	s.Omega0 = tuning.GetOmega0()
	if *pushTime >= 0 {
		s.Push = &simulation.Push{Time: *pushTime, Offset: r2.Vec{X: *pushX, Y: *pushY}}
	}
	if err := s.Timing.Validate(); err != nil {
		return options{}, err
	}

	return options{
		tuning:   tuning,
		scenario: s,
		outDir:   *outDir,
		dbPath:   *dbPath,
		html:     *writeHTML,
		png:      *writePNG,
		label:    *label,
		realtime: *realtime,
	}, nil
}

func run(ctx context.Context, o options) error {
	cfg := controller.ConfigFromTuning(o.tuning)
	collector := debug.NewCollector()
	cfg.Observer = collector
	ctrl, err := controller.New(cfg)
	if err != nil {
		return err
	}

	var runnerOpts []simulation.Option
	if o.realtime {
		runnerOpts = append(runnerOpts, simulation.WithPacing(timeutil.RealClock{}))
	}
	runner := simulation.NewRunner(ctrl, o.tuning.GetControlDT().Seconds(), runnerOpts...)

	start := time.Now()
	tr, runErr := runner.Run(ctx, o.scenario)
	if tr == nil {
		return runErr
	}
	log.Printf("simulated %d ticks (%.2f s) in %v: %d steps landed, %d failed ticks, %d timing samples",
		len(tr.Samples), float64(len(tr.Samples))*o.tuning.GetControlDT().Seconds(), time.Since(start).Round(time.Millisecond),
		len(tr.Footholds)-2, tr.Failures, len(collector.Samples))
	if runErr != nil {
		monitoring.Logf("run ended early: %v", runErr)
	}

	if o.dbPath != "" {
		if err := record(ctx, o, collector); err != nil {
			return err
		}
	}
	if err := writeReports(o, tr, collector); err != nil {
		return err
	}
	return runErr
}

func record(ctx context.Context, o options, collector *debug.Collector) error {
	db, err := diagstore.Open(o.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}
	created, err := db.Runs().CreateRun(ctx, o.label, o.scenario, o.tuning)
	if err != nil {
		return err
	}
	if err := db.SaveCollector(ctx, created.ID, collector); err != nil {
		return err
	}
	log.Printf("recorded run %s in %s", created.ID, o.dbPath)
	return nil
}

func writeReports(o options, tr *simulation.Trace, collector *debug.Collector) error {
	if !o.html && !o.png {
		return nil
	}
	if err := os.MkdirAll(o.outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	path := func(suffix string) (string, error) {
		return security.OutputPath(o.outDir, o.label, suffix)
	}

	if o.png {
		p, err := path("_trace.png")
		if err != nil {
			return err
		}
		if err := report.TracePNG(p, tr); err != nil {
			return err
		}
		if p, err = path("_footprints.png"); err != nil {
			return err
		}
		if err := report.FootprintPNG(p, tr); err != nil {
			return err
		}
		if len(collector.Samples) > 0 {
			if p, err = path("_timing.png"); err != nil {
				return err
			}
			if err := report.TimingCostPNG(p, collector.Samples, report.BusiestTimingTick(collector.Samples)); err != nil {
				return err
			}
		}
	}

	if o.html {
		p, err := path(".html")
		if err != nil {
			return err
		}
		f, err := os.Create(p)
		if err != nil {
			return err
		}
		if err := report.WriteHTML(f, tr, o.label); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		log.Printf("wrote %s", p)
	}
	return nil
}
