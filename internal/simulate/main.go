package simulate

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/TheCacophonyProject/flight-battery/batterymodel"
	"github.com/TheCacophonyProject/flight-battery/calibration"
	"github.com/TheCacophonyProject/flight-battery/drainlog"
	"github.com/TheCacophonyProject/flight-battery/telemetry"
	"github.com/TheCacophonyProject/go-utils/logging"
	arg "github.com/alexflint/go-arg"
)

var version = "No version provided"

var log = logging.NewLogger("info")

type voltageCmd struct {
	Voltage float64 `arg:"positional,required" help:"resting pack voltage"`
}

type replayCmd struct {
	File      string `arg:"positional,required" help:"drain log to replay"`
	Armed     bool   `arg:"--armed" help:"arm from the first sample"`
	AutoArm   bool   `arg:"--auto-arm" help:"arm when the motors start drawing load"`
	EveryLine bool   `arg:"--every" help:"print every sample, not only changes of whole seconds"`
}

type reportCmd struct {
	File string `arg:"positional,required" help:"drain log to summarise"`
}

type Args struct {
	Voltage *voltageCmd `arg:"subcommand:voltage" help:"estimate flight time from a resting voltage"`
	Replay  *replayCmd  `arg:"subcommand:replay" help:"run a drain log through the estimator"`
	Report  *reportCmd  `arg:"subcommand:report" help:"print drain log statistics"`
	Profile string      `arg:"--profile" help:"battery profile file"`
	Preset  string      `arg:"--preset" help:"built in battery profile"`
	Nominal float64     `arg:"--nominal" help:"nominal pack capacity in mAh, defaults to the profile's"`
	logging.LogArgs
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	if err != nil {
		return Args{}, err
	}
	if parser.Subcommand() == nil {
		return Args{}, errors.New("no command given, use voltage, replay or report")
	}
	if args.Profile != "" && args.Preset != "" {
		return Args{}, errors.New("only one of --profile and --preset can be used")
	}
	return args, nil
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}

	log = logging.NewLogger(args.LogLevel)

	return run(args, os.Stdout)
}

func run(args Args, w io.Writer) error {
	profile, err := loadProfile(args)
	if err != nil {
		return err
	}
	log.Debugf("Using battery profile '%s'", profile.Name)

	switch {
	case args.Voltage != nil:
		return voltageEstimate(w, profile.Coefficients, args.Voltage.Voltage)
	case args.Replay != nil:
		l, err := drainlog.ReadFile(args.Replay.File)
		if err != nil {
			return err
		}
		return replay(w, profile.Coefficients, l, *args.Replay)
	case args.Report != nil:
		l, err := drainlog.ReadFile(args.Report.File)
		if err != nil {
			return err
		}
		stats, err := drainlog.Compute(l, profile.Coefficients.NominalCapacity)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, stats)
		return err
	}
	return errors.New("no command given")
}

func loadProfile(args Args) (calibration.Profile, error) {
	var p calibration.Profile
	var err error
	switch {
	case args.Profile != "":
		p, err = calibration.LoadProfile(args.Profile)
	case args.Preset != "":
		p, err = calibration.Preset(args.Preset)
	default:
		p = calibration.DefaultProfile()
	}
	if err != nil {
		return calibration.Profile{}, err
	}
	if args.Nominal > 0 {
		p.Coefficients.NominalCapacity = args.Nominal
	}
	return p, nil
}

func voltageEstimate(w io.Writer, c batterymodel.Coefficients, voltage float64) error {
	capacity := c.VoltageToCapacity(voltage)
	_, err := fmt.Fprintf(w, "%.2fV: capacity %.2f %s, %.1f seconds (%s)\n",
		voltage, capacity, c.Unit, c.CapacityToTime(capacity), formatDuration(c.CapacityToTime(capacity)))
	return err
}

// replay feeds each record to a fresh model, stepping time by the record timestamps.
func replay(w io.Writer, c batterymodel.Coefficients, l drainlog.Log, opts replayCmd) error {
	model, err := batterymodel.New(c)
	if err != nil {
		return err
	}
	armAt := -1
	if opts.Armed {
		armAt = 0
	} else if opts.AutoArm {
		armAt = calibration.FindMotorStart(l.Voltages())
	}

	stepper := telemetry.NewStepper()
	lastPrinted := -1
	fmt.Fprintln(w, "seconds, voltage, current, capacity, estimate, initialized, armed")
	for i, r := range l {
		if err := model.SetInput(r.Voltage, r.Current, r.Temperature); err != nil {
			log.Warnf("Skipping record %d: %v", i, err)
			continue
		}
		if i == armAt {
			model.SetArmed(true)
		}
		dt, backwards := stepper.Step(telemetry.Sample{Timestamp: r.Time})
		if backwards {
			log.Warnf("Record %d goes back in time", i)
		}
		model.Update(dt)

		elapsed := int(r.Time.Sub(l[0].Time).Seconds())
		if !opts.EveryLine && elapsed == lastPrinted && i != len(l)-1 {
			continue
		}
		lastPrinted = elapsed
		s := model.Snapshot()
		_, err := fmt.Fprintf(w, "%d, %.3f, %.1f, %.3f, %.1f, %v, %v\n",
			elapsed, s.Voltage, s.Current, s.Capacity, s.TimeEstimate, s.CapacityInitialized, s.Armed)
		if err != nil {
			return err
		}
	}
	return nil
}

func formatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds + 0.5)
	return fmt.Sprintf("%dm%02ds", total/60, total%60)
}
