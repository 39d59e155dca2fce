package calibrate

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/TheCacophonyProject/flight-battery/calibration"
	"github.com/TheCacophonyProject/flight-battery/drainlog"
	arg "github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
)

var version = "No version provided"

var log = logrus.New()

type Args struct {
	LowLoad  string  `arg:"--low-load,required" help:"drain log of a low load (about 1C) drain to empty"`
	Hover    string  `arg:"--hover,required" help:"drain log of a hover drain to empty"`
	Nominal  float64 `arg:"--nominal" help:"nominal pack capacity in mAh"`
	Name     string  `arg:"--name" help:"profile name"`
	Out      string  `arg:"--out" help:"profile file to write, the format comes from the extension"`
	Report   bool    `arg:"--report" help:"print statistics of both drain logs"`
	LogLevel string  `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{
	Nominal: 8500,
	Name:    "fitted",
	Out:     "flight-battery.toml",
}

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
	return args, err
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}

func Run(inputArgs []string, ver string) error {
	version = ver
	log.SetFormatter(new(customFormatter))
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	setLogLevel(args.LogLevel)

	log.Info("Running version: ", version)

	lowLoad, err := drainlog.ReadFile(args.LowLoad)
	if err != nil {
		return fmt.Errorf("reading low load log: %w", err)
	}
	hover, err := drainlog.ReadFile(args.Hover)
	if err != nil {
		return fmt.Errorf("reading hover log: %w", err)
	}
	log.Debugf("Read %d low load and %d hover records", len(lowLoad), len(hover))

	if args.Report {
		if err := report("Low load", lowLoad, args.Nominal); err != nil {
			return err
		}
		if err := report("Hover", hover, args.Nominal); err != nil {
			return err
		}
	}

	profile, err := calibration.FitDrainPair(lowLoad, hover, args.Nominal)
	if err != nil {
		return err
	}
	profile.Name = args.Name
	c := profile.Coefficients
	log.Info("Voltage->Percent Polynomial: ", c.VoltageCurve())
	log.Info("Percent->Time Polynomial: ", c.TimeCurve())
	log.Infof("Full pack estimate: %.0fs", c.CapacityToTime(100))

	if err := calibration.WriteProfile(args.Out, profile); err != nil {
		return err
	}
	log.Infof("Wrote profile '%s' to %s", profile.Name, args.Out)
	return nil
}

func report(name string, l drainlog.Log, nominal float64) error {
	stats, err := drainlog.Compute(l, nominal)
	if err != nil {
		return fmt.Errorf("%s log: %w", name, err)
	}
	log.Infof("%s drain:\n%s", name, stats)
	return nil
}
