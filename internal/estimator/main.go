/*
flight-battery - Estimates remaining flight time from battery telemetry
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package estimator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/flight-battery/batterymodel"
	"github.com/TheCacophonyProject/flight-battery/telemetry"
	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/go-utils/logging"
	arg "github.com/alexflint/go-arg"
)

const (
	sourceSerial = "serial"
	sourceMQTT   = "mqtt"
	mqttClientID = "flight-battery"
)

var version = "No version provided"

var log = logging.NewLogger("info")

type Args struct {
	goconfig.ConfigArgs
	Profile      string `arg:"--profile" help:"battery profile file, defaults to flight-battery.toml in the config folder"`
	Preset       string `arg:"--preset" help:"use a built in battery profile instead of the profile file"`
	Source       string `arg:"--source" help:"telemetry source, serial or mqtt"`
	SerialPort   string `arg:"--serial-port" help:"serial port the flight controller sends telemetry on"`
	Baud         int    `arg:"--baud" help:"serial baud rate"`
	Broker       string `arg:"--broker" help:"MQTT broker"`
	NoMQTT       bool   `arg:"--no-mqtt" help:"don't publish estimates over MQTT"`
	WebAddress   string `arg:"--web-address" help:"address to serve the live estimate on, empty to disable"`
	ReadingsFile string `arg:"--readings-file" help:"file battery readings are logged to, empty to disable"`
	NoDBus       bool   `arg:"--no-dbus" help:"don't listen for arm signals or provide the D-Bus service"`
	logging.LogArgs
}

var defaultArgs = Args{
	ConfigArgs:   goconfig.ConfigArgs{ConfigDir: goconfig.DefaultConfigDir},
	Source:       sourceSerial,
	SerialPort:   "/dev/serial0",
	Baud:         115200,
	Broker:       "tcp://localhost:1883",
	WebAddress:   ":8090",
	ReadingsFile: "/var/log/flight-battery-readings.csv",
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
	if err != nil {
		return Args{}, err
	}
	if args.Source != sourceSerial && args.Source != sourceMQTT {
		return Args{}, fmt.Errorf("unknown source '%s', use %s or %s", args.Source, sourceSerial, sourceMQTT)
	}
	return args, nil
}

// estimator feeds telemetry into the battery model.
type estimator struct {
	model      *batterymodel.Model
	stepper    *telemetry.Stepper
	haveSample atomic.Bool
}

func newEstimator(model *batterymodel.Model) *estimator {
	return &estimator{
		model:   model,
		stepper: telemetry.NewStepper(),
	}
}

// handleSample applies a sample to the model. Invalid samples are rejected
// without touching the model.
func (e *estimator) handleSample(s telemetry.Sample) error {
	if err := e.model.SetInput(s.Voltage, s.Current, s.Temperature); err != nil {
		return err
	}
	if s.Armed != nil {
		e.model.SetArmed(*s.Armed)
	}
	dt, backwards := e.stepper.Step(s)
	if backwards {
		log.Warnf("Telemetry timestamp went backwards to %s", s.Timestamp.Format(time.RFC3339Nano))
	}
	wasInitialized := e.model.CapacityInitialized()
	e.model.Update(dt)
	if !wasInitialized && e.model.CapacityInitialized() {
		log.Infof("Capacity initialized at %.2f %s after %d samples",
			e.model.Capacity(), e.model.Coefficients().Unit, e.model.InitSteps())
	}
	e.haveSample.Store(true)
	return nil
}

func (e *estimator) publish(publishers []publisher, alerts *flightTimeAlerts) {
	if !e.haveSample.Load() {
		return
	}
	s := e.model.Snapshot()
	log.Debugf("Estimate: %.0fs remaining, capacity %.2f %s, armed %v, initialized %v",
		s.TimeEstimate, s.Capacity, s.Unit, s.Armed, s.CapacityInitialized)
	for _, p := range publishers {
		if err := p.publish(s); err != nil {
			log.Errorf("Error publishing estimate to %s: %v", p.name, err)
		}
	}
	alerts.check(s)
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}

	log = logging.NewLogger(args.LogLevel)

	log.Info("Running version: ", version)

	conf, err := ParseConfig(args.ConfigDir, args.Profile, args.Preset)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !conf.Battery.EnableVoltageReadings {
		log.Info("Battery readings disabled, not doing anything.")
		<-ctx.Done()
		return nil
	}

	model, err := batterymodel.NewWithTuning(conf.Profile.Coefficients, conf.Tuning())
	if err != nil {
		return err
	}
	log.Infof("Using battery profile '%s' (%s, nominal %.0fmAh)",
		conf.Profile.Name, conf.Profile.Coefficients.Unit, conf.Profile.Coefficients.NominalCapacity)
	e := newEstimator(model)

	publishers, cleanup, err := startPublishers(ctx, args, conf, model)
	if err != nil {
		return err
	}
	defer cleanup()

	source, err := newSource(args, conf)
	if err != nil {
		return err
	}
	samples := make(chan telemetry.Sample, 20)
	sourceErr := make(chan error, 1)
	go func() {
		sourceErr <- source.Run(ctx, samples)
	}()

	alerts := newFlightTimeAlerts(conf.LowTimeSeconds, conf.CriticalTimeSeconds)
	ticker := time.NewTicker(conf.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping.")
			return nil
		case err := <-sourceErr:
			if err == nil {
				return nil
			}
			return fmt.Errorf("telemetry source stopped: %w", err)
		case s := <-samples:
			if err := e.handleSample(s); err != nil {
				log.Warnf("Dropping sample: %v", err)
			}
		case <-ticker.C:
			e.publish(publishers, alerts)
		}
	}
}

func newSource(args Args, conf *Config) (telemetry.Source, error) {
	switch args.Source {
	case sourceSerial:
		return &telemetry.SerialSource{
			Port:    args.SerialPort,
			Baud:    args.Baud,
			Retries: 3,
			Wait:    5 * time.Second,
			Log:     log,
		}, nil
	case sourceMQTT:
		return &telemetry.MQTTSource{
			Broker:   args.Broker,
			ClientID: mqttClientID + "-telemetry",
			Topic:    conf.TelemetryTopic,
			Log:      log,
		}, nil
	}
	return nil, fmt.Errorf("unknown source '%s'", args.Source)
}

// startPublishers sets up every enabled output. cleanup releases them.
func startPublishers(ctx context.Context, args Args, conf *Config, model *batterymodel.Model) ([]publisher, func(), error) {
	var publishers []publisher
	cleanup := func() {}
	fail := func(err error) ([]publisher, func(), error) {
		cleanup()
		return nil, nil, err
	}

	if !args.NoMQTT {
		p, err := newMQTTPublisher(args.Broker, mqttClientID, conf.EstimateTopic)
		if err != nil {
			return fail(err)
		}
		publishers = append(publishers, publisher{name: "MQTT", publish: p.publish})
		cleanup = p.close
	}

	if !args.NoDBus {
		if err := startService(model); err != nil {
			return fail(err)
		}
		publishers = append(publishers, publisher{name: "D-Bus", publish: sendEstimateSignal})
		armed, err := telemetry.ArmSignals(ctx, log)
		if err != nil {
			return fail(err)
		}
		go func() {
			for a := range armed {
				log.Infof("Armed: %v", a)
				model.SetArmed(a)
			}
		}()
	}

	if args.WebAddress != "" {
		web := newWebServer()
		publishers = append(publishers, publisher{name: "web", publish: web.publish})
		go func() {
			if err := web.serve(ctx, args.WebAddress); err != nil {
				log.Error("Web server stopped: ", err)
			}
		}()
	}

	if args.ReadingsFile != "" {
		readings, err := newReadingsLog(args.ReadingsFile)
		if err != nil {
			return fail(err)
		}
		publishers = append(publishers, publisher{name: "readings file", publish: readings.publish})
	}

	return publishers, cleanup, nil
}
