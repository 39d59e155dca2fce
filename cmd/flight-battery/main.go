package main

import (
	"fmt"
	"os"

	"github.com/TheCacophonyProject/flight-battery/internal/calibrate"
	"github.com/TheCacophonyProject/flight-battery/internal/estimator"
	"github.com/TheCacophonyProject/flight-battery/internal/simulate"
	"github.com/TheCacophonyProject/go-utils/logging"
)

var log *logging.Logger

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

var version = "<not set>"

func runMain() error {
	log = logging.NewLogger("info")
	if len(os.Args) < 2 {
		log.Info("Usage: flight-battery <estimator|calibrate|simulate> [args]")
		return fmt.Errorf("no subcommand given")
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	var err error
	switch subcommand {
	case "estimator":
		err = estimator.Run(args, version)
	case "calibrate":
		err = calibrate.Run(args, version)
	case "simulate":
		err = simulate.Run(args, version)
	default:
		err = fmt.Errorf("unknown subcommand: %s", subcommand)
	}

	return err
}
