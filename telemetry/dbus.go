package telemetry

import (
	"context"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/godbus/dbus/v5"
)

const (
	flightControllerInterface = "org.cacophony.flightcontroller"
	armedSignalName           = flightControllerInterface + ".Armed"
)

// ArmSignals listens for the flight controller's Armed(bool) signal on the
// system bus and sends each arm state change. The channel is closed when the
// context is cancelled.
func ArmSignals(ctx context.Context, log *logging.Logger) (<-chan bool, error) {
	if log == nil {
		log = logging.NewLogger("info")
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}

	rule := "type='signal',interface='" + flightControllerInterface + "'"
	call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule)
	if call.Err != nil {
		return nil, call.Err
	}

	c := make(chan *dbus.Signal, 10)
	conn.Signal(c)

	armed := make(chan bool, 10)
	log.Printf("Listening for D-Bus signals from %s...", flightControllerInterface)

	go func() {
		defer close(armed)
		defer conn.RemoveSignal(c)
		for {
			select {
			case <-ctx.Done():
				return
			case signal := <-c:
				a, ok := parseArmedSignal(signal)
				if !ok {
					if signal != nil && signal.Name == armedSignalName {
						log.Errorf("Unexpected signal format in body: %v", signal.Body)
					}
					continue
				}
				log.Debugf("Armed signal: %v", a)
				select {
				case armed <- a:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return armed, nil
}

func parseArmedSignal(signal *dbus.Signal) (bool, bool) {
	if signal == nil || signal.Name != armedSignalName || len(signal.Body) != 1 {
		return false, false
	}
	armed, ok := signal.Body[0].(bool)
	return armed, ok
}
