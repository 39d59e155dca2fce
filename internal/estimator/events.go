package estimator

import (
	"fmt"
	"math"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/TheCacophonyProject/flight-battery/batterymodel"
)

const (
	flightTimeLowEvent      = "flightTimeLow"
	flightTimeCriticalEvent = "flightTimeCritical"
)

type alertLevel int

const (
	alertNone alertLevel = iota
	alertLow
	alertCritical
)

// flightTimeAlerts raises an event when the armed flight time estimate drops
// below the low or critical threshold. Each level is reported once per arm cycle.
type flightTimeAlerts struct {
	low      float64
	critical float64
	report   func(eventclient.Event) error

	armed    bool
	reported alertLevel
}

func newFlightTimeAlerts(low, critical float64) *flightTimeAlerts {
	return &flightTimeAlerts{
		low:      low,
		critical: critical,
		report:   eventclient.AddEvent,
	}
}

func (a *flightTimeAlerts) check(s batterymodel.State) {
	if s.Armed && !a.armed {
		a.reported = alertNone
	}
	a.armed = s.Armed
	if !s.Armed || !s.CapacityInitialized {
		return
	}

	level := alertNone
	switch {
	case s.TimeEstimate < a.critical:
		level = alertCritical
	case s.TimeEstimate < a.low:
		level = alertLow
	}
	if level <= a.reported {
		return
	}
	a.reported = level

	eventType := flightTimeLowEvent
	if level == alertCritical {
		eventType = flightTimeCriticalEvent
	}
	event := eventclient.Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Details: map[string]interface{}{
			"secondsRemaining": int(math.Round(s.TimeEstimate)),
			"timeRemaining":    formatFlightTime(s.TimeEstimate),
			"capacity":         s.Capacity,
			"unit":             s.Unit,
			"voltage":          s.Voltage,
			"current":          s.Current,
		},
	}
	if err := a.report(event); err != nil {
		log.Error("Error sending flight time event:", err)
	} else {
		log.Infof("Flight time event sent: %s - %s remaining", eventType, formatFlightTime(s.TimeEstimate))
	}
}

func formatFlightTime(seconds float64) string {
	total := int(math.Round(seconds))
	if total < 60 {
		return fmt.Sprintf("%d seconds", total)
	}
	return fmt.Sprintf("%d minutes %d seconds", total/60, total%60)
}
