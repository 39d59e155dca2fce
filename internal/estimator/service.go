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
	"encoding/json"
	"errors"

	"github.com/TheCacophonyProject/flight-battery/batterymodel"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.cacophony.FlightBattery"
	dbusPath = "/org/cacophony/FlightBattery"

	estimateSignal = "org.cacophony.flightbattery.Estimate"
)

type service struct {
	model *batterymodel.Model
}

func startService(m *batterymodel.Model) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{
		model: m,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// GetTimeEstimate returns the seconds of flight remaining.
func (s service) GetTimeEstimate() (float64, *dbus.Error) {
	return s.model.TimeEstimate(), nil
}

// GetCapacity returns the remaining capacity and the unit it is in.
func (s service) GetCapacity() (float64, string, *dbus.Error) {
	return s.model.Capacity(), s.model.Coefficients().Unit, nil
}

func (s service) IsInitialized() (bool, *dbus.Error) {
	return s.model.CapacityInitialized(), nil
}

// SetArmed is for flight controllers that can't send the Armed signal.
func (s service) SetArmed(armed bool) *dbus.Error {
	log.Infof("Armed set to %v over D-Bus", armed)
	s.model.SetArmed(armed)
	return nil
}

// GetState returns the model state as JSON.
func (s service) GetState() (string, *dbus.Error) {
	b, err := json.Marshal(s.model.Snapshot())
	if err != nil {
		return "", makeDbusError(".GetState", err)
	}
	return string(b), nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + name,
		Body: []interface{}{err.Error()},
	}
}

// sendEstimateSignal broadcasts the estimate on the system bus.
func sendEstimateSignal(s batterymodel.State) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	sig := &dbus.Signal{
		Path: dbus.ObjectPath(dbusPath),
		Name: estimateSignal,
		Body: []interface{}{s.TimeEstimate, s.Capacity, s.CapacityInitialized},
	}
	return conn.Emit(sig.Path, sig.Name, sig.Body...)
}
