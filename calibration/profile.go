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

// Package calibration loads, saves and fits battery calibration profiles.
package calibration

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/TheCacophonyProject/flight-battery/batterymodel"
	"github.com/spf13/viper"
)

const DefaultPreset = "verge-x1"

// Profile is a named set of battery coefficients.
type Profile struct {
	Name         string
	Coefficients batterymodel.Coefficients
}

// Presets are the built in calibrations, by name.
var Presets = map[string]func() batterymodel.Coefficients{
	DefaultPreset:  batterymodel.VergeX1Percent,
	"verge-x1-mah": batterymodel.VergeX1MAh,
}

func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Preset(name string) (Profile, error) {
	f, ok := Presets[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown battery preset '%s', valid presets are %s",
			name, strings.Join(PresetNames(), ", "))
	}
	return Profile{Name: name, Coefficients: f()}, nil
}

func DefaultProfile() Profile {
	p, _ := Preset(DefaultPreset)
	return p
}

// LoadProfile reads a profile file. The format is taken from the extension.
func LoadProfile(path string) (Profile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Profile{}, fmt.Errorf("reading profile '%s': %w", path, err)
	}
	p, err := ProfileFromViper(v)
	if err != nil {
		return Profile{}, fmt.Errorf("profile '%s': %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// ProfileFromViper builds a profile from the top level keys of a config.
// If "preset" is set the profile starts from that preset and any coefficient
// keys override it.
func ProfileFromViper(v *viper.Viper) (Profile, error) {
	p := Profile{Coefficients: batterymodel.Coefficients{Unit: batterymodel.UnitPercent}}
	if v.IsSet("preset") {
		preset, err := Preset(v.GetString("preset"))
		if err != nil {
			return Profile{}, err
		}
		p = preset
	}
	if v.IsSet("name") {
		p.Name = v.GetString("name")
	}
	if v.IsSet("unit") {
		p.Coefficients.Unit = v.GetString("unit")
	}
	for key, field := range coefficientFields(&p.Coefficients) {
		if v.IsSet(key) {
			*field = v.GetFloat64(key)
		}
	}
	if err := p.Coefficients.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// WriteProfile saves a profile, in a format chosen by the path's extension.
func WriteProfile(path string, p Profile) error {
	v := viper.New()
	v.Set("name", p.Name)
	v.Set("unit", p.Coefficients.Unit)
	c := p.Coefficients
	for key, field := range coefficientFields(&c) {
		v.Set(key, *field)
	}
	return v.WriteConfigAs(path)
}

func coefficientFields(c *batterymodel.Coefficients) map[string]*float64 {
	return map[string]*float64{
		"x3": &c.X3, "x2": &c.X2, "x1": &c.X1, "x0": &c.X0,
		"y3": &c.Y3, "y2": &c.Y2, "y1": &c.Y1, "y0": &c.Y0,
		"nominal-capacity": &c.NominalCapacity,
	}
}
