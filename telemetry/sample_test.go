package telemetry

import (
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepper(t *testing.T) {
	s := NewStepper()
	base := time.UnixMicro(1709287200000000)

	dt, backwards := s.Step(Sample{Timestamp: base})
	assert.Equal(t, time.Duration(0), dt)
	assert.False(t, backwards)

	dt, _ = s.Step(Sample{Timestamp: base.Add(50 * time.Millisecond)})
	assert.Equal(t, 50*time.Millisecond, dt)

	dt, backwards = s.Step(Sample{Timestamp: base.Add(20 * time.Millisecond)})
	assert.Equal(t, time.Duration(0), dt)
	assert.True(t, backwards)

	// Steps continue from the newest timestamp.
	dt, backwards = s.Step(Sample{Timestamp: base.Add(70 * time.Millisecond)})
	assert.Equal(t, 50*time.Millisecond, dt)
	assert.False(t, backwards)
}

func TestStepperFallsBackToReceiveTime(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s := &Stepper{now: func() time.Time { return now }}

	dt, _ := s.Step(Sample{})
	assert.Equal(t, time.Duration(0), dt)

	now = now.Add(time.Second)
	dt, _ = s.Step(Sample{})
	assert.Equal(t, time.Second, dt)
}

func TestFromMicros(t *testing.T) {
	assert.True(t, FromMicros(0).IsZero())
	assert.Equal(t, int64(1500), FromMicros(1500).UnixMicro())
	assert.Equal(t, int64(0), toMicros(time.Time{}))
}

func TestDecodeMessage(t *testing.T) {
	s, err := DecodeMessage([]byte(`{"voltage": 12.2, "current": 25000, "temperature": 30, "timestamp_us": 42, "armed": false}`))
	require.NoError(t, err)
	assert.Equal(t, 12.2, s.Voltage)
	assert.Equal(t, 25000.0, s.Current)
	assert.Equal(t, 30.0, s.Temperature)
	assert.Equal(t, int64(42), s.Timestamp.UnixMicro())
	require.NotNil(t, s.Armed)
	assert.False(t, *s.Armed)

	s, err = DecodeMessage([]byte(`{"voltage": 12.2, "current": 0}`))
	require.NoError(t, err)
	assert.Nil(t, s.Armed)
	assert.True(t, s.Timestamp.IsZero())

	for _, payload := range []string{`{"voltage": 12.2}`, `{"current": 100}`, `not json`} {
		_, err := DecodeMessage([]byte(payload))
		assert.ErrorIs(t, err, ErrBadFrame, payload)
	}

	payload, err := EncodeMessage(Sample{Voltage: 11.1, Current: 900, Armed: boolPtr(true)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"voltage": 11.1, "current": 900, "temperature": 0, "timestamp_us": 0, "armed": true}`, string(payload))
}

func TestParseArmedSignal(t *testing.T) {
	armed, ok := parseArmedSignal(&dbus.Signal{Name: "org.cacophony.flightcontroller.Armed", Body: []interface{}{true}})
	assert.True(t, ok)
	assert.True(t, armed)

	armed, ok = parseArmedSignal(&dbus.Signal{Name: "org.cacophony.flightcontroller.Armed", Body: []interface{}{false}})
	assert.True(t, ok)
	assert.False(t, armed)

	_, ok = parseArmedSignal(&dbus.Signal{Name: "org.cacophony.flightcontroller.Armed", Body: []interface{}{"yes"}})
	assert.False(t, ok)
	_, ok = parseArmedSignal(&dbus.Signal{Name: "org.cacophony.flightcontroller.Mode", Body: []interface{}{true}})
	assert.False(t, ok)
	_, ok = parseArmedSignal(nil)
	assert.False(t, ok)
}
