package estimator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TheCacophonyProject/flight-battery/batterymodel"
	"github.com/TheCacophonyProject/flight-battery/drainlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadingsLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.csv")
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	r, err := newReadingsLog(path)
	require.NoError(t, err)
	r.now = func() time.Time { return now }

	require.NoError(t, r.publish(batterymodel.State{Voltage: 12.4, Current: 25000, Temperature: 31}))
	now = now.Add(time.Second)
	require.NoError(t, r.publish(batterymodel.State{Voltage: 12.3, Current: 26000, Temperature: 31.5}))

	l, err := drainlog.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, l, 2)
	assert.Equal(t, 12.3, l[1].Voltage)
	assert.Equal(t, 26000.0, l[1].Current)
	assert.Equal(t, 31.5, l[1].Temperature)
	assert.Equal(t, time.Second, l[1].Time.Sub(l[0].Time))
}

func TestReadingsLogIsTrimmed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.csv")
	var b strings.Builder
	for i := 0; i < maxReadings+10; i++ {
		b.WriteString("2024-03-01 09:00:00.000000, 12.600, 1000.0, 20.0\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))

	_, err := newReadingsLog(path)
	require.NoError(t, err)
	l, err := drainlog.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, l, maxReadings)
}
