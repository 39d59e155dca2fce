package estimator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheCacophonyProject/flight-battery/batterymodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), profileFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestMissingProfileUsesDefaults(t *testing.T) {
	c, err := loadProfileFile(filepath.Join(t.TempDir(), profileFileName), "")
	require.NoError(t, err)
	assert.Equal(t, "verge-x1", c.Profile.Name)
	assert.Equal(t, batterymodel.VergeX1Percent(), c.Profile.Coefficients)
	assert.Equal(t, DefaultSettings(), c.Settings)
	assert.Empty(t, c.ProfilePath)
}

func TestProfileAndSettings(t *testing.T) {
	path := writeProfile(t, `
preset = "verge-x1-mah"
nominal-capacity = 10000

[estimator]
window-size = 5
convergence-threshold = 2.5
low-time-seconds = 300
critical-time-seconds = 90
publish-interval = "500ms"
estimate-topic = "drone/battery"
`)
	c, err := loadProfileFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, path, c.ProfilePath)
	assert.Equal(t, batterymodel.UnitMAh, c.Profile.Coefficients.Unit)
	assert.Equal(t, 10000.0, c.Profile.Coefficients.NominalCapacity)

	assert.Equal(t, Settings{
		WindowSize:           5,
		ConvergenceThreshold: 2.5,
		LowTimeSeconds:       300,
		CriticalTimeSeconds:  90,
		PublishInterval:      500 * time.Millisecond,
		TelemetryTopic:       "flight-battery/telemetry",
		EstimateTopic:        "drone/battery",
	}, c.Settings)
	assert.Equal(t, batterymodel.Tuning{WindowSize: 5, ConvergenceThreshold: 2.5}, c.Tuning())
}

func TestSettingsOnlyProfileUsesDefaultCalibration(t *testing.T) {
	path := writeProfile(t, "[estimator]\nlow-time-seconds = 200\n")
	c, err := loadProfileFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, "verge-x1", c.Profile.Name)
	assert.Empty(t, c.ProfilePath)
	assert.Equal(t, 200.0, c.LowTimeSeconds)
}

func TestPresetOverridesProfile(t *testing.T) {
	path := writeProfile(t, "preset = \"verge-x1\"\n")
	c, err := loadProfileFile(path, "verge-x1-mah")
	require.NoError(t, err)
	assert.Equal(t, "verge-x1-mah", c.Profile.Name)
	assert.Empty(t, c.ProfilePath)

	_, err = loadProfileFile(path, "unknown")
	assert.Error(t, err)
}

func TestMinimumPublishInterval(t *testing.T) {
	c, err := loadProfileFile(writeProfile(t, "[estimator]\npublish-interval = \"100ms\"\n"), "")
	require.NoError(t, err)
	assert.Equal(t, minPublishInterval, c.PublishInterval)
}

func TestInvalidSettings(t *testing.T) {
	tests := map[string]string{
		"critical above low": "[estimator]\nlow-time-seconds = 60\ncritical-time-seconds = 120\n",
		"zero interval":      "[estimator]\npublish-interval = \"0s\"\n",
		"unitless interval":  "[estimator]\npublish-interval = 1\n",
		"interval too short": "[estimator]\npublish-interval = \"10ms\"\n",
		"empty topic":        "[estimator]\nestimate-topic = \"\"\n",
		"bad profile":        "x1 = 100\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := loadProfileFile(writeProfile(t, content), "")
			assert.Error(t, err)
		})
	}
}
