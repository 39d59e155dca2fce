package estimator

import (
	"encoding/json"
	"testing"

	"github.com/TheCacophonyProject/flight-battery/batterymodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceMethods(t *testing.T) {
	model, err := batterymodel.New(batterymodel.VergeX1MAh())
	require.NoError(t, err)
	require.NoError(t, model.SetInput(12.3, 1000, 20))
	model.Update(0)
	model.Update(0)
	s := service{model: model}

	initialized, dbusErr := s.IsInitialized()
	assert.Nil(t, dbusErr)
	assert.True(t, initialized)

	capacity, unit, dbusErr := s.GetCapacity()
	assert.Nil(t, dbusErr)
	assert.Equal(t, model.Capacity(), capacity)
	assert.Equal(t, "mAh", unit)

	assert.Nil(t, s.SetArmed(true))
	assert.True(t, model.Armed())

	estimate, dbusErr := s.GetTimeEstimate()
	assert.Nil(t, dbusErr)
	assert.Equal(t, model.TimeEstimate(), estimate)

	state, dbusErr := s.GetState()
	assert.Nil(t, dbusErr)
	var decoded batterymodel.State
	require.NoError(t, json.Unmarshal([]byte(state), &decoded))
	assert.Equal(t, model.Snapshot(), decoded)
}
