package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

func TestParseCoordinates_Valid(t *testing.T) {
	coords, err := parseCoordinates("41.8781,-87.6298; 52.52,13.405")
	require.NoError(t, err)
	require.Len(t, coords, 2)
	assert.Equal(t, types.Coordinate{Lat: 41.8781, Lon: -87.6298}, coords[0])
	assert.Equal(t, types.Coordinate{Lat: 52.52, Lon: 13.405}, coords[1])
}

func TestParseCoordinates_EmptyUsesDefaults(t *testing.T) {
	coords, err := parseCoordinates("")
	require.NoError(t, err)
	assert.Equal(t, defaultCoordinates, coords)
}

func TestParseCoordinates_Malformed(t *testing.T) {
	for _, raw := range []string{"41.88", "41.88,-87.63,5", "a,b", "95,10", "10,190"} {
		_, err := parseCoordinates(raw)
		assert.Error(t, err, "input %q", raw)
	}
}

func TestParseCrops(t *testing.T) {
	assert.Equal(t, []string{"wheat", "rice"}, parseCrops(" Wheat , rice "))
	assert.Equal(t, defaultCrops, parseCrops(""))
	assert.Equal(t, defaultCrops, parseCrops(" , "))
}

func TestDefaultWindow(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	start, end := defaultWindow(now)
	assert.Equal(t, "2023-06-16", start)
	assert.Equal(t, "2024-06-15", end)
}

func TestValidateWindow(t *testing.T) {
	require.NoError(t, validateWindow("2024-01-01", "2024-06-01"))
	assert.Error(t, validateWindow("2024-06-01", "2024-01-01"), "reversed window")
	assert.Error(t, validateWindow("01/01/2024", "2024-06-01"))
}
