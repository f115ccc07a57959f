package lifecycle

import (
	"testing"

	"github.com/agroflow-systems/agroflow/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from  types.Stage
		to    types.Stage
		valid bool
	}{
		{types.StageCreated, types.StageExtracting, true},
		{types.StageCreated, types.StageFailed, true},
		{types.StageCreated, types.StageLoading, false},
		{types.StageExtracting, types.StageTransforming, true},
		{types.StageExtracting, types.StageFailed, true},
		{types.StageExtracting, types.StageSucceeded, false},
		{types.StageTransforming, types.StageMerging, true},
		{types.StageMerging, types.StageLoading, true},
		{types.StageMerging, types.StageSucceeded, false},
		{types.StageLoading, types.StageSucceeded, true},
		{types.StageLoading, types.StageFailed, true},
		{types.StageSucceeded, types.StageFailed, false},
		{types.StageFailed, types.StageCreated, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, CanTransition(tt.from, tt.to))
			err := Transition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(types.StageSucceeded))
	assert.True(t, IsTerminal(types.StageFailed))
	assert.False(t, IsTerminal(types.StageCreated))
	assert.False(t, IsTerminal(types.StageExtracting))
	assert.False(t, IsTerminal(types.StageMerging))
	assert.False(t, IsTerminal(types.StageLoading))
}
