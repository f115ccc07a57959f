// Package lifecycle implements the batch orchestrator state machine.
package lifecycle

import (
	"fmt"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.Stage][]types.Stage{
	types.StageCreated:      {types.StageExtracting, types.StageFailed},
	types.StageExtracting:   {types.StageTransforming, types.StageFailed},
	types.StageTransforming: {types.StageMerging, types.StageFailed},
	types.StageMerging:      {types.StageLoading, types.StageFailed},
	types.StageLoading:      {types.StageSucceeded, types.StageFailed},
	types.StageSucceeded:    {},
	types.StageFailed:       {},
}

// CanTransition checks if transitioning from one stage to another is valid.
func CanTransition(from, to types.Stage) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates the stage change, returning an error if it is invalid.
func Transition(from, to types.Stage) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if the stage is a terminal (final) state.
func IsTerminal(stage types.Stage) bool {
	return stage == types.StageSucceeded || stage == types.StageFailed
}
