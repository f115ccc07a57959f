package idempotency

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

// Registry is the durable fingerprint store the guard consults. Presence of a
// hash means the record was applied by a committed transaction.
type Registry interface {
	SeenFingerprint(ctx context.Context, hash string) (bool, error)
}

// Guard answers "has this exact record already been applied?" ahead of a
// write. Registration itself is not the guard's job: the warehouse records
// fingerprints inside the same transaction as the guarded write, so a crash
// between check and apply leaves no registered-but-unapplied hash behind.
type Guard struct {
	reg Registry
	log *slog.Logger
}

func NewGuard(reg Registry, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{reg: reg, log: log}
}

// Seen reports whether fp was applied before. Registry errors surface as
// transient infrastructure failures so the batch retries instead of risking
// a double apply.
func (g *Guard) Seen(ctx context.Context, fp types.Fingerprint) (bool, error) {
	if fp.Hash == "" {
		return false, fmt.Errorf("%w: empty fingerprint for %s %q",
			types.ErrValidationFailure, fp.EntityType, fp.EntityID)
	}
	seen, err := g.reg.SeenFingerprint(ctx, fp.Hash)
	if err != nil {
		return false, fmt.Errorf("%w: fingerprint lookup: %v", types.ErrTransientInfra, err)
	}
	if seen {
		g.log.Debug("duplicate record skipped",
			"entity_type", fp.EntityType, "entity_id", fp.EntityID)
	}
	return seen, nil
}

// Partition splits fingerprints into unseen and already-applied sets,
// preserving order. The indices of fresh line up with the caller's rows.
func (g *Guard) Partition(ctx context.Context, fps []types.Fingerprint) (fresh []int, dupes int, err error) {
	for idx, fp := range fps {
		seen, err := g.Seen(ctx, fp)
		if err != nil {
			return nil, 0, err
		}
		if seen {
			dupes++
			continue
		}
		fresh = append(fresh, idx)
	}
	return fresh, dupes, nil
}
