package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

// SeenFingerprint reports whether a content hash is already registered.
func (s *Store) SeenFingerprint(ctx context.Context, hash string) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM etl_idempotency_keys WHERE key_hash = $1)
	`, hash).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("fingerprint lookup: %w", err)
	}
	return seen, nil
}

// registerFingerprint records an applied fingerprint inside the caller's
// transaction. A conflicting concurrent registration is a no-op: the content
// is identical by definition of the hash, so the accompanying upsert is
// harmless and the caller's write still commits.
func registerFingerprint(ctx context.Context, tx pgx.Tx, fp types.Fingerprint) error {
	if fp.Hash == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO etl_idempotency_keys (key_hash, entity_type, entity_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (key_hash) DO NOTHING
	`, fp.Hash, string(fp.EntityType), fp.EntityID)
	if err != nil {
		return fmt.Errorf("register fingerprint: %w", err)
	}
	return nil
}
