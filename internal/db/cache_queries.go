package db

import (
	"context"
	"encoding/json"
	"fmt"
)

// UpsertCacheEntry stores one content-addressed value. Keys are hashes of
// their inputs, so on conflict the existing value is kept; the first
// writer wins and later identical writes are no-ops.
func (p *Pool) UpsertCacheEntry(ctx context.Context, namespace string, key []byte, value json.RawMessage) (bool, error) {
	if namespace == "" {
		return false, fmt.Errorf("cache namespace must not be empty")
	}
	if len(key) == 0 {
		return false, fmt.Errorf("cache key must not be empty")
	}

	const q = `
INSERT INTO events.cache_entries (namespace, cache_key, value)
VALUES ($1, $2, $3)
ON CONFLICT (namespace, cache_key) DO NOTHING`

	tag, err := p.Exec(ctx, q, namespace, key, value)
	if err != nil {
		return false, fmt.Errorf("upsert cache entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetCacheEntry returns the stored value for a key, or ErrNoRows.
func (p *Pool) GetCacheEntry(ctx context.Context, namespace string, key []byte) (json.RawMessage, error) {
	const q = `
SELECT c.value
FROM events.cache_entries c
WHERE c.namespace = $1
  AND c.cache_key = $2`

	var value json.RawMessage
	if err := p.QueryRow(ctx, q, namespace, key).Scan(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// CountCacheEntries returns per-namespace entry counts.
func (p *Pool) CountCacheEntries(ctx context.Context) (map[string]int64, error) {
	const q = `
SELECT c.namespace, COUNT(*)::BIGINT
FROM events.cache_entries c
GROUP BY c.namespace`

	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count cache entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64, 4)
	for rows.Next() {
		var namespace string
		var count int64
		if err := rows.Scan(&namespace, &count); err != nil {
			return nil, fmt.Errorf("scan cache count: %w", err)
		}
		counts[namespace] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache counts: %w", err)
	}
	return counts, nil
}
