package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jewelshot/engine/internal/domain"
)

const snapshotSchemaSQL = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	position INT NOT NULL,
	name TEXT NOT NULL,
	aspect_ratio TEXT NOT NULL DEFAULT '',
	preset_name TEXT NOT NULL DEFAULT '',
	jewelry_type TEXT NOT NULL DEFAULT '',
	gender TEXT NOT NULL DEFAULT '',
	naming_config JSONB,
	state TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	paused_at TIMESTAMPTZ,
	timed_out BOOLEAN NOT NULL DEFAULT FALSE,
	is_current BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS batch_items (
	batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	position INT NOT NULL,
	id TEXT NOT NULL DEFAULT '',
	local_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	output_name TEXT NOT NULL DEFAULT '',
	original_url TEXT NOT NULL DEFAULT '',
	result_url TEXT NOT NULL DEFAULT '',
	thumbnail_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	progress INT NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	credits_refunded INT NOT NULL DEFAULT 0,
	PRIMARY KEY (batch_id, position)
);
`

// PGPersister stores the snapshot in Postgres so the batch list survives
// restarts and can be shared by replicas behind the same session.
type PGPersister struct {
	pool *pgxpool.Pool
}

// NewPGPersister ensures the snapshot schema and returns the persister.
func NewPGPersister(ctx context.Context, pool *pgxpool.Pool) (*PGPersister, error) {
	if _, err := pool.Exec(ctx, snapshotSchemaSQL); err != nil {
		return nil, fmt.Errorf("store: ensure snapshot schema: %w", err)
	}
	return &PGPersister{pool: pool}, nil
}

// Save replaces the stored snapshot inside one transaction.
func (p *PGPersister) Save(ctx context.Context, snap Snapshot) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM batches`); err != nil {
		return fmt.Errorf("store: clear snapshot: %w", err)
	}

	for pos, b := range snap.Batches {
		_, err := tx.Exec(ctx, `
INSERT INTO batches (id, position, name, aspect_ratio, preset_name, jewelry_type, gender, naming_config, state, started_at, paused_at, timed_out, is_current)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			b.ID, pos, b.Name, b.AspectRatio, b.PresetName, b.JewelryType, b.Gender,
			b.NamingConfig, b.State, b.StartedAt, b.PausedAt, b.TimedOut, b.ID == snap.CurrentID,
		)
		if err != nil {
			return fmt.Errorf("store: insert batch %s: %w", b.ID, err)
		}
		for ipos, item := range b.Items {
			_, err := tx.Exec(ctx, `
INSERT INTO batch_items (batch_id, position, id, local_id, filename, output_name, original_url, result_url, thumbnail_url, status, progress, error, credits_refunded)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				b.ID, ipos, item.ID, item.LocalID, item.Filename, item.OutputName,
				item.OriginalURL, item.ResultURL, item.ThumbnailURL,
				item.Status, item.Progress, item.Error, item.CreditsRefunded,
			)
			if err != nil {
				return fmt.Errorf("store: insert item %s/%d: %w", b.ID, ipos, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit snapshot: %w", err)
	}
	return nil
}

// Load reconstructs the snapshot in stored order. ok=false when no batches
// have ever been saved.
func (p *PGPersister) Load(ctx context.Context) (Snapshot, bool, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, name, aspect_ratio, preset_name, jewelry_type, gender, naming_config, state, started_at, paused_at, timed_out, is_current
FROM batches ORDER BY position`)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("store: query batches: %w", err)
	}
	defer rows.Close()

	var snap Snapshot
	for rows.Next() {
		var b domain.BatchJob
		var isCurrent bool
		if err := rows.Scan(
			&b.ID, &b.Name, &b.AspectRatio, &b.PresetName, &b.JewelryType, &b.Gender,
			&b.NamingConfig, &b.State, &b.StartedAt, &b.PausedAt, &b.TimedOut, &isCurrent,
		); err != nil {
			return Snapshot{}, false, fmt.Errorf("store: scan batch: %w", err)
		}
		if isCurrent {
			snap.CurrentID = b.ID
		}
		snap.Batches = append(snap.Batches, b)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, false, fmt.Errorf("store: iterate batches: %w", err)
	}
	if len(snap.Batches) == 0 {
		return Snapshot{}, false, nil
	}

	index := make(map[string]*domain.BatchJob, len(snap.Batches))
	for i := range snap.Batches {
		index[snap.Batches[i].ID] = &snap.Batches[i]
	}

	itemRows, err := p.pool.Query(ctx, `
SELECT batch_id, id, local_id, filename, output_name, original_url, result_url, thumbnail_url, status, progress, error, credits_refunded
FROM batch_items ORDER BY batch_id, position`)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("store: query items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var batchID string
		var item domain.BatchItem
		if err := itemRows.Scan(
			&batchID, &item.ID, &item.LocalID, &item.Filename, &item.OutputName,
			&item.OriginalURL, &item.ResultURL, &item.ThumbnailURL,
			&item.Status, &item.Progress, &item.Error, &item.CreditsRefunded,
		); err != nil {
			return Snapshot{}, false, fmt.Errorf("store: scan item: %w", err)
		}
		if b, ok := index[batchID]; ok {
			b.Items = append(b.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return Snapshot{}, false, fmt.Errorf("store: iterate items: %w", err)
	}
	return snap, true, nil
}
