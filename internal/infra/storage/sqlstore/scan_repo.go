package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/logsync/internal/core/domain"
)

// ScanRepo implements storage.ScanRepository over SQL.
type ScanRepo struct {
	db *DB
}

// NewScanRepo creates a new SQL scan repository.
func NewScanRepo(db *DB) *ScanRepo {
	return &ScanRepo{db: db}
}

type rangeRow struct {
	Start uint64 `db:"start_block"`
	End   uint64 `db:"end_block"`
}

// Get returns the scan meta of a channel.
func (r *ScanRepo) Get(ctx context.Context, channel string) (*domain.ScanMeta, error) {
	channel = domain.NormalizeChannel(channel)
	meta := &domain.ScanMeta{Channel: channel, Ranges: []domain.Range{}}

	var lastUpdated int64
	err := r.db.GetContext(ctx, &lastUpdated,
		r.db.Rebind(`SELECT last_updated FROM scan_meta WHERE channel = ?`), channel)
	if errors.Is(err, sql.ErrNoRows) {
		return meta, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan meta: %w", err)
	}
	meta.LastUpdated = time.Unix(lastUpdated, 0).UTC()

	var rows []rangeRow
	err = r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT start_block, end_block FROM scan_ranges
		WHERE channel = ?
		ORDER BY start_block ASC
	`), channel)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan ranges: %w", err)
	}
	for _, row := range rows {
		meta.Ranges = append(meta.Ranges, domain.Range{Start: row.Start, End: row.End})
	}
	return meta, nil
}

// Save replaces the scan meta of a channel in one transaction.
func (r *ScanRepo) Save(ctx context.Context, meta *domain.ScanMeta) error {
	channel := domain.NormalizeChannel(meta.Channel)
	updated := meta.LastUpdated
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM scan_ranges WHERE channel = ?`), channel); err != nil {
		return fmt.Errorf("failed to clear scan ranges: %w", err)
	}

	insert := tx.Rebind(`INSERT INTO scan_ranges (channel, start_block, end_block) VALUES (?, ?, ?)`)
	for _, rg := range meta.Ranges {
		if _, err := tx.ExecContext(ctx, insert, channel, rg.Start, rg.End); err != nil {
			return fmt.Errorf("failed to save scan range %s: %w", rg, err)
		}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO scan_meta (channel, last_updated) VALUES (?, ?)
		ON CONFLICT (channel) DO UPDATE SET last_updated = EXCLUDED.last_updated
	`), channel, updated.Unix())
	if err != nil {
		return fmt.Errorf("failed to save scan meta: %w", err)
	}

	return tx.Commit()
}

// Delete removes the scan meta of a channel.
func (r *ScanRepo) Delete(ctx context.Context, channel string) error {
	channel = domain.NormalizeChannel(channel)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM scan_ranges WHERE channel = ?`), channel); err != nil {
		return fmt.Errorf("failed to delete scan ranges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM scan_meta WHERE channel = ?`), channel); err != nil {
		return fmt.Errorf("failed to delete scan meta: %w", err)
	}
	return tx.Commit()
}

// DeleteAll removes every scan meta.
func (r *ScanRepo) DeleteAll(ctx context.Context) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_ranges`); err != nil {
		return fmt.Errorf("failed to delete scan ranges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_meta`); err != nil {
		return fmt.Errorf("failed to delete scan meta: %w", err)
	}
	return tx.Commit()
}

// Channels lists every channel with stored scan meta.
func (r *ScanRepo) Channels(ctx context.Context) ([]string, error) {
	var channels []string
	if err := r.db.SelectContext(ctx, &channels, `SELECT channel FROM scan_meta ORDER BY channel`); err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}
