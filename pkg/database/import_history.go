package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// =====================
// Import history
// =====================

// ImportRecord describes one import attempt, keyed by the source
// document's digest. The table is non-authoritative: wiping it only
// costs the "seen before" notice, never the snapshot itself.
type ImportRecord struct {
	Source     string
	Digest     string
	ImportedAt int64
	Total      int64
	Skipped    int64
	Status     string
	Message    string
}

// FindImportByDigest returns the previous import of the same document,
// if any, so a re-run can be flagged instead of silently repeated.
func (db *Database) FindImportByDigest(ctx context.Context, digest string) (ImportRecord, bool, error) {
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return ImportRecord{}, false, nil
	}

	query := fmt.Sprintf(`SELECT source, digest, imported_at, total, skipped, status, message
FROM import_history WHERE digest = %s LIMIT 1`, placeholder(db.Driver, 1))

	var (
		rec     ImportRecord
		status  sql.NullString
		message sql.NullString
	)
	err := db.DB.QueryRowContext(ctx, query, digest).Scan(
		&rec.Source, &rec.Digest, &rec.ImportedAt, &rec.Total, &rec.Skipped, &status, &message)
	if err == sql.ErrNoRows {
		return ImportRecord{}, false, nil
	}
	if err != nil {
		return ImportRecord{}, false, fmt.Errorf("find import history: %w", err)
	}
	rec.Status = strings.TrimSpace(status.String)
	rec.Message = strings.TrimSpace(message.String)
	return rec, true, nil
}

// RecordImport stores or refreshes the history entry for rec.Digest.
// The update path keeps one row per document no matter how often it is
// re-processed.
func (db *Database) RecordImport(ctx context.Context, rec ImportRecord) error {
	rec.Digest = strings.TrimSpace(rec.Digest)
	if rec.Digest == "" {
		return fmt.Errorf("record import: empty digest")
	}

	_, exists, err := db.FindImportByDigest(ctx, rec.Digest)
	if err != nil {
		return err
	}

	if exists {
		ph := newPlaceholderGenerator(db.Driver)
		query := fmt.Sprintf(`UPDATE import_history
SET source = %s, imported_at = %s, total = %s, skipped = %s, status = %s, message = %s
WHERE digest = %s`, ph(), ph(), ph(), ph(), ph(), ph(), ph())
		if _, err := db.DB.ExecContext(ctx, query,
			rec.Source, rec.ImportedAt, rec.Total, rec.Skipped, rec.Status, rec.Message, rec.Digest); err != nil {
			return fmt.Errorf("update import history: %w", err)
		}
		return nil
	}

	ph := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`INSERT INTO import_history (id, source, digest, imported_at, total, skipped, status, message)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`, ph(), ph(), ph(), ph(), ph(), ph(), ph(), ph())
	if _, err := db.DB.ExecContext(ctx, query,
		db.NextID(), rec.Source, rec.Digest, rec.ImportedAt, rec.Total, rec.Skipped, rec.Status, rec.Message); err != nil {
		return fmt.Errorf("insert import history: %w", err)
	}
	return nil
}
