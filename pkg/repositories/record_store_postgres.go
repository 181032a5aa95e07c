package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/database"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

// PostgresRecordStore reads and enriches rows of the geo_records table.
type PostgresRecordStore struct {
	db *database.DB
}

// NewPostgresRecordStore creates a RecordStore over geo_records.
func NewPostgresRecordStore(db *database.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

var _ RecordStore = (*PostgresRecordStore)(nil)

// Upsert stores or replaces a record's data, keeping its tags.
func (s *PostgresRecordStore) Upsert(ctx context.Context, region, id string, data map[string]any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal record data: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO geo_records (region, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (region, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		region, id, dataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) ListLocations(ctx context.Context, region, geoField string) ([]models.RecordLocation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, data -> $2
		FROM geo_records
		WHERE region = $1
		ORDER BY id`, region, geoField)
	if err != nil {
		return nil, fmt.Errorf("failed to list record locations: %w", err)
	}
	defer rows.Close()

	var out []models.RecordLocation
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan record location: %w", err)
		}
		loc := models.RecordLocation{RecordID: id}
		if raw != nil {
			loc.Value = json.RawMessage(raw)
		}
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record locations: %w", err)
	}
	return out, nil
}

func (s *PostgresRecordStore) ApplyUpdates(ctx context.Context, region string, updates []models.RecordUpdate) error {
	batch := &pgx.Batch{}
	for _, u := range updates {
		if u.IsEmpty() {
			continue
		}
		fields := u.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		fieldsJSON, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields for record %s: %w", u.RecordID, err)
		}
		tags := u.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(`
			UPDATE geo_records
			SET data = data || $3::jsonb,
			    tags = ARRAY(SELECT DISTINCT t FROM unnest(tags || $4::text[]) AS t ORDER BY t),
			    updated_at = now()
			WHERE region = $1 AND id = $2`,
			region, u.RecordID, fieldsJSON, tags)
	}
	if batch.Len() == 0 {
		return nil
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to apply record update: %w", err)
		}
	}
	return nil
}

func (s *PostgresRecordStore) ClearFields(ctx context.Context, region string, fields []string) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE geo_records
		SET data = data - $2::text[],
		    tags = ARRAY(SELECT t FROM unnest(tags) AS t WHERE t <> ALL($2::text[])),
		    updated_at = now()
		WHERE region = $1 AND (data ?| $2::text[] OR tags && $2::text[])`,
		region, fields,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear enrichment fields: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
