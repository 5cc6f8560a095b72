package persist

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// KeyMappingRepo stores encoded key mapping blobs per character and spec
// index. The blob format is owned by the game layer; this repo treats it as
// opaque bytes.
type KeyMappingRepo struct {
	db *DB
}

func NewKeyMappingRepo(db *DB) *KeyMappingRepo {
	return &KeyMappingRepo{db: db}
}

func (r *KeyMappingRepo) Load(ctx context.Context, characterID int32, specIndex int32) ([]byte, error) {
	var data []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT data FROM key_mappings WHERE character_id = $1 AND spec_index = $2`,
		characterID, specIndex,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *KeyMappingRepo) LoadAll(ctx context.Context, characterID int32) (map[int32][]byte, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT spec_index, data FROM key_mappings WHERE character_id = $1`,
		characterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int32][]byte)
	for rows.Next() {
		var specIndex int32
		var data []byte
		if err := rows.Scan(&specIndex, &data); err != nil {
			return nil, err
		}
		result[specIndex] = data
	}
	return result, rows.Err()
}

func (r *KeyMappingRepo) Save(ctx context.Context, characterID int32, specIndex int32, data []byte) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO key_mappings (character_id, spec_index, data, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (character_id, spec_index)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		characterID, specIndex, data,
	)
	return err
}

func (r *KeyMappingRepo) Delete(ctx context.Context, characterID int32, specIndex int32) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM key_mappings WHERE character_id = $1 AND spec_index = $2`,
		characterID, specIndex,
	)
	return err
}
