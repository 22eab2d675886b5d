package repo

import (
	"context"
	"database/sql"

	"todome/internal/domain"
)

func (r Repo) InsertTag(ctx context.Context, tx *sql.Tx, t domain.Tag) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tags(id,owner_id,name,created_at) VALUES (?,?,?,?)`,
		t.ID, t.OwnerID, t.Name, t.CreatedAt)
	return err
}

func (r Repo) FindTagByName(ctx context.Context, tx *sql.Tx, ownerID, name string) (domain.Tag, error) {
	var t domain.Tag
	row := r.q(tx).QueryRowContext(ctx, `SELECT id,owner_id,name,created_at FROM tags WHERE owner_id=? AND name=?`, ownerID, name)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTags(ctx context.Context, ownerID string) ([]domain.Tag, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,owner_id,name,created_at FROM tags WHERE owner_id=? ORDER BY name ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// MissingTagIDs reports which of the given tag ids do not exist for the owner.
func (r Repo) MissingTagIDs(ctx context.Context, tx *sql.Tx, ownerID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := []any{ownerID}
	for _, id := range ids {
		args = append(args, id)
	}
	query := `SELECT id FROM tags WHERE owner_id=? AND id IN (` + placeholders(len(ids)) + `)`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(found))
	for _, id := range found {
		present[id] = true
	}
	var missing []string
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
