package repo

import (
	"context"
	"database/sql"

	"todome/internal/domain"
)

const projectCols = `id,owner_id,name,description,parent_id,position,archived,archived_at,created_at,updated_at`

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var description, parentID, archivedAt sql.NullString
	var archived int
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &description, &parentID, &p.Position, &archived, &archivedAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if description.Valid {
		p.Description = description.String
	}
	if parentID.Valid {
		p.ParentID = &parentID.String
	}
	p.Archived = archived != 0
	if archivedAt.Valid {
		p.ArchivedAt = &archivedAt.String
	}
	return p, nil
}

func projectArgs(p domain.Project) []any {
	return []any{
		p.ID, p.OwnerID, p.Name, p.Description, nullableStringPtr(p.ParentID), p.Position,
		boolInt(p.Archived), nullableStringPtr(p.ArchivedAt), p.CreatedAt, p.UpdatedAt,
	}
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`, projectArgs(p)...)
	return err
}

// UpsertProject reinstates a project row by id or overwrites every column of
// an existing one. Restore paths use it.
func (r Repo) UpsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET owner_id=excluded.owner_id, name=excluded.name, description=excluded.description,
parent_id=excluded.parent_id, position=excluded.position, archived=excluded.archived, archived_at=excluded.archived_at,
updated_at=excluded.updated_at`, projectArgs(p)...)
	return err
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET name=?, description=?, parent_id=?, position=?, archived=?, archived_at=?, updated_at=? WHERE id=?`,
		p.Name, p.Description, nullableStringPtr(p.ParentID), p.Position, boolInt(p.Archived), nullableStringPtr(p.ArchivedAt), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context, ownerID string, includeArchived bool) ([]domain.Project, error) {
	query := `SELECT ` + projectCols + ` FROM projects WHERE owner_id=?`
	if !includeArchived {
		query += ` AND archived=0`
	}
	query += ` ORDER BY position ASC, created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// NextProjectPosition returns the next free position slot for an owner.
func (r Repo) NextProjectPosition(ctx context.Context, tx *sql.Tx, ownerID string) (int, error) {
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT MAX(position) FROM projects WHERE owner_id=?`, ownerID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// ChildProjectIDs lists direct children of a project.
func (r Repo) ChildProjectIDs(ctx context.Context, tx *sql.Tx, projectID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM projects WHERE parent_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}
