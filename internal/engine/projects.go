package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"todome/internal/domain"
	"todome/internal/events"
	"todome/internal/repo"
	"todome/internal/snapshot"
)

func validateProjectName(name string) error {
	if name == "" {
		return invalidf("project name is required")
	}
	if len(name) > 200 {
		return invalidf("project name exceeds 200 characters")
	}
	return nil
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Name        string
	Description string
	ParentID    string
}

func (e Engine) CreateProject(ctx context.Context, ownerID string, opts ProjectCreateOptions) (domain.Project, error) {
	if err := validateProjectName(opts.Name); err != nil {
		return domain.Project{}, err
	}
	if opts.ParentID != "" {
		if _, err := e.getOwnedProject(ctx, ownerID, opts.ParentID); err != nil {
			return domain.Project{}, err
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	position, err := e.Repo.NextProjectPosition(ctx, tx, ownerID)
	if err != nil {
		return domain.Project{}, err
	}
	now := e.nowRFC3339()
	p := domain.Project{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        opts.Name,
		Description: opts.Description,
		ParentID:    optionalString(opts.ParentID),
		Position:    position,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.created", ownerID, "project", p.ID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ProjectUpdateOptions encapsulates sparse project updates. Nil leaves a
// field unchanged; a pointer to the zero value clears it.
type ProjectUpdateOptions struct {
	Name        *string
	Description *string
	ParentID    *string
	Position    *int
}

func (e Engine) UpdateProject(ctx context.Context, ownerID, id string, opts ProjectUpdateOptions) (domain.Project, snapshot.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, snapshot.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.getOwnedProjectTx(ctx, tx, ownerID, id)
	if err != nil {
		return domain.Project{}, snapshot.Project{}, err
	}
	prior := snapshot.CaptureProject(p)

	if opts.Name != nil {
		if err := validateProjectName(*opts.Name); err != nil {
			return p, snapshot.Project{}, err
		}
		p.Name = *opts.Name
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.ParentID != nil {
		if *opts.ParentID == "" {
			p.ParentID = nil
		} else {
			parent, err := e.Repo.GetProjectTx(ctx, tx, *opts.ParentID)
			if err != nil {
				return p, snapshot.Project{}, fmt.Errorf("project %s: %w", *opts.ParentID, err)
			}
			if parent.OwnerID != ownerID {
				return p, snapshot.Project{}, fmt.Errorf("project %s: %w", *opts.ParentID, repo.ErrPermissionDenied)
			}
			if err := e.ensureNoProjectCycle(ctx, tx, id, *opts.ParentID); err != nil {
				return p, snapshot.Project{}, err
			}
			p.ParentID = opts.ParentID
		}
	}
	if opts.Position != nil {
		p.Position = *opts.Position
	}

	p.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return p, snapshot.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.updated", ownerID, "project", p.ID, events.EventPayload{"name": p.Name}); err != nil {
		return p, snapshot.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return p, snapshot.Project{}, err
	}
	return p, prior, nil
}

// DeleteProject removes an empty project. Projects holding tasks or child
// projects refuse deletion so nothing is orphaned silently.
func (e Engine) DeleteProject(ctx context.Context, ownerID, id string) (snapshot.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return snapshot.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.getOwnedProjectTx(ctx, tx, ownerID, id)
	if err != nil {
		return snapshot.Project{}, err
	}
	n, err := e.Repo.CountProjectTasks(ctx, tx, id)
	if err != nil {
		return snapshot.Project{}, err
	}
	if n > 0 {
		return snapshot.Project{}, invalidf("project %s still has %d tasks", id, n)
	}
	children, err := e.Repo.ChildProjectIDs(ctx, tx, id)
	if err != nil {
		return snapshot.Project{}, err
	}
	if len(children) > 0 {
		return snapshot.Project{}, invalidf("project %s still has %d child projects", id, len(children))
	}

	prior := snapshot.CaptureProject(p)
	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		return snapshot.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.deleted", ownerID, "project", id, events.EventPayload{"name": p.Name}); err != nil {
		return snapshot.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return snapshot.Project{}, err
	}
	return prior, nil
}

func (e Engine) ArchiveProject(ctx context.Context, ownerID, id string) (domain.Project, snapshot.Project, error) {
	return e.setProjectArchived(ctx, ownerID, id, true)
}

func (e Engine) UnarchiveProject(ctx context.Context, ownerID, id string) (domain.Project, snapshot.Project, error) {
	return e.setProjectArchived(ctx, ownerID, id, false)
}

func (e Engine) setProjectArchived(ctx context.Context, ownerID, id string, archived bool) (domain.Project, snapshot.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, snapshot.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.getOwnedProjectTx(ctx, tx, ownerID, id)
	if err != nil {
		return domain.Project{}, snapshot.Project{}, err
	}
	prior := snapshot.CaptureProject(p)

	now := e.nowRFC3339()
	p.Archived = archived
	if archived {
		p.ArchivedAt = &now
	} else {
		p.ArchivedAt = nil
	}
	p.UpdatedAt = now
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return p, snapshot.Project{}, err
	}
	evtType := "project.archived"
	if !archived {
		evtType = "project.unarchived"
	}
	if err := e.Events.Append(ctx, tx, evtType, ownerID, "project", p.ID, events.EventPayload{"name": p.Name}); err != nil {
		return p, snapshot.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return p, snapshot.Project{}, err
	}
	return p, prior, nil
}

func (e Engine) GetProject(ctx context.Context, ownerID, id string) (domain.Project, error) {
	return e.getOwnedProject(ctx, ownerID, id)
}

func (e Engine) ListProjects(ctx context.Context, ownerID string, includeArchived bool) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, ownerID, includeArchived)
}

func (e Engine) getOwnedProjectTx(ctx context.Context, tx *sql.Tx, ownerID, id string) (domain.Project, error) {
	p, err := e.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		return p, fmt.Errorf("project %s: %w", id, err)
	}
	if p.OwnerID != ownerID {
		return domain.Project{}, fmt.Errorf("project %s: %w", id, repo.ErrPermissionDenied)
	}
	return p, nil
}

// ensureNoProjectCycle walks the parent chain upwards from newParentID and
// fails if it reaches projectID.
func (e Engine) ensureNoProjectCycle(ctx context.Context, tx *sql.Tx, projectID, newParentID string) error {
	visited := map[string]bool{}
	cur := newParentID
	for cur != "" {
		if cur == projectID {
			return invalidf("project %s cannot be its own ancestor", projectID)
		}
		if visited[cur] {
			return invalidf("project hierarchy already contains a cycle at %s", cur)
		}
		visited[cur] = true
		p, err := e.Repo.GetProjectTx(ctx, tx, cur)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if p.ParentID == nil {
			return nil
		}
		cur = *p.ParentID
	}
	return nil
}
