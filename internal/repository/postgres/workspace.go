package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// WorkspaceRepository handles workspace data access
type WorkspaceRepository struct {
	db *DB
}

// NewWorkspaceRepository creates a new workspace repository
func NewWorkspaceRepository(db *DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

const workspaceColumns = `
	id, title, description, language, code, owner_id,
	is_public, view_password_hash, edit_password_hash,
	version, last_edited_by, last_edited_at, created_at, updated_at
`

// Create creates a new workspace together with its initial collaborators
func (r *WorkspaceRepository) Create(ctx context.Context, workspace *domain.Workspace) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return insertWorkspace(ctx, tx, workspace)
	})
}

func insertWorkspace(ctx context.Context, tx pgx.Tx, workspace *domain.Workspace) error {
	query := `
		INSERT INTO workspaces (` + workspaceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := tx.Exec(ctx, query,
		workspace.ID,
		workspace.Title,
		workspace.Description,
		workspace.Language,
		workspace.Code,
		workspace.OwnerID,
		workspace.Share.IsPublic,
		nullString(workspace.Share.ViewPasswordHash),
		nullString(workspace.Share.EditPasswordHash),
		workspace.Version,
		nullUUID(workspace.LastEdited.By),
		nullTime(workspace.LastEdited.At),
		workspace.CreatedAt,
		workspace.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	for _, c := range workspace.Collaborators {
		if err := upsertCollaborator(ctx, tx, workspace.ID, c); err != nil {
			return err
		}
	}

	return nil
}

// GetByID retrieves a workspace and its collaborators. History is not loaded.
func (r *WorkspaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE id = $1`

	workspace, err := scanWorkspace(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}

	collaborators, err := r.collaborators(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	workspace.Collaborators = collaborators[id]

	return workspace, nil
}

// ListByUserID retrieves every workspace the user owns or collaborates on
func (r *WorkspaceRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Workspace, error) {
	query := `
		SELECT ` + workspaceColumns + `
		FROM workspaces w
		WHERE w.owner_id = $1
		   OR EXISTS (
				SELECT 1 FROM workspace_collaborators wc
				WHERE wc.workspace_id = w.id AND wc.user_id = $1
		   )
		ORDER BY w.updated_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []domain.Workspace
	var ids []uuid.UUID
	for rows.Next() {
		workspace, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		workspaces = append(workspaces, *workspace)
		ids = append(ids, workspace.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}

	if len(ids) == 0 {
		return workspaces, nil
	}

	collaborators, err := r.collaborators(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range workspaces {
		workspaces[i].Collaborators = collaborators[workspaces[i].ID]
	}

	return workspaces, nil
}

// UpdateMeta updates title, description, language and share settings.
// The document and version are never touched here.
func (r *WorkspaceRepository) UpdateMeta(ctx context.Context, id uuid.UUID, meta *domain.WorkspaceMeta) error {
	query := `
		UPDATE workspaces
		SET title = COALESCE($2, title),
		    description = COALESCE($3, description),
		    language = COALESCE($4, language),
		    is_public = COALESCE($5, is_public),
		    view_password_hash = CASE WHEN $6::text IS NULL THEN view_password_hash ELSE NULLIF($6, '') END,
		    edit_password_hash = CASE WHEN $7::text IS NULL THEN edit_password_hash ELSE NULLIF($7, '') END,
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, id,
		meta.Title,
		meta.Description,
		meta.Language,
		meta.IsPublic,
		meta.ViewPasswordHash,
		meta.EditPasswordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// Delete deletes a workspace. Collaborators and history go with it.
func (r *WorkspaceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM workspaces WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// UpsertCollaborator adds a collaborator or changes their role
func (r *WorkspaceRepository) UpsertCollaborator(ctx context.Context, workspaceID uuid.UUID, collaborator domain.Collaborator) error {
	return upsertCollaborator(ctx, r.db.Pool, workspaceID, collaborator)
}

// RemoveCollaborator removes a collaborator from a workspace
func (r *WorkspaceRepository) RemoveCollaborator(ctx context.Context, workspaceID, userID uuid.UUID) error {
	query := `DELETE FROM workspace_collaborators WHERE workspace_id = $1 AND user_id = $2`

	tag, err := r.db.Pool.Exec(ctx, query, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove collaborator: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// ApplyRevision writes an accepted edit and its history entry in one transaction
func (r *WorkspaceRepository) ApplyRevision(ctx context.Context, rev *domain.Revision, historyLimit int) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return applyRevision(ctx, tx, rev, historyLimit)
	})
}

func applyRevision(ctx context.Context, tx pgx.Tx, rev *domain.Revision, historyLimit int) error {
	update := `
		UPDATE workspaces
		SET code = $3, version = $4, last_edited_by = $5, last_edited_at = $6, updated_at = $6
		WHERE id = $1 AND version = $2
	`
	tag, err := tx.Exec(ctx, update, rev.WorkspaceID, rev.PreviousVersion, rev.Code, rev.Version, rev.EditedBy, rev.EditedAt)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM workspaces WHERE id = $1)`, rev.WorkspaceID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check workspace: %w", err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrVersionConflict
	}

	insert := `
		INSERT INTO workspace_history (workspace_id, version, code, edited_by, edited_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, insert, rev.WorkspaceID, rev.Prior.Version, rev.Prior.Code, rev.Prior.EditedBy, rev.Prior.EditedAt); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	if historyLimit > 0 {
		prune := `
			DELETE FROM workspace_history
			WHERE workspace_id = $1
			  AND version <= (
				SELECT version FROM workspace_history
				WHERE workspace_id = $1
				ORDER BY version DESC
				OFFSET $2 LIMIT 1
			  )
		`
		if _, err := tx.Exec(ctx, prune, rev.WorkspaceID, historyLimit); err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
	}

	return nil
}

// ListHistory returns history entries, newest first
func (r *WorkspaceRepository) ListHistory(ctx context.Context, workspaceID uuid.UUID, limit int) ([]domain.HistoryEntry, error) {
	query := `
		SELECT version, code, edited_by, edited_at
		FROM workspace_history
		WHERE workspace_id = $1
		ORDER BY version DESC
	`
	args := []any{workspaceID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		if err := rows.Scan(&entry.Version, &entry.Code, &entry.EditedBy, &entry.EditedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Ping verifies database connectivity
func (r *WorkspaceRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *WorkspaceRepository) collaborators(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]domain.Collaborator, error) {
	query := `
		SELECT workspace_id, user_id, role, added_at
		FROM workspace_collaborators
		WHERE workspace_id = ANY($1)
		ORDER BY added_at
	`

	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list collaborators: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]domain.Collaborator, len(ids))
	for rows.Next() {
		var workspaceID uuid.UUID
		var c domain.Collaborator
		if err := rows.Scan(&workspaceID, &c.UserID, &c.Role, &c.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan collaborator: %w", err)
		}
		out[workspaceID] = append(out[workspaceID], c)
	}

	return out, rows.Err()
}

// execer is satisfied by both the pool and a transaction
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertCollaborator(ctx context.Context, db execer, workspaceID uuid.UUID, c domain.Collaborator) error {
	query := `
		INSERT INTO workspace_collaborators (workspace_id, user_id, role, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`

	if _, err := db.Exec(ctx, query, workspaceID, c.UserID, c.Role, c.AddedAt); err != nil {
		return fmt.Errorf("failed to upsert collaborator: %w", err)
	}

	return nil
}

func scanWorkspace(row pgx.Row) (*domain.Workspace, error) {
	var (
		w          domain.Workspace
		viewHash   *string
		editHash   *string
		lastBy     *uuid.UUID
		lastEdited *time.Time
	)

	err := row.Scan(
		&w.ID,
		&w.Title,
		&w.Description,
		&w.Language,
		&w.Code,
		&w.OwnerID,
		&w.Share.IsPublic,
		&viewHash,
		&editHash,
		&w.Version,
		&lastBy,
		&lastEdited,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if viewHash != nil {
		w.Share.ViewPasswordHash = *viewHash
	}
	if editHash != nil {
		w.Share.EditPasswordHash = *editHash
	}
	if lastBy != nil {
		w.LastEdited.By = *lastBy
	}
	if lastEdited != nil {
		w.LastEdited.At = *lastEdited
	}

	return &w, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
