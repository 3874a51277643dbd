package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/google/uuid"
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
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO workspaces (` + workspaceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		workspace.ID.String(),
		workspace.Title,
		workspace.Description,
		workspace.Language,
		workspace.Code,
		workspace.OwnerID.String(),
		workspace.Share.IsPublic,
		nullString(workspace.Share.ViewPasswordHash),
		nullString(workspace.Share.EditPasswordHash),
		workspace.Version,
		nullUUID(workspace.LastEdited.By),
		nullNanos(workspace.LastEdited.At),
		toNanos(workspace.CreatedAt),
		toNanos(workspace.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	for _, c := range workspace.Collaborators {
		if err := r.upsertCollaborator(ctx, tx, workspace.ID, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workspace: %w", err)
	}

	return nil
}

// GetByID retrieves a workspace and its collaborators. History is not loaded.
func (r *WorkspaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE id = ?`

	workspace, err := scanWorkspace(r.db.SQL.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
		WHERE w.owner_id = ?
		   OR EXISTS (
				SELECT 1 FROM workspace_collaborators wc
				WHERE wc.workspace_id = w.id AND wc.user_id = ?
		   )
		ORDER BY w.updated_at DESC
	`

	workspaces, err := r.listWorkspaces(ctx, query, userID.String(), userID.String())
	if err != nil {
		return nil, err
	}
	if len(workspaces) == 0 {
		return workspaces, nil
	}

	ids := make([]uuid.UUID, len(workspaces))
	for i := range workspaces {
		ids[i] = workspaces[i].ID
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

// listWorkspaces drains the rows before returning so the connection is free for
// follow-up queries on single-connection databases.
func (r *WorkspaceRepository) listWorkspaces(ctx context.Context, query string, args ...any) ([]domain.Workspace, error) {
	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []domain.Workspace
	for rows.Next() {
		workspace, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		workspaces = append(workspaces, *workspace)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}

	return workspaces, nil
}

// UpdateMeta updates title, description, language and share settings.
// The document and version are never touched here.
func (r *WorkspaceRepository) UpdateMeta(ctx context.Context, id uuid.UUID, meta *domain.WorkspaceMeta) error {
	query := `
		UPDATE workspaces
		SET title = COALESCE(?, title),
		    description = COALESCE(?, description),
		    language = COALESCE(?, language),
		    is_public = COALESCE(?, is_public),
		    view_password_hash = CASE WHEN ? IS NULL THEN view_password_hash ELSE NULLIF(?, '') END,
		    edit_password_hash = CASE WHEN ? IS NULL THEN edit_password_hash ELSE NULLIF(?, '') END,
		    updated_at = ?
		WHERE id = ?
	`

	res, err := r.db.SQL.ExecContext(ctx, query,
		meta.Title,
		meta.Description,
		meta.Language,
		meta.IsPublic,
		meta.ViewPasswordHash, meta.ViewPasswordHash,
		meta.EditPasswordHash, meta.EditPasswordHash,
		time.Now().UnixNano(),
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}

	return requireAffected(res, "update workspace")
}

// Delete deletes a workspace with its collaborators and history
func (r *WorkspaceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM workspace_history WHERE workspace_id = ?`,
		`DELETE FROM workspace_collaborators WHERE workspace_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, query, id.String()); err != nil {
			return fmt.Errorf("failed to delete workspace: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	if err := requireAffected(res, "delete workspace"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	return nil
}

// UpsertCollaborator adds a collaborator or changes their role
func (r *WorkspaceRepository) UpsertCollaborator(ctx context.Context, workspaceID uuid.UUID, collaborator domain.Collaborator) error {
	return r.upsertCollaborator(ctx, r.db.SQL, workspaceID, collaborator)
}

// RemoveCollaborator removes a collaborator from a workspace
func (r *WorkspaceRepository) RemoveCollaborator(ctx context.Context, workspaceID, userID uuid.UUID) error {
	query := `DELETE FROM workspace_collaborators WHERE workspace_id = ? AND user_id = ?`

	res, err := r.db.SQL.ExecContext(ctx, query, workspaceID.String(), userID.String())
	if err != nil {
		return fmt.Errorf("failed to remove collaborator: %w", err)
	}

	return requireAffected(res, "remove collaborator")
}

// ApplyRevision writes an accepted edit and its history entry in one transaction
func (r *WorkspaceRepository) ApplyRevision(ctx context.Context, rev *domain.Revision, historyLimit int) error {
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	wsID := rev.WorkspaceID.String()
	editedAt := toNanos(rev.EditedAt)

	update := `
		UPDATE workspaces
		SET code = ?, version = ?, last_edited_by = ?, last_edited_at = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := tx.ExecContext(ctx, update, rev.Code, rev.Version, rev.EditedBy.String(), editedAt, editedAt, wsID, rev.PreviousVersion)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if affected == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM workspaces WHERE id = ?`, wsID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check workspace: %w", err)
		}
		return domain.ErrVersionConflict
	}

	insert := `
		INSERT INTO workspace_history (workspace_id, version, code, edited_by, edited_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert, wsID, rev.Prior.Version, rev.Prior.Code, rev.Prior.EditedBy.String(), toNanos(rev.Prior.EditedAt)); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	if historyLimit > 0 {
		// MySQL cannot select from the table it deletes from, so find the cutoff first.
		var cutoff int64
		err := tx.QueryRowContext(ctx, `
			SELECT version FROM workspace_history
			WHERE workspace_id = ?
			ORDER BY version DESC
			LIMIT 1 OFFSET ?
		`, wsID, historyLimit).Scan(&cutoff)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to prune history: %w", err)
		default:
			if _, err := tx.ExecContext(ctx, `DELETE FROM workspace_history WHERE workspace_id = ? AND version <= ?`, wsID, cutoff); err != nil {
				return fmt.Errorf("failed to prune history: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit revision: %w", err)
	}

	return nil
}

// ListHistory returns history entries, newest first
func (r *WorkspaceRepository) ListHistory(ctx context.Context, workspaceID uuid.UUID, limit int) ([]domain.HistoryEntry, error) {
	query := `
		SELECT version, code, edited_by, edited_at
		FROM workspace_history
		WHERE workspace_id = ?
		ORDER BY version DESC
	`
	args := []any{workspaceID.String()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			entry    domain.HistoryEntry
			editedAt int64
		)
		if err := rows.Scan(&entry.Version, &entry.Code, &entry.EditedBy, &editedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entry.EditedAt = fromNanos(editedAt)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Ping verifies database connectivity
func (r *WorkspaceRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *WorkspaceRepository) collaborators(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]domain.Collaborator, error) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}

	query := `
		SELECT workspace_id, user_id, role, added_at
		FROM workspace_collaborators
		WHERE workspace_id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY added_at
	`

	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list collaborators: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]domain.Collaborator, len(ids))
	for rows.Next() {
		var (
			workspaceID uuid.UUID
			c           domain.Collaborator
			addedAt     int64
		)
		if err := rows.Scan(&workspaceID, &c.UserID, &c.Role, &addedAt); err != nil {
			return nil, fmt.Errorf("failed to scan collaborator: %w", err)
		}
		c.AddedAt = fromNanos(addedAt)
		out[workspaceID] = append(out[workspaceID], c)
	}

	return out, rows.Err()
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *WorkspaceRepository) upsertCollaborator(ctx context.Context, db execer, workspaceID uuid.UUID, c domain.Collaborator) error {
	if _, err := db.ExecContext(ctx, r.db.upsertCollaboratorQuery(),
		workspaceID.String(), c.UserID.String(), string(c.Role), toNanos(c.AddedAt)); err != nil {
		return fmt.Errorf("failed to upsert collaborator: %w", err)
	}

	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row rowScanner) (*domain.Workspace, error) {
	var (
		w          domain.Workspace
		viewHash   sql.NullString
		editHash   sql.NullString
		lastBy     sql.NullString
		lastEdited sql.NullInt64
		createdAt  int64
		updatedAt  int64
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
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.Share.ViewPasswordHash = viewHash.String
	w.Share.EditPasswordHash = editHash.String
	if lastBy.Valid {
		by, err := uuid.Parse(lastBy.String)
		if err != nil {
			return nil, fmt.Errorf("invalid last_edited_by: %w", err)
		}
		w.LastEdited.By = by
	}
	if lastEdited.Valid {
		w.LastEdited.At = fromNanos(lastEdited.Int64)
	}
	w.CreatedAt = fromNanos(createdAt)
	w.UpdatedAt = fromNanos(updatedAt)

	return &w, nil
}

func requireAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(id uuid.UUID) sql.NullString {
	if id == uuid.Nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func nullNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
