package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type workspaceDoc struct {
	ID               string            `bson:"_id"`
	Title            string            `bson:"title"`
	Description      string            `bson:"description"`
	Language         string            `bson:"language"`
	Code             string            `bson:"code"`
	OwnerID          string            `bson:"owner_id"`
	IsPublic         bool              `bson:"is_public"`
	ViewPasswordHash string            `bson:"view_password_hash,omitempty"`
	EditPasswordHash string            `bson:"edit_password_hash,omitempty"`
	Version          int64             `bson:"version"`
	LastEditedBy     string            `bson:"last_edited_by,omitempty"`
	LastEditedAt     time.Time         `bson:"last_edited_at,omitempty"`
	Collaborators    []collaboratorDoc `bson:"collaborators"`
	History          []historyDoc      `bson:"history"`
	CreatedAt        time.Time         `bson:"created_at"`
	UpdatedAt        time.Time         `bson:"updated_at"`
}

type collaboratorDoc struct {
	UserID  string    `bson:"user_id"`
	Role    string    `bson:"role"`
	AddedAt time.Time `bson:"added_at"`
}

type historyDoc struct {
	Version  int64     `bson:"version"`
	Code     string    `bson:"code"`
	EditedBy string    `bson:"edited_by"`
	EditedAt time.Time `bson:"edited_at"`
}

// WorkspaceRepository handles workspace data access
type WorkspaceRepository struct {
	db         *DB
	collection *mongo.Collection
}

// NewWorkspaceRepository creates a new workspace repository
func NewWorkspaceRepository(db *DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db, collection: db.Database.Collection(workspacesCollection)}
}

var withoutHistory = bson.D{{Key: "history", Value: 0}}

// Create creates a new workspace
func (r *WorkspaceRepository) Create(ctx context.Context, workspace *domain.Workspace) error {
	if _, err := r.collection.InsertOne(ctx, toWorkspaceDoc(workspace)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

// GetByID retrieves a workspace and its collaborators. History is not loaded.
func (r *WorkspaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workspace, error) {
	var doc workspaceDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": id.String()}, options.FindOne().SetProjection(withoutHistory)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}

	return fromWorkspaceDoc(&doc)
}

// ListByUserID retrieves every workspace the user owns or collaborates on
func (r *WorkspaceRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Workspace, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"owner_id": userID.String()},
		bson.M{"collaborators.user_id": userID.String()},
	}}
	opts := options.Find().
		SetProjection(withoutHistory).
		SetSort(bson.D{{Key: "updated_at", Value: -1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []workspaceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode workspaces: %w", err)
	}

	workspaces := make([]domain.Workspace, 0, len(docs))
	for i := range docs {
		w, err := fromWorkspaceDoc(&docs[i])
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, *w)
	}

	return workspaces, nil
}

// UpdateMeta updates title, description, language and share settings
func (r *WorkspaceRepository) UpdateMeta(ctx context.Context, id uuid.UUID, meta *domain.WorkspaceMeta) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id.String()}, metaUpdate(meta, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete deletes a workspace. Collaborators and history are embedded and go with it.
func (r *WorkspaceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertCollaborator adds a collaborator or changes their role
func (r *WorkspaceRepository) UpsertCollaborator(ctx context.Context, workspaceID uuid.UUID, c domain.Collaborator) error {
	wsID := workspaceID.String()
	userID := c.UserID.String()

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": wsID, "collaborators.user_id": userID},
		bson.M{"$set": bson.M{"collaborators.$.role": string(c.Role)}},
	)
	if err != nil {
		return fmt.Errorf("failed to upsert collaborator: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	res, err = r.collection.UpdateOne(ctx,
		bson.M{"_id": wsID, "collaborators.user_id": bson.M{"$ne": userID}},
		bson.M{"$push": bson.M{"collaborators": toCollaboratorDoc(c)}},
	)
	if err != nil {
		return fmt.Errorf("failed to upsert collaborator: %w", err)
	}
	if res.MatchedCount == 0 {
		exists, err := r.exists(ctx, wsID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
	}

	return nil
}

// RemoveCollaborator removes a collaborator from a workspace
func (r *WorkspaceRepository) RemoveCollaborator(ctx context.Context, workspaceID, userID uuid.UUID) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": workspaceID.String(), "collaborators.user_id": userID.String()},
		bson.M{"$pull": bson.M{"collaborators": bson.M{"user_id": userID.String()}}},
	)
	if err != nil {
		return fmt.Errorf("failed to remove collaborator: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ApplyRevision replaces the document and pushes the prior state onto history in
// a single update guarded by the prior version.
func (r *WorkspaceRepository) ApplyRevision(ctx context.Context, rev *domain.Revision, historyLimit int) error {
	wsID := rev.WorkspaceID.String()

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": wsID, "version": rev.PreviousVersion},
		revisionUpdate(rev, historyLimit),
	)
	if err != nil {
		return fmt.Errorf("failed to apply revision: %w", err)
	}
	if res.MatchedCount == 0 {
		exists, err := r.exists(ctx, wsID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

// ListHistory returns history entries, newest first
func (r *WorkspaceRepository) ListHistory(ctx context.Context, workspaceID uuid.UUID, limit int) ([]domain.HistoryEntry, error) {
	projection := bson.M{"history": 1}
	if limit > 0 {
		projection = bson.M{"history": bson.M{"$slice": -limit}}
	}

	var doc workspaceDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": workspaceID.String()}, options.FindOne().SetProjection(projection)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	entries := make([]domain.HistoryEntry, 0, len(doc.History))
	for i := len(doc.History) - 1; i >= 0; i-- {
		entry, err := fromHistoryDoc(doc.History[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Ping verifies database connectivity
func (r *WorkspaceRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *WorkspaceRepository) exists(ctx context.Context, id string) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check workspace: %w", err)
	}
	return n > 0, nil
}

func metaUpdate(meta *domain.WorkspaceMeta, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	unset := bson.M{}

	if meta.Title != nil {
		set["title"] = *meta.Title
	}
	if meta.Description != nil {
		set["description"] = *meta.Description
	}
	if meta.Language != nil {
		set["language"] = *meta.Language
	}
	if meta.IsPublic != nil {
		set["is_public"] = *meta.IsPublic
	}
	for field, hash := range map[string]*string{
		"view_password_hash": meta.ViewPasswordHash,
		"edit_password_hash": meta.EditPasswordHash,
	} {
		switch {
		case hash == nil:
		case *hash == "":
			unset[field] = ""
		default:
			set[field] = *hash
		}
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

func revisionUpdate(rev *domain.Revision, historyLimit int) bson.M {
	push := bson.M{"$each": bson.A{toHistoryDoc(rev.Prior)}}
	if historyLimit > 0 {
		push["$slice"] = -historyLimit
	}

	return bson.M{
		"$set": bson.M{
			"code":           rev.Code,
			"version":        rev.Version,
			"last_edited_by": rev.EditedBy.String(),
			"last_edited_at": rev.EditedAt,
			"updated_at":     rev.EditedAt,
		},
		"$push": bson.M{"history": push},
	}
}

func toWorkspaceDoc(w *domain.Workspace) *workspaceDoc {
	doc := &workspaceDoc{
		ID:               w.ID.String(),
		Title:            w.Title,
		Description:      w.Description,
		Language:         w.Language,
		Code:             w.Code,
		OwnerID:          w.OwnerID.String(),
		IsPublic:         w.Share.IsPublic,
		ViewPasswordHash: w.Share.ViewPasswordHash,
		EditPasswordHash: w.Share.EditPasswordHash,
		Version:          w.Version,
		LastEditedAt:     w.LastEdited.At,
		Collaborators:    make([]collaboratorDoc, 0, len(w.Collaborators)),
		History:          make([]historyDoc, 0, len(w.History)),
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	}
	if w.LastEdited.By != uuid.Nil {
		doc.LastEditedBy = w.LastEdited.By.String()
	}
	for _, c := range w.Collaborators {
		doc.Collaborators = append(doc.Collaborators, toCollaboratorDoc(c))
	}
	for _, h := range w.History {
		doc.History = append(doc.History, toHistoryDoc(h))
	}
	return doc
}

func fromWorkspaceDoc(doc *workspaceDoc) (*domain.Workspace, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace id %q: %w", doc.ID, err)
	}
	owner, err := uuid.Parse(doc.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("invalid owner id %q: %w", doc.OwnerID, err)
	}

	w := &domain.Workspace{
		ID:          id,
		Title:       doc.Title,
		Description: doc.Description,
		Language:    doc.Language,
		Code:        doc.Code,
		OwnerID:     owner,
		Share: domain.ShareSettings{
			IsPublic:         doc.IsPublic,
			ViewPasswordHash: doc.ViewPasswordHash,
			EditPasswordHash: doc.EditPasswordHash,
		},
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if doc.LastEditedBy != "" {
		by, err := uuid.Parse(doc.LastEditedBy)
		if err != nil {
			return nil, fmt.Errorf("invalid last editor %q: %w", doc.LastEditedBy, err)
		}
		w.LastEdited = domain.LastEdited{By: by, At: doc.LastEditedAt}
	}
	for _, c := range doc.Collaborators {
		userID, err := uuid.Parse(c.UserID)
		if err != nil {
			return nil, fmt.Errorf("invalid collaborator id %q: %w", c.UserID, err)
		}
		w.Collaborators = append(w.Collaborators, domain.Collaborator{
			UserID:  userID,
			Role:    domain.CollaboratorRole(c.Role),
			AddedAt: c.AddedAt,
		})
	}
	return w, nil
}

func toCollaboratorDoc(c domain.Collaborator) collaboratorDoc {
	return collaboratorDoc{UserID: c.UserID.String(), Role: string(c.Role), AddedAt: c.AddedAt}
}

func toHistoryDoc(h domain.HistoryEntry) historyDoc {
	return historyDoc{Version: h.Version, Code: h.Code, EditedBy: h.EditedBy.String(), EditedAt: h.EditedAt}
}

func fromHistoryDoc(h historyDoc) (domain.HistoryEntry, error) {
	by, err := uuid.Parse(h.EditedBy)
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("invalid history editor %q: %w", h.EditedBy, err)
	}
	return domain.HistoryEntry{Version: h.Version, Code: h.Code, EditedBy: by, EditedAt: h.EditedAt}, nil
}
