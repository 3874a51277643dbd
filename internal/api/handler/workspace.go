package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Rrens/codeshare/internal/api/middleware"
	"github.com/Rrens/codeshare/internal/api/response"
	"github.com/Rrens/codeshare/internal/assist"
	"github.com/Rrens/codeshare/internal/domain"
	"github.com/Rrens/codeshare/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const analyzeTimeout = 60 * time.Second

// WorkspaceHandler handles workspace endpoints
type WorkspaceHandler struct {
	workspaceService *service.WorkspaceService
	analyzer         assist.Analyzer
}

// NewWorkspaceHandler creates a new workspace handler. analyzer may be nil.
func NewWorkspaceHandler(workspaceService *service.WorkspaceService, analyzer assist.Analyzer) *WorkspaceHandler {
	return &WorkspaceHandler{workspaceService: workspaceService, analyzer: analyzer}
}

// Create handles workspace creation
func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var input domain.WorkspaceCreate
	if !decodeAndValidate(w, r, &input) {
		return
	}

	workspace, err := h.workspaceService.Create(r.Context(), userID, input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, workspace)
}

// List handles listing user's workspaces
func (h *WorkspaceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	workspaces, err := h.workspaceService.ListByUser(r.Context(), userID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, workspaces)
}

// Get handles getting a workspace by ID
func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := ids(w, r)
	if !ok {
		return
	}

	view, err := h.workspaceService.Get(r.Context(), userID, workspaceID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, view)
}

// Update handles metadata and share settings changes
func (h *WorkspaceHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := ids(w, r)
	if !ok {
		return
	}

	var input domain.WorkspaceUpdate
	if !decodeAndValidate(w, r, &input) {
		return
	}

	workspace, err := h.workspaceService.Update(r.Context(), userID, workspaceID, input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, workspace)
}

// Delete handles workspace deletion
func (h *WorkspaceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := ids(w, r)
	if !ok {
		return
	}

	if err := h.workspaceService.Delete(r.Context(), userID, workspaceID); err != nil {
		response.FromError(w, err)
		return
	}

	response.NoContent(w)
}

// AddCollaborator grants a user a role in the workspace
func (h *WorkspaceHandler) AddCollaborator(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := ids(w, r)
	if !ok {
		return
	}

	var input domain.CollaboratorAdd
	if !decodeAndValidate(w, r, &input) {
		return
	}

	collaborator, err := h.workspaceService.AddCollaborator(r.Context(), userID, workspaceID, input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, collaborator)
}

// RemoveCollaborator revokes a collaborator's role
func (h *WorkspaceHandler) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := ids(w, r)
	if !ok {
		return
	}

	target, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user ID")
		return
	}

	if err := h.workspaceService.RemoveCollaborator(r.Context(), userID, workspaceID, target); err != nil {
		response.FromError(w, err)
		return
	}

	response.NoContent(w)
}

// VerifyAccess checks a share password and returns the unlocked permissions
func (h *WorkspaceHandler) VerifyAccess(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := ids(w, r)
	if !ok {
		return
	}

	var input struct {
		Password string `json:"password" validate:"required,max=72"`
		Level    string `json:"level" validate:"required,oneof=view edit"`
	}
	if !decodeAndValidate(w, r, &input) {
		return
	}

	perms, err := h.workspaceService.VerifyAccess(r.Context(), userID, workspaceID, input.Password, input.Level)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, perms)
}

// History lists previous document versions
func (h *WorkspaceHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := ids(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.workspaceService.History(r.Context(), userID, workspaceID, limit)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, entries)
}

// Participants lists who is connected to the workspace room right now
func (h *WorkspaceHandler) Participants(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := ids(w, r)
	if !ok {
		return
	}

	members, err := h.workspaceService.Participants(r.Context(), userID, workspaceID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, members)
}

// Analyze asks the code assistant about the current document
func (h *WorkspaceHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := ids(w, r)
	if !ok {
		return
	}

	if h.analyzer == nil || !h.analyzer.IsConfigured() {
		response.ServiceUnavailable(w, "code assistant is not configured")
		return
	}

	var input struct {
		Question string `json:"question" validate:"max=2000"`
	}
	if !decodeAndValidate(w, r, &input) {
		return
	}

	view, err := h.workspaceService.Get(r.Context(), userID, workspaceID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), analyzeTimeout)
	defer cancel()

	result, err := h.analyzer.Analyze(ctx, assist.Request{
		Language: view.Language,
		Code:     view.Code,
		Question: input.Question,
		Version:  view.Version,
	})
	if err != nil {
		if errors.Is(err, assist.ErrNotConfigured) {
			response.ServiceUnavailable(w, "code assistant is not configured")
			return
		}
		log.Error().Err(err).
			Str("workspace_id", workspaceID.String()).
			Str("provider", h.analyzer.Name()).
			Msg("Code analysis failed")
		response.Error(w, http.StatusBadGateway, "code assistant failed")
		return
	}

	response.OK(w, result)
}

func ids(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return uuid.Nil, uuid.Nil, false
	}

	workspaceID, ok := middleware.GetWorkspaceID(r.Context())
	if !ok {
		response.BadRequest(w, "missing workspace ID")
		return uuid.Nil, uuid.Nil, false
	}

	return userID, workspaceID, true
}
