// Package v1 provides the REST handlers that expose live collaboration state.
package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/notes-collab-server/internal/api/common"
	"github.com/stacklok/notes-collab-server/internal/auth"
	"github.com/stacklok/notes-collab-server/internal/collab"
)

//go:generate mockgen -destination=mocks/mock_presence.go -package=mocks -source=routes.go PresenceService

// PresenceService reports who is present in a note.
type PresenceService interface {
	Presence(ctx context.Context, userID, noteID string) ([]collab.Participant, error)
}

// ParticipantsResponse lists the users currently present in a note.
type ParticipantsResponse struct {
	NoteID       string               `json:"noteId"`
	Participants []collab.Participant `json:"participants"`
}

// Routes holds the v1 handlers.
type Routes struct {
	presence PresenceService
}

// Router creates the v1 router. Requests must carry an authenticated identity.
func Router(presence PresenceService) http.Handler {
	routes := &Routes{presence: presence}

	r := chi.NewRouter()
	r.Get("/notes/{noteID}/participants", routes.getParticipants)
	return r
}

// getParticipants handles GET /api/v1/notes/{noteID}/participants
//
// @Summary		List note participants
// @Description	List the users currently present in a note's collaboration room
// @Tags			collaboration
// @Produce		json
// @Param			noteID	path		string	true	"Note ID"
// @Success		200		{object}	ParticipantsResponse
// @Failure		400		{object}	common.ErrorResponse
// @Failure		401		{object}	common.ErrorResponse
// @Failure		403		{object}	common.ErrorResponse
// @Failure		503		{object}	common.ErrorResponse
// @Security		BearerAuth
// @Router			/api/v1/notes/{noteID}/participants [get]
func (rr *Routes) getParticipants(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		common.WriteErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return
	}

	noteID, err := common.GetNoteIDParam(r, "noteID")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	participants, err := rr.presence.Presence(r.Context(), id.Subject, noteID)
	switch {
	case err == nil:
	case errors.Is(err, collab.ErrAuthorization):
		common.WriteErrorResponse(w, collab.ClientMessage(err), http.StatusForbidden)
		return
	case errors.Is(err, collab.ErrUpstreamUnavailable):
		common.WriteErrorResponse(w, collab.ClientMessage(err), http.StatusServiceUnavailable)
		return
	default:
		slog.ErrorContext(r.Context(), "Failed to list participants", "note_id", noteID, "error", err)
		common.WriteErrorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	if participants == nil {
		participants = []collab.Participant{}
	}
	common.WriteJSONResponse(w, ParticipantsResponse{NoteID: noteID, Participants: participants}, http.StatusOK)
}
