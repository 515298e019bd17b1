// internal/handler/conversation_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/model"
	"github.com/unclebandit/leaddrip-backend/internal/repository"
)

// ConversationHandler holds the dependencies for conversation-related HTTP handlers
type ConversationHandler struct {
	ConversationRepo repository.ConversationRepositoryInterface
	EnrollmentRepo   repository.EnrollmentRepositoryInterface
	Log              logrus.FieldLogger
}

// NewConversationHandler creates a new ConversationHandler with the given repositories
func NewConversationHandler(conversations repository.ConversationRepositoryInterface, enrollments repository.EnrollmentRepositoryInterface, log logrus.FieldLogger) *ConversationHandler {
	return &ConversationHandler{
		ConversationRepo: conversations,
		EnrollmentRepo:   enrollments,
		Log:              log,
	}
}

// ListEnrollmentsHandler returns the conversation and every enrollment it has
// had, oldest first.
func (h *ConversationHandler) ListEnrollmentsHandler(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	conv, err := h.ConversationRepo.GetByID(r.Context(), id)
	if err != nil {
		if appErrors.IsNotFound(err) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.Log.WithError(err).WithField("conversation_id", id).Error("❌ Error fetching conversation")
		http.Error(w, "failed to fetch conversation", http.StatusInternalServerError)
		return
	}

	enrollments, err := h.EnrollmentRepo.ListByConversation(r.Context(), id)
	if err != nil {
		h.Log.WithError(err).WithField("conversation_id", id).Error("❌ Error fetching enrollments")
		http.Error(w, "failed to fetch enrollments", http.StatusInternalServerError)
		return
	}
	if enrollments == nil {
		enrollments = []*model.Enrollment{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"conversation": conv,
		"enrollments":  enrollments,
	})
}
