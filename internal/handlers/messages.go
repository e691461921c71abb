package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pliu/cipherchat/internal/conversation"
	"github.com/pliu/cipherchat/internal/models"
)

type SendMessageRequest struct {
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
}

type UnreadResponse struct {
	Unread int `json:"unread"`
}

type MessageHandler struct {
	Conversations *conversation.Service
	Logger        *slog.Logger
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, err)
		return
	}

	msg, err := h.Conversations.Send(r.Context(), userID, req.RecipientID, req.Text)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// GetThread renders the conversation with {peer} for the caller and marks
// the peer's messages it rendered as read.
func (h *MessageHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	peerID := mux.Vars(r)["peer"]

	thread, err := h.Conversations.LoadThread(r.Context(), userID, peerID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if err := h.Conversations.MarkShown(r.Context(), userID, thread); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if thread == nil {
		thread = []models.DisplayMessage{}
	}
	writeJSON(w, http.StatusOK, thread)
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.Conversations.MarkRead(r.Context(), mux.Vars(r)["peer"], userID); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) Unread(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	n, err := h.Conversations.UnreadCount(r.Context(), mux.Vars(r)["peer"], userID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, UnreadResponse{Unread: n})
}

func (h *MessageHandler) GetContacts(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	summaries, err := h.Conversations.ContactSummaries(r.Context(), userID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	for i := range summaries {
		summaries[i].Identity.PrivateKey = ""
		summaries[i].Identity.Email = maskEmail(summaries[i].Identity.Email)
	}
	writeJSON(w, http.StatusOK, summaries)
}
