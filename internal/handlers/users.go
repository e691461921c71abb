package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pliu/cipherchat/internal/directory"
	"github.com/pliu/cipherchat/internal/models"
)

// PublicIdentity is what one identity may see of another.
type PublicIdentity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	ExternalID  string `json:"external_id"`
	Email       string `json:"email"`
	PublicKey   string `json:"public_key"`
	Department  string `json:"department,omitempty"`
	Year        string `json:"year,omitempty"`
}

func publicIdentity(u *models.Identity) PublicIdentity {
	return PublicIdentity{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		ExternalID:  u.ExternalID,
		Email:       maskEmail(u.Email),
		PublicKey:   u.PublicKey,
		Department:  u.Department,
		Year:        u.Year,
	}
}

// maskEmail hides the tail of the local part, showing at most three
// characters of it.
func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return email
	}
	visible := 1
	if len(local) > 2 {
		visible = min(len(local)/2, 3)
	}
	return local[:visible] + strings.Repeat("*", len(local)-visible) + "@" + domain
}

type ChangePasswordRequest struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

type UserHandler struct {
	Directory *directory.Directory
	Logger    *slog.Logger
}

// searchResultLimit caps search results after the caller is removed.
const searchResultLimit = 10

func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	users, err := h.Directory.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	out := make([]PublicIdentity, 0, min(len(users), searchResultLimit))
	for i := range users {
		if len(out) == searchResultLimit {
			break
		}
		if users[i].ID == userID {
			continue
		}
		out = append(out, publicIdentity(&users[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListOthers returns every identity except the caller.
func (h *UserHandler) ListOthers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	users, err := h.Directory.Others(r.Context(), userID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	out := make([]PublicIdentity, 0, len(users))
	for i := range users {
		out = append(out, publicIdentity(&users[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	id := mux.Vars(r)["id"]
	u, err := h.Directory.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if id == userID {
		writeJSON(w, http.StatusOK, u)
		return
	}
	writeJSON(w, http.StatusOK, publicIdentity(u))
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	u, err := h.Directory.Get(r.Context(), userID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var update models.ProfileUpdate
	if err := decode(r, &update); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	u, err := h.Directory.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if err := h.Directory.ChangePassword(r.Context(), userID, req.Current, req.New); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnsureKeys generates the caller's key pair if registration left it
// without one.
func (h *UserHandler) EnsureKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	u, err := h.Directory.EnsureKeys(r.Context(), userID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
