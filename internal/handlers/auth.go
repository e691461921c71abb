package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pliu/cipherchat/internal/apperr"
	"github.com/pliu/cipherchat/internal/auth"
	"github.com/pliu/cipherchat/internal/directory"
)

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type AuthHandler struct {
	Directory *directory.Directory
	Signer    *auth.Signer
	Logger    *slog.Logger
}

// Signup registers an identity. Every failure other than malformed input is
// reported with the same message; the directory logs the detail.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, err)
		return
	}

	user, err := h.Directory.Register(r.Context(), req.Name, req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrInvalidArgument):
		writeError(w, h.Logger, err)
		return
	default:
		http.Error(w, "Registration failed", apperr.HTTPStatus(err))
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := decode(r, &creds); err != nil {
		writeError(w, h.Logger, err)
		return
	}

	user, err := h.Directory.SignIn(r.Context(), creds.Login, creds.Password)
	if errors.Is(err, apperr.ErrInvalidCredentials) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	http.SetCookie(w, h.Signer.SessionCookie(user.ID))
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: auth.CookieName, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}
