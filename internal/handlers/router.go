package handlers

import (
	"log/slog"

	"github.com/gorilla/mux"
	"github.com/pliu/cipherchat/internal/auth"
	"github.com/pliu/cipherchat/internal/conversation"
	"github.com/pliu/cipherchat/internal/directory"
	"github.com/pliu/cipherchat/internal/metrics"
	"github.com/pliu/cipherchat/internal/middleware"
)

type RouterConfig struct {
	Directory     *directory.Directory
	Conversations *conversation.Service
	Signer        *auth.Signer
	Metrics       *metrics.Metrics
	Fingerprint   string
	Logger        *slog.Logger
}

func NewRouter(cfg RouterConfig) *mux.Router {
	authHandler := &AuthHandler{Directory: cfg.Directory, Signer: cfg.Signer, Logger: cfg.Logger}
	userHandler := &UserHandler{Directory: cfg.Directory, Logger: cfg.Logger}
	messageHandler := &MessageHandler{Conversations: cfg.Conversations, Logger: cfg.Logger}

	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(cfg.Logger))

	r.HandleFunc("/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/logout", authHandler.Logout).Methods("POST")
	r.Handle("/fingerprint", &FingerprintHandler{Fingerprint: cfg.Fingerprint}).Methods("GET")
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler()).Methods("GET")
	}

	api := r.NewRoute().Subrouter()
	api.Use(middleware.AuthMiddleware(cfg.Signer))
	api.HandleFunc("/me", userHandler.Me).Methods("GET")
	api.HandleFunc("/users", userHandler.ListOthers).Methods("GET")
	api.HandleFunc("/users/search", userHandler.SearchUsers).Methods("GET")
	api.HandleFunc("/users/{id}", userHandler.GetUser).Methods("GET")
	api.HandleFunc("/profile", userHandler.UpdateProfile).Methods("PUT")
	api.HandleFunc("/password", userHandler.ChangePassword).Methods("PUT")
	api.HandleFunc("/keys", userHandler.EnsureKeys).Methods("POST")
	api.HandleFunc("/messages", messageHandler.SendMessage).Methods("POST")
	api.HandleFunc("/messages/{peer}", messageHandler.GetThread).Methods("GET")
	api.HandleFunc("/messages/{peer}/read", messageHandler.MarkRead).Methods("POST")
	api.HandleFunc("/messages/{peer}/unread", messageHandler.Unread).Methods("GET")
	api.HandleFunc("/contacts", messageHandler.GetContacts).Methods("GET")

	return r
}
