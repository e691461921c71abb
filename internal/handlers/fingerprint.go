package handlers

import "net/http"

type FingerprintResponse struct {
	Fingerprint string `json:"fingerprint"`
}

// FingerprintHandler serves the server certificate fingerprint that clients
// check before sending credentials or messages.
type FingerprintHandler struct {
	Fingerprint string
}

func (h *FingerprintHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Fingerprint == "" {
		http.Error(w, "No certificate configured", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, FingerprintResponse{Fingerprint: h.Fingerprint})
}
