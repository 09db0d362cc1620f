package api

import (
	"net/http"
)

type ServerInfoHandler struct {
	serverName     string
	activationDays int
}

func NewServerInfoHandler(name string, activationDays int) *ServerInfoHandler {
	return &ServerInfoHandler{
		serverName:     name,
		activationDays: activationDays,
	}
}

type ServerInfoResponse struct {
	Name           string `json:"name"`
	ActivationDays int    `json:"activationDays"`
}

// GET /api/v1/server/info
func (h *ServerInfoHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ServerInfoResponse{
		Name:           h.serverName,
		ActivationDays: h.activationDays,
	})
}
