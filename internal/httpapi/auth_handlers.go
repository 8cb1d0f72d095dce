package httpapi

import (
	"net/http"
	"strings"

	"xplora.org/internal/audit"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	username := strings.TrimSpace(req.Username)
	user, token, err := a.authn.Login(r.Context(), username, req.Password)
	if err != nil {
		a.recordAudit(audit.Event{
			ActorUsername: username,
			Type:          audit.EventLoginFailed,
			Category:      audit.CategoryAuth,
			Success:       false,
		})
		handleDomainError(w, err)
		return
	}

	a.recordAudit(audit.Event{
		ActorID:       user.ID,
		ActorUsername: user.Username,
		Type:          audit.EventLogin,
		Category:      audit.CategoryAuth,
		Success:       true,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
		FullName: user.FullName,
		Role:     string(user.Role),
	})
}

func (a *API) recordAudit(e audit.Event) {
	if a.recorder != nil {
		a.recorder.Record(e)
	}
}
