package httpapi

import (
	"net/http"
	"strings"
	"time"
)

type submitRequest struct {
	AccountID       string `json:"account_id"`
	FieldName       string `json:"field_name"`
	Reason          string `json:"reason"`
	TicketReference string `json:"ticket_reference"`
}

type approveRequest struct {
	DurationMinutes int `json:"duration_minutes"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type listResponse struct {
	Items any       `json:"items"`
	AsOf  time.Time `json:"as_of"`
}

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	far, err := a.requests.Submit(r.Context(), actor, req.AccountID, req.FieldName, req.Reason, req.TicketReference)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/requests/"+far.ID)
	writeJSON(w, http.StatusCreated, far)
}

func (a *API) handleMyRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	items, err := a.requests.ListMine(r.Context(), actor)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	items, err := a.requests.ListPending(r.Context(), actor)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, AsOf: time.Now().UTC()})
}

// handleRequestResource routes /v1/requests/{id}/approve and
// /v1/requests/{id}/reject. The named sub-collections registered on the
// mux take precedence over this subtree.
func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	id, action, found := strings.Cut(path, "/")
	if !found || id == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	switch action {
	case "approve":
		var req approveRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		if err := a.requests.Approve(r.Context(), actor, id, req.DurationMinutes); err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "APPROVED", "id": id})
	case "reject":
		var req rejectRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		if err := a.requests.Reject(r.Context(), actor, id, req.Reason); err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "REJECTED", "id": id})
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}
