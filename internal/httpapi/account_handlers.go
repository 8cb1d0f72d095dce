package httpapi

import (
	"net/http"
	"strings"
	"time"
)

func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if _, ok := mustActor(w, r); !ok {
		return
	}
	query := r.URL.Query().Get("q")
	items, err := a.gateway.SearchAccounts(r.Context(), query, 50)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, AsOf: time.Now().UTC()})
}

// handleAccountResource serves the account summary and, with ?field=, a
// single sensitive field read through the gateway.
func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	if field := r.URL.Query().Get("field"); field != "" {
		value, err := a.gateway.ReadField(r.Context(), actor, id, field)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, value)
		return
	}

	acct, err := a.gateway.GetAccount(r.Context(), id)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
