package httpapi

import (
	"net/http"
	"strconv"

	"grantor.org/internal/obs"
)

// handleAuditEvents exposes retained ledger events for operator inspection.
func (a *API) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if a.ledger == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit ledger unavailable")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sinceSeq, err := parseUint(r.URL.Query().Get("since_seq"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "since_seq must be a non-negative integer")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := a.ledger.List(r.Context(), sinceSeq, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleAuditVerify recomputes the hash chain and reports the verdict.
func (a *API) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if a.ledger == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit ledger unavailable")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sinceSeq, err := parseUint(r.URL.Query().Get("since_seq"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "since_seq must be a non-negative integer")
		return
	}
	ok, err := a.ledger.Verify(r.Context(), sinceSeq)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit verification failed")
		return
	}
	obs.AuditVerified(ok)
	writeJSON(w, http.StatusOK, map[string]any{"intact": ok})
}

func parseUint(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
