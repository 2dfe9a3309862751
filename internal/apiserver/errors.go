// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/juju/errors"

	planerrors "github.com/canonical/vetpay/domain/plan/errors"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// statusForError maps an error onto an HTTP status code.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.BadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errors.Unauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errors.NotFound),
		errors.Is(err, planerrors.PlanNotFound),
		errors.Is(err, planerrors.PaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, planerrors.PlanStatusConflict),
		errors.Is(err, planerrors.PaymentStatusConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sendError sends a JSON-encoded error response.
func (h *apiHandler) sendError(w http.ResponseWriter, req *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.config.Logger.Errorf("returning error from %s %s: %s", req.Method, req.URL.Path, errors.Details(err))
	} else {
		h.config.Logger.Debugf("returning error from %s %s: %v", req.Method, req.URL.Path, err)
	}
	h.sendStatusAndJSON(w, status, errorResponse{Error: err.Error()})
}

// sendStatusAndJSON sends an HTTP status code and a JSON-encoded response
// to a client.
func (h *apiHandler) sendStatusAndJSON(w http.ResponseWriter, statusCode int, response any) {
	body, err := json.Marshal(response)
	if err != nil {
		h.config.Logger.Errorf("cannot marshal JSON result %#v: %v", response, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		h.config.Logger.Debugf("writing response: %v", err)
	}
}
