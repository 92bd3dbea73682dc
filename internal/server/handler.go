package server

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"pipestock/internal/coordinator"
	"pipestock/internal/inventory"
	"pipestock/internal/store"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s Server) writeJsonResponse(w http.ResponseWriter, response any, statusCode int) {
	if resp, err := json.Marshal(response); err != nil {
		s.Logger.Errorf("Error encoding response: %+v, err: %v", response, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	} else {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(statusCode)
		if _, err = w.Write(resp); err != nil {
			s.Logger.Errorf("Error writing JSON response: %s, err: %v", resp, err)
		}
	}
}

// statusCode maps err to a response status. Unavailable is checked first since it wraps both
// backend errors, one of which may be a NotFound.
func statusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrNoActor):
		return http.StatusUnauthorized
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, inventory.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s Server) writeError(w http.ResponseWriter, r *http.Request, funcName string, err error) {
	tid := getTraceContext(r.Context()).traceID
	code := statusCode(err)
	resp := errorResponse{Error: http.StatusText(code)}
	switch code {
	case http.StatusInternalServerError:
		s.Logger.Errorf("%s: Unexpected error, err: %v, TraceID: %s", funcName, err, tid)
	case http.StatusServiceUnavailable:
		s.Logger.Errorf("%s: Both stores unavailable, err: %v, TraceID: %s", funcName, err, tid)
		resp.Message = err.Error()
	default:
		s.Logger.Debugf("%s: Rejected request, err: %v, TraceID: %s", funcName, err, tid)
		resp.Message = err.Error()
	}
	s.writeJsonResponse(w, resp, code)
}

func (s Server) decodeRequest(w http.ResponseWriter, r *http.Request, funcName string, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.Logger.Debugf("%s: Error decoding JSON, err: %v, TraceID: %s", funcName, err, getTraceContext(r.Context()).traceID)
		s.writeJsonResponse(w, errorResponse{Error: http.StatusText(http.StatusBadRequest), Message: err.Error()}, http.StatusBadRequest)
		return false
	}
	return true
}

func (s Server) notFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Logger.Debugf("notFoundHandler: Requested resource not found: %s, TraceID: %s",
			r.URL.Path, getTraceContext(r.Context()).traceID)
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}

func (s Server) health() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Inventory string `json:"inventory"`
		Backend   string `json:"backend,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		inv := s.Inventory.Inventory()
		resp := response{Status: "ok", Inventory: inv.State.String(), Backend: inv.Backend}
		code := http.StatusOK
		if inv.State == coordinator.Failed {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		s.writeJsonResponse(w, resp, code)
	}
}
