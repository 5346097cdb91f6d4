package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kolgrow/kolgrow/internal/oerr"
)

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListResponse is the pagination envelope for collection endpoints.
type ListResponse struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	Limit   int         `json:"limit"`
	HasMore bool        `json:"has_more"`
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// sendErr maps a domain error onto an HTTP status. Unclassified errors
// are logged and reported as a generic 500 so internals never leak.
func (s *Server) sendErr(w http.ResponseWriter, err error) {
	switch oerr.KindOf(err) {
	case oerr.KindNotFound:
		s.sendError(w, http.StatusNotFound, err.Error())
	case oerr.KindValidation:
		s.sendError(w, http.StatusBadRequest, err.Error())
	case oerr.KindInvalidTransition, oerr.KindConflict:
		s.sendError(w, http.StatusConflict, err.Error())
	case oerr.KindQuotaExceeded:
		s.sendError(w, http.StatusTooManyRequests, err.Error())
	case oerr.KindAccountUnavailable:
		s.sendError(w, http.StatusServiceUnavailable, err.Error())
	case oerr.KindCollaboratorFailure:
		s.sendError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

// pageParams reads page/limit query parameters with sane bounds.
func pageParams(r *http.Request) (page, limit int) {
	page = 1
	limit = 20
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

// sendList wraps a collection in the pagination envelope.
func (s *Server) sendList(w http.ResponseWriter, data interface{}, total, page, limit int) {
	s.sendJSON(w, http.StatusOK, ListResponse{
		Data:    data,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: total > page*limit,
	})
}
