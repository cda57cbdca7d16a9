package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wtsi-hgi/irobot/internal/httpapi/rangeparser"
	"github.com/wtsi-hgi/irobot/internal/precache"
)

// Problem is the standard JSON error body, per spec.md §4.4/§6.
type Problem struct {
	Status      int    `json:"status"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// reasons maps HTTP status codes to their fixed reason strings. A status
// absent here falls back to "Undefined Error".
var reasons = map[int]string{
	http.StatusBadRequest:           "Bad Request",
	http.StatusUnauthorized:         "Unauthorized",
	http.StatusForbidden:            "Forbidden",
	http.StatusNotFound:             "Not Found",
	http.StatusMethodNotAllowed:     "Method Not Allowed",
	http.StatusNotAcceptable:        "Not Acceptable",
	http.StatusConflict:             "Conflict",
	http.StatusRequestedRangeNotSatisfiable: "Range Not Satisfiable",
	http.StatusInternalServerError:  "Internal Error",
	http.StatusBadGateway:           "Upstream Unavailable",
	http.StatusGatewayTimeout:       "Upstream Timeout",
	http.StatusRequestTimeout:       "Timeout",
	http.StatusInsufficientStorage:  "Insufficient Storage",
}

// writeProblem writes the standard error envelope with the given status.
func writeProblem(w http.ResponseWriter, status int, description string) {
	reason, ok := reasons[status]
	if !ok {
		reason = "Undefined Error"
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{Status: status, Reason: reason, Description: description})
}

// statusForError maps a precache/rangeparser error to its HTTP status,
// per spec.md §7's error taxonomy.
func statusForError(err error) int {
	switch {
	case errors.Is(err, precache.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, precache.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, precache.ErrPrecacheFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, precache.ErrContended), errors.Is(err, precache.ErrAlreadyExists), errors.Is(err, precache.ErrStatusExists):
		return http.StatusConflict
	case errors.Is(err, precache.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, rangeparser.ErrUnsatisfiable):
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusInternalServerError
	}
}
