package httpapi

import (
	"net/http"

	"github.com/wtsi-hgi/irobot/internal/precache"
	"github.com/wtsi-hgi/irobot/internal/precache/manager"
)

// AdminHandler serves the /_status, /_config and /_precache introspection
// endpoints, per spec.md §4.4's routing table.
type AdminHandler struct {
	mgr    *manager.Manager
	conns  *ConnCounter
	config func() any // effective-configuration snapshot, supplied by cmd/irobot
}

// NewAdminHandler constructs an AdminHandler. configSnapshot is called
// fresh on every /_config request so reloaded configuration is reflected
// immediately.
func NewAdminHandler(mgr *manager.Manager, conns *ConnCounter, configSnapshot func() any) *AdminHandler {
	return &AdminHandler{mgr: mgr, conns: conns, config: configSnapshot}
}

type statusResponse struct {
	Connections int64                   `json:"connections"`
	Commitment  int64                   `json:"precache_commitment_bytes"`
	Rates       map[string]rateResponse `json:"production_rates"`
}

type rateResponse struct {
	MeanBytesPerSec   float64 `json:"mean_bytes_per_sec"`
	StdErrBytesPerSec float64 `json:"std_err_bytes_per_sec"`
}

// Status handles GET|HEAD /_status: a runtime snapshot of connection count
// and precache production statistics.
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	commit, err := h.mgr.Commitment(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	rates, err := h.mgr.ProductionRates(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := statusResponse{
		Connections: h.conns.Count(),
		Commitment:  commit,
		Rates:       make(map[string]rateResponse, len(rates)),
	}
	for proc, rs := range rates {
		resp.Rates[string(proc)] = rateResponse{MeanBytesPerSec: rs.MeanBytesPerSec, StdErrBytesPerSec: rs.StdErrBytesPerSec}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Config handles GET|HEAD /_config: the effective configuration, as the
// snapshot function returns it.
func (h *AdminHandler) Config(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, h.config())
}

type precacheEntry struct {
	IrodsPath    string                       `json:"irods_path"`
	PrecachePath string                       `json:"precache_path"`
	Statuses     map[precache.DataType]string `json:"statuses"`
	Sizes        map[precache.DataType]int64  `json:"sizes"`
	LastAccess   string                       `json:"last_access"`
	Contention   int                          `json:"contention"`
}

// Precache handles GET|HEAD /_precache: the list of tracked entries and
// their lifecycle state, per SPEC_FULL.md's supplemented admin listing.
func (h *AdminHandler) Precache(w http.ResponseWriter, r *http.Request) {
	entries, err := h.mgr.ListEntries(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]precacheEntry, 0, len(entries))
	for _, e := range entries {
		statuses := make(map[precache.DataType]string, len(e.Statuses))
		for dt, s := range e.Statuses {
			statuses[dt] = string(s)
		}
		out = append(out, precacheEntry{
			IrodsPath:    e.IrodsPath,
			PrecachePath: e.PrecachePath,
			Statuses:     statuses,
			Sizes:        e.Sizes,
			LastAccess:   e.LastAccess.UTC().Format("2006-01-02T15:04:05Z"),
			Contention:   h.mgr.ContentionCount(e.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
