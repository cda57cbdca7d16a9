package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/wtsi-hgi/irobot/internal/httpapi/multipart"
	"github.com/wtsi-hgi/irobot/internal/httpapi/negotiate"
	"github.com/wtsi-hgi/irobot/internal/httpapi/rangeparser"
	"github.com/wtsi-hgi/irobot/internal/logger"
	"github.com/wtsi-hgi/irobot/internal/precache"
	"github.com/wtsi-hgi/irobot/internal/precache/manager"
)

// metadataMediaType is the representation negotiated when the client
// prefers the descriptive record over the object's bytes, per spec.md §6.
const metadataMediaType = "application/vnd.irobot.metadata+json"

// dataMediaType is the generic representation for the object's bytes.
const dataMediaType = "application/octet-stream"

// timestampLayout matches spec.md §6: UTC, no timezone suffix.
const timestampLayout = "2006-01-02T15:04:05"

// metadataBody is the wire shape of the metadata representation, per
// spec.md §6.
type metadataBody struct {
	Checksum   string          `json:"checksum"`
	Size       int64           `json:"size"`
	Timestamps []timestampPair `json:"timestamps"`
	AVUs       []precache.AVU  `json:"avus"`
}

type timestampPair struct {
	Created  string `json:"created,omitempty"`
	Modified string `json:"modified,omitempty"`
}

// DataObjectHandler implements the GET/HEAD/POST/DELETE state machine for
// a single precached data object, per spec.md §4.4.
type DataObjectHandler struct {
	mgr *manager.Manager
}

// NewDataObjectHandler constructs a DataObjectHandler over mgr.
func NewDataObjectHandler(mgr *manager.Manager) *DataObjectHandler {
	return &DataObjectHandler{mgr: mgr}
}

// normalisePath turns a chi wildcard capture into a canonical iRODS path:
// a single leading slash, no repeated slashes, and never just "/".
func normalisePath(raw string) (string, bool) {
	p := "/" + strings.TrimPrefix(raw, "/")
	p = path.Clean(p)
	if p == "/" || p == "." {
		return "", false
	}
	return p, true
}

// irodsPath extracts the object path from the request URL. The router
// mounts this handler at "/*", so r.URL.Path already carries the full
// remaining path relative to the gateway's root.
func (h *DataObjectHandler) irodsPath(r *http.Request) (string, bool) {
	return normalisePath(r.URL.Path)
}

// ServeHTTP dispatches GET/HEAD to get, POST to reseed and DELETE to
// deleteObject. The router only ever wires supported methods here, but the
// fallback keeps the handler safe to mount standalone.
func (h *DataObjectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.get(w, r)
	case http.MethodPost:
		h.reseed(w, r)
	case http.MethodDelete:
		h.deleteObject(w, r)
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *DataObjectHandler) get(w http.ResponseWriter, r *http.Request) {
	irodsPath, ok := h.irodsPath(r)
	if !ok {
		writeProblem(w, http.StatusNotFound, "no data object at root")
		return
	}

	handle, err := h.mgr.Get(r.Context(), irodsPath)
	if err != nil {
		h.writeAdmissionError(w, err)
		return
	}
	defer handle.Release()

	wantsMetadata := negotiatedHandler(r) == "metadata"
	if wantsMetadata {
		h.serveMetadata(w, handle.Metadata)
		return
	}
	h.serveData(w, r, handle)
}

// negotiatedHandler inspects Accept to decide whether the client wants the
// metadata representation or the object's bytes, per spec.md §4.4 step 3/4.
func negotiatedHandler(r *http.Request) string {
	ranges := negotiate.Parse(r.Header.Get("Accept"))
	if best, ok := negotiate.Best(ranges, []string{dataMediaType, metadataMediaType}); ok && best == metadataMediaType {
		return "metadata"
	}
	return "data"
}

func (h *DataObjectHandler) serveMetadata(w http.ResponseWriter, md precache.Metadata) {
	avus := md.AVUs
	if avus == nil {
		avus = []precache.AVU{}
	}
	body := metadataBody{
		Checksum: md.Checksum,
		Size:     md.Size,
		Timestamps: []timestampPair{
			{Created: md.Created.UTC().Format(timestampLayout)},
			{Modified: md.Modified.UTC().Format(timestampLayout)},
		},
		AVUs: avus,
	}
	w.Header().Set("Content-Type", metadataMediaType+"; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *DataObjectHandler) serveData(w http.ResponseWriter, r *http.Request, handle *manager.Handle) {
	etag := `"` + handle.Metadata.Checksum + `"`
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("ETag", etag)

	if inm := r.Header.Get("If-None-Match"); inm != "" && ifNoneMatchHit(inm, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if err := h.mgr.UpdateLastAccess(r.Context(), handle.ID); err != nil {
		logger.Warn("failed to update last access", logger.Err(err))
	}

	size := handle.Metadata.Size
	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		h.serveWhole(w, r, handle, size)
		return
	}

	ranges, err := rangeparser.Parse(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		writeProblem(w, http.StatusRequestedRangeNotSatisfiable, "requested range not satisfiable")
		return
	}
	ranges = rangeparser.Canonicalise(ranges)
	h.serveRanges(w, r, handle, ranges, size)
}

func (h *DataObjectHandler) serveWhole(w http.ResponseWriter, r *http.Request, handle *manager.Handle, size int64) {
	w.Header().Set("Content-Type", dataMediaType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}

	f, err := handle.Open()
	if err != nil {
		logger.Error("failed to open data file", logger.Err(err))
		return
	}
	defer f.Close()
	_, _ = io.Copy(w, f)
}

func (h *DataObjectHandler) serveRanges(w http.ResponseWriter, r *http.Request, handle *manager.Handle, ranges []precache.ByteRange, size int64) {
	f, err := handle.Open()
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "failed to open data object")
		return
	}
	defer f.Close()

	if len(ranges) == 1 {
		h.serveSingleRange(w, r, f, ranges[0], size)
		return
	}
	h.serveMultiRange(w, r, f, ranges, size)
}

func (h *DataObjectHandler) serveSingleRange(w http.ResponseWriter, r *http.Request, f io.ReaderAt, rng precache.ByteRange, size int64) {
	w.Header().Set("Content-Type", dataMediaType)
	w.Header().Set("Content-Range", contentRangeHeader(rng, size))
	w.Header().Set("Content-Length", strconv.FormatInt(rng.Len(), 10))
	if rng.HasChecksum() {
		w.Header().Set("ETag", `"`+rng.Checksum+`"`)
	}
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.Copy(w, io.NewSectionReader(f, rng.Start, rng.Len()))
}

func (h *DataObjectHandler) serveMultiRange(w http.ResponseWriter, r *http.Request, f io.ReaderAt, ranges []precache.ByteRange, size int64) {
	prefixes := make([][]byte, 0, len(ranges))
	parts := make([]multipart.Part, 0, len(ranges))
	for _, rng := range ranges {
		sr := io.NewSectionReader(f, rng.Start, rng.Len())
		prefixLen := rng.Len()
		if prefixLen > 72 {
			prefixLen = 72
		}
		prefix := make([]byte, prefixLen)
		_, _ = sr.ReadAt(prefix, 0)
		prefixes = append(prefixes, prefix)
		parts = append(parts, multipart.Part{Range: rng, Body: io.NewSectionReader(f, rng.Start, rng.Len())})
	}

	boundary, err := multipart.GenerateBoundary(prefixes)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "failed to generate multipart boundary")
		return
	}

	w.Header().Set("Content-Type", "multipart/byteranges; boundary="+boundary)
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	if err := multipart.Write(w, boundary, dataMediaType, size, parts); err != nil {
		logger.Error("failed writing multipart response", logger.Err(err))
	}
}

func contentRangeHeader(rng precache.ByteRange, size int64) string {
	return "bytes " + strconv.FormatInt(rng.Start, 10) + "-" + strconv.FormatInt(rng.Finish-1, 10) + "/" + strconv.FormatInt(size, 10)
}

func ifNoneMatchHit(header, etag string) bool {
	if header == "*" {
		return true
	}
	for _, tag := range strings.Split(header, ",") {
		if strings.TrimSpace(tag) == etag {
			return true
		}
	}
	return false
}

func (h *DataObjectHandler) reseed(w http.ResponseWriter, r *http.Request) {
	irodsPath, ok := h.irodsPath(r)
	if !ok {
		writeProblem(w, http.StatusNotFound, "no data object at root")
		return
	}

	err := h.mgr.Reseed(r.Context(), irodsPath)
	switch {
	case err == nil, errors.Is(err, precache.ErrInProgress):
		w.WriteHeader(http.StatusCreated)
	case errors.Is(err, precache.ErrContended):
		writeProblem(w, http.StatusConflict, "entry is in use and cannot be re-seeded")
	default:
		h.writeAdmissionError(w, err)
	}
}

func (h *DataObjectHandler) deleteObject(w http.ResponseWriter, r *http.Request) {
	irodsPath, ok := h.irodsPath(r)
	if !ok {
		writeProblem(w, http.StatusNotFound, "no data object at root")
		return
	}

	err := h.mgr.Delete(r.Context(), irodsPath)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, precache.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "no such data object")
	case errors.Is(err, precache.ErrContended), errors.Is(err, precache.ErrInProgress):
		writeProblem(w, http.StatusConflict, "entry is in use or still being produced")
	default:
		writeProblem(w, statusForError(err), err.Error())
	}
}

// writeAdmissionError renders the result of Manager.Get/admit: a 202 with
// an ETA for an in-progress entry, or the mapped error status otherwise.
func (h *DataObjectHandler) writeAdmissionError(w http.ResponseWriter, err error) {
	var ip *precache.InProgressError
	if errors.As(err, &ip) {
		if ip.ETA != nil {
			w.Header().Set("iRobot-ETA", strconv.FormatFloat(*ip.ETA, 'f', -1, 64))
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeProblem(w, statusForError(err), err.Error())
}
