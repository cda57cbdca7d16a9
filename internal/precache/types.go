// Package precache implements the on-disk, content-addressed cache of
// remote data objects: the tracking store, directory allocator,
// checksummer and admission/eviction manager described by the data-object
// precache design.
package precache

import "time"

// DataType identifies one of the three files an entry owns on disk.
type DataType string

const (
	DataTypeData      DataType = "data"
	DataTypeMetadata  DataType = "metadata"
	DataTypeChecksums DataType = "checksums"
)

// AllDataTypes lists the three per-entry files in creation order.
var AllDataTypes = []DataType{DataTypeData, DataTypeMetadata, DataTypeChecksums}

// Status is the lifecycle state of one (entry, datatype) pair.
type Status string

const (
	StatusRequested Status = "requested"
	StatusProducing Status = "producing"
	StatusReady     Status = "ready"
	StatusFailed    Status = "failed"
)

// Process identifies a production-rate-sampled background job kind.
type Process string

const (
	ProcessDownload Process = "download"
	ProcessChecksum Process = "checksum"
)

// AVU is an attribute-value-[units] triple attached to a data object's
// metadata, mirroring the remote store's extended-attribute model.
type AVU struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
	Units     string `json:"units,omitempty"`
}

// Metadata is the remote object's descriptive record, cached alongside its
// bytes.
type Metadata struct {
	Checksum string    `json:"checksum"` // MD5 hex
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	AVUs     []AVU     `json:"avus"`
}

// Equal reports whether two metadata records describe the same remote
// object state, per the fields refetch_metadata compares.
func (m Metadata) Equal(other Metadata) bool {
	return m.Checksum == other.Checksum &&
		m.Size == other.Size &&
		m.Created.Equal(other.Created) &&
		m.Modified.Equal(other.Modified)
}

// ByteRange is a half-open [Start, Finish) span, optionally carrying the
// MD5 of exactly that span when it aligns to a checksummed chunk.
type ByteRange struct {
	Start    int64
	Finish   int64
	Checksum string // empty when not known
}

// Len returns the number of bytes the range covers.
func (r ByteRange) Len() int64 { return r.Finish - r.Start }

// HasChecksum reports whether the range carries a verified checksum.
func (r ByteRange) HasChecksum() bool { return r.Checksum != "" }
