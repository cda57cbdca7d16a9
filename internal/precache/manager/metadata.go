package manager

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/wtsi-hgi/irobot/internal/precache"
)

// estimateMetadataSize returns the reservation size for an entry's metadata
// file: the actual serialised size, so admission reserves exactly what
// writeMetadataFile will later write.
func estimateMetadataSize(md precache.Metadata) int64 {
	b, err := json.Marshal(md)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

// writeMetadataFile atomically writes an entry's metadata file.
func writeMetadataFile(dir string, md precache.Metadata) error {
	b, err := json.Marshal(md)
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, "metadata.tmp")
	if err := os.WriteFile(tmp, b, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, "metadata"))
}

// readMetadataFile reads back an entry's metadata file.
func readMetadataFile(dir string) (precache.Metadata, error) {
	b, err := os.ReadFile(filepath.Join(dir, "metadata"))
	if err != nil {
		return precache.Metadata{}, err
	}
	var md precache.Metadata
	if err := json.Unmarshal(b, &md); err != nil {
		return precache.Metadata{}, err
	}
	return md, nil
}
