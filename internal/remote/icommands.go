package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/wtsi-hgi/irobot/internal/precache"
)

// ICommandsClient implements Store by shelling out to the iRODS icommands
// (ils, iget) and baton-list, the same three external tools the original
// implementation wrapped in irods/_api.py. Each call is a short-lived
// subprocess; concurrency is bounded by the caller (see BoundedStore), not
// by this client.
type ICommandsClient struct {
	// Timeout bounds each subprocess invocation. Zero means no timeout.
	Timeout time.Duration
}

// NewICommandsClient returns a client invoking the icommands on $PATH.
func NewICommandsClient(timeout time.Duration) *ICommandsClient {
	return &ICommandsClient{Timeout: timeout}
}

func (c *ICommandsClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// CheckAccess runs `ils irods_path`, mirroring _api.py's ils() wrapper: a
// non-zero exit means the object is missing or inaccessible.
func (c *ICommandsClient) CheckAccess(ctx context.Context, irodsPath string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ils", irodsPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: ils %s: %s", precache.ErrNotFound, irodsPath, stderr.String())
	}
	return nil
}

// FetchTo runs `iget -f irods_path local_path`, mirroring _api.py's iget()
// wrapper (-f forces overwrite of an existing local target).
func (c *ICommandsClient) FetchTo(ctx context.Context, irodsPath, localPath string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, "iget", "-f", irodsPath, localPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: iget %s: %s", precache.ErrUpstreamUnavailable, irodsPath, stderr.String())
	}
	return nil
}

type batonTimestamp struct {
	Created  string `json:"created,omitempty"`
	Modified string `json:"modified,omitempty"`
}

type batonResponse struct {
	Checksum   string           `json:"checksum"`
	Size       int64            `json:"size"`
	Timestamps []batonTimestamp `json:"timestamps"`
	AVUs       []precache.AVU   `json:"avus"`
}

const batonTimestampFormat = "2006-01-02T15:04:05"

// Metadata runs baton-list against irodsPath and decodes its JSON response,
// mirroring _api.py's baton() wrapper and _types.py's MetadataJSONDecoder.
func (c *ICommandsClient) Metadata(ctx context.Context, irodsPath string) (precache.Metadata, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	collection, dataObject := splitIrodsPath(irodsPath)
	query, err := json.Marshal(map[string]string{"collection": collection, "data_object": dataObject})
	if err != nil {
		return precache.Metadata{}, err
	}

	cmd := exec.CommandContext(ctx, "baton-list", "--avu", "--size", "--checksum", "--acl", "--timestamp")
	cmd.Stdin = bytes.NewReader(query)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return precache.Metadata{}, fmt.Errorf("%w: baton-list %s: %s", precache.ErrNotFound, irodsPath, stderr.String())
	}

	var resp batonResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return precache.Metadata{}, fmt.Errorf("baton-list %s: decode response: %w", irodsPath, err)
	}

	md := precache.Metadata{Checksum: resp.Checksum, Size: resp.Size, AVUs: resp.AVUs}
	for _, ts := range resp.Timestamps {
		if ts.Created != "" {
			if t, err := time.Parse(batonTimestampFormat, ts.Created); err == nil {
				md.Created = t.UTC()
			}
		}
		if ts.Modified != "" {
			if t, err := time.Parse(batonTimestampFormat, ts.Modified); err == nil {
				md.Modified = t.UTC()
			}
		}
	}
	return md, nil
}

// splitIrodsPath divides an absolute iRODS path into baton's
// collection/data_object pair, the same split os.path.split performs in
// _api.py's baton().
func splitIrodsPath(irodsPath string) (collection, dataObject string) {
	idx := bytes.LastIndexByte([]byte(irodsPath), '/')
	if idx < 0 {
		return "", irodsPath
	}
	return irodsPath[:idx], irodsPath[idx+1:]
}
