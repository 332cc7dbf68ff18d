package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/tidegate/stevedore/internal/model"
)

// indexRequestTimeout bounds each individual index request. Polling in
// WaitAvailable is governed separately by the caller's timeout.
const indexRequestTimeout = 30 * time.Second

// defaultPollInterval is how often WaitAvailable re-checks the index.
const defaultPollInterval = 3 * time.Second

// indexEntry is one line of a sparse index file. Each published version
// of a crate gets exactly one line of JSON; we only decode the fields
// stevedore cares about.
type indexEntry struct {
	Name   string `json:"name"`
	Vers   string `json:"vers"`
	Yanked bool   `json:"yanked"`
}

// Index queries a registry's sparse HTTP index, the per-crate metadata
// files cargo itself fetches (e.g. https://index.crates.io/se/rd/serde).
type Index struct {
	client       *resty.Client
	pollInterval time.Duration
}

// NewIndex creates an Index client for the given sparse index base URL.
func NewIndex(indexURL string) *Index {
	client := resty.New().
		SetBaseURL(strings.TrimRight(indexURL, "/")).
		SetTimeout(indexRequestTimeout).
		SetHeader("User-Agent", "stevedore")
	return &Index{client: client, pollInterval: defaultPollInterval}
}

// Close releases the underlying HTTP client's resources.
func (ix *Index) Close() error {
	return ix.client.Close()
}

// IndexPath returns the path of a crate's metadata file within a sparse
// index. The registry shards files by name length to keep directories
// small:
//
//	1 character:  1/<name>
//	2 characters: 2/<name>
//	3 characters: 3/<first char>/<name>
//	longer:       <chars 1-2>/<chars 3-4>/<name>
//
// Names are lowercased; the index is case-insensitive. The caller is
// expected to pass a validated crate name.
func IndexPath(name string) string {
	n := strings.ToLower(name)
	switch len(n) {
	case 0:
		return ""
	case 1:
		return "1/" + n
	case 2:
		return "2/" + n
	case 3:
		return "3/" + n[:1] + "/" + n
	default:
		return n[:2] + "/" + n[2:4] + "/" + n
	}
}

// IsPublished reports whether the exact version of the crate exists on
// the registry. Yanked versions count as published: the registry still
// refuses to accept an upload for a version that was ever released.
//
// A 404 from the index means the crate has never been published, which
// is a normal answer, not an error.
func (ix *Index) IsPublished(ctx context.Context, name, version string) (bool, error) {
	entries, err := ix.versions(ctx, name)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Vers == version {
			return true, nil
		}
	}
	return false, nil
}

// WaitAvailable polls the index until the given version appears or the
// timeout elapses. It is called after a successful upload: the registry
// acknowledges the publish before the index reflects it, and publishing
// a dependent crate in that window fails its server-side dependency
// check.
//
// Transient index errors during the wait are tolerated and retried; the
// upload already succeeded, so only the deadline decides failure.
func (ix *Index) WaitAvailable(ctx context.Context, name, version string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	var lastErr error
	for {
		ok, err := ix.IsPublished(ctx, name, version)
		if err == nil && ok {
			return nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			msg := fmt.Sprintf("timed out after %s waiting for %s@%s to appear in the registry index", timeout, name, version)
			if lastErr != nil {
				return model.WrapCLIError(model.ExitPublishError, msg, lastErr)
			}
			return model.NewCLIError(model.ExitPublishError, msg)
		}

		select {
		case <-ctx.Done():
			return model.WrapCLIError(model.ExitPublishError,
				fmt.Sprintf("wait for %s@%s interrupted", name, version), ctx.Err())
		case <-time.After(ix.pollInterval):
		}
	}
}

// versions fetches and decodes the crate's index file. A 404 yields an
// empty slice: the crate simply has no published versions yet.
func (ix *Index) versions(ctx context.Context, name string) ([]indexEntry, error) {
	res, err := ix.client.R().
		SetContext(ctx).
		Get("/" + IndexPath(name))
	if err != nil {
		return nil, model.WrapCLIError(model.ExitPublishError,
			fmt.Sprintf("registry index request for %q failed", name), err)
	}
	if res.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if !res.IsSuccess() {
		return nil, model.NewCLIError(model.ExitPublishError,
			fmt.Sprintf("registry index returned status %d for %q", res.StatusCode(), name))
	}

	var entries []indexEntry
	scanner := bufio.NewScanner(strings.NewReader(res.String()))
	// One line per version, carrying the full dependency list; lines for
	// heavy crates exceed bufio's 64 KiB default.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry indexEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, model.WrapCLIError(model.ExitPublishError,
				fmt.Sprintf("malformed index entry for %q", name), err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, model.WrapCLIError(model.ExitPublishError,
			fmt.Sprintf("failed to read index file for %q", name), err)
	}
	return entries, nil
}
