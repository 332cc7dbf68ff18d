package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/stevedore/internal/model"
)

// acmeUIIndexFile is a sparse index file with three released versions,
// one of them yanked.
const acmeUIIndexFile = `{"name":"acme-ui","vers":"0.4.0","yanked":false}
{"name":"acme-ui","vers":"0.4.1","yanked":true}
{"name":"acme-ui","vers":"0.4.2","yanked":false}
`

// newTestIndex starts an httptest server with the given handler and
// returns an Index pointed at it, with a short poll interval so wait
// tests run quickly.
func newTestIndex(t *testing.T, handler http.HandlerFunc) *Index {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ix := NewIndex(srv.URL)
	ix.pollInterval = 10 * time.Millisecond
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

// TestIndexPath covers the registry's name-length sharding scheme.
func TestIndexPath(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "a", want: "1/a"},
		{name: "io", want: "2/io"},
		{name: "log", want: "3/l/log"},
		{name: "rand", want: "ra/nd/rand"},
		{name: "serde", want: "se/rd/serde"},
		{name: "acme-ui", want: "ac/me/acme-ui"},
		{name: "acme-ui-widgets", want: "ac/me/acme-ui-widgets"},
		{name: "Inflector", want: "in/fl/inflector"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IndexPath(tt.name))
		})
	}
}

// TestIsPublished_VersionExists verifies a version present in the
// index file is reported as published.
func TestIsPublished_VersionExists(t *testing.T) {
	ix := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ac/me/acme-ui", r.URL.Path)
		fmt.Fprint(w, acmeUIIndexFile)
	})

	ok, err := ix.IsPublished(context.Background(), "acme-ui", "0.4.2")

	require.NoError(t, err)
	assert.True(t, ok)
}

// TestIsPublished_VersionAbsent verifies an unreleased version of a
// known crate is reported as unpublished.
func TestIsPublished_VersionAbsent(t *testing.T) {
	ix := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, acmeUIIndexFile)
	})

	ok, err := ix.IsPublished(context.Background(), "acme-ui", "0.5.0")

	require.NoError(t, err)
	assert.False(t, ok)
}

// TestIsPublished_NeverPublished verifies that a 404 from the index is
// a normal "no versions yet" answer, not an error.
func TestIsPublished_NeverPublished(t *testing.T) {
	ix := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	ok, err := ix.IsPublished(context.Background(), "brand-new-crate", "0.1.0")

	require.NoError(t, err)
	assert.False(t, ok)
}

// TestIsPublished_YankedStillCounts verifies a yanked version is still
// treated as published. The registry never frees a version slot.
func TestIsPublished_YankedStillCounts(t *testing.T) {
	ix := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, acmeUIIndexFile)
	})

	ok, err := ix.IsPublished(context.Background(), "acme-ui", "0.4.1")

	require.NoError(t, err)
	assert.True(t, ok)
}

// TestIsPublished_ServerError verifies that a non-404 failure status
// surfaces as a publish-phase CLIError.
func TestIsPublished_ServerError(t *testing.T) {
	ix := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index unavailable", http.StatusInternalServerError)
	})

	_, err := ix.IsPublished(context.Background(), "acme-ui", "0.4.2")

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitPublishError, cliErr.Code)
	assert.Contains(t, cliErr.Message, "status 500")
}

// TestIsPublished_MalformedEntry verifies that an unparseable index
// line is reported rather than silently skipped.
func TestIsPublished_MalformedEntry(t *testing.T) {
	ix := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json at all\n")
	})

	_, err := ix.IsPublished(context.Background(), "acme-ui", "0.4.2")

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Contains(t, cliErr.Message, "malformed index entry")
}

// TestWaitAvailable_AppearsAfterPolls verifies the happy path: the
// index starts returning 404 and the wait resolves once the version
// shows up.
func TestWaitAvailable_AppearsAfterPolls(t *testing.T) {
	var requests atomic.Int32
	ix := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"name":"demo","vers":"0.1.0","yanked":false}`+"\n")
	})

	err := ix.WaitAvailable(context.Background(), "demo", "0.1.0", 2*time.Second)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, requests.Load(), int32(3))
}

// TestWaitAvailable_Timeout verifies that a version that never appears
// produces a publish-phase CLIError once the deadline passes.
func TestWaitAvailable_Timeout(t *testing.T) {
	ix := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	err := ix.WaitAvailable(context.Background(), "demo", "0.1.0", 35*time.Millisecond)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitPublishError, cliErr.Code)
	assert.Contains(t, cliErr.Message, "timed out")
	assert.Contains(t, cliErr.Message, "demo@0.1.0")
}

// TestWaitAvailable_ToleratesTransientErrors verifies that index
// failures during the wait are retried instead of aborting. The upload
// already succeeded at that point.
func TestWaitAvailable_ToleratesTransientErrors(t *testing.T) {
	var requests atomic.Int32
	ix := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			http.Error(w, "hiccup", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"name":"demo","vers":"0.1.0","yanked":false}`+"\n")
	})

	err := ix.WaitAvailable(context.Background(), "demo", "0.1.0", 2*time.Second)

	require.NoError(t, err)
}

// TestWaitAvailable_ContextCanceled verifies that cancelling the
// context interrupts the wait before its own deadline.
func TestWaitAvailable_ContextCanceled(t *testing.T) {
	ix := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err := ix.WaitAvailable(ctx, "demo", "0.1.0", 10*time.Second)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "interrupted")
}
