package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tidegate/stevedore/internal/manifest"
	"github.com/tidegate/stevedore/internal/model"
)

// TestNewPlanEntry verifies the plan output slot for one crate.
func TestNewPlanEntry(t *testing.T) {
	pkg := &model.Package{Name: "acme-ui", Version: "0.4.2", RelDir: "crates/ui"}
	rewritten := &manifest.RewriteResult{
		Manifest: []byte("[package]\nname = \"acme-ui\"\n"),
		Changes:  []string{`pinned path dependency "acme-core" to version 0.4.2 in [dependencies]`},
	}

	entry := newPlanEntry(3, pkg, rewritten, false)

	assert.Equal(t, 3, entry.Position)
	assert.Equal(t, "acme-ui", entry.Name)
	assert.Equal(t, "0.4.2", entry.Version)
	assert.Equal(t, "crates/ui", entry.Dir)
	assert.Len(t, entry.Changes, 1)
	assert.Empty(t, entry.Manifest, "manifest only included on request")
}

// TestNewPlanEntry_IncludesManifestOnRequest verifies the entry carries
// the full rewritten manifest unless it was suppressed.
func TestNewPlanEntry_IncludesManifestOnRequest(t *testing.T) {
	pkg := &model.Package{Name: "acme-ui", Version: "0.4.2", RelDir: "crates/ui"}
	rewritten := &manifest.RewriteResult{Manifest: []byte("[package]\nname = \"acme-ui\"\n")}

	entry := newPlanEntry(1, pkg, rewritten, true)

	assert.Equal(t, "[package]\nname = \"acme-ui\"\n", entry.Manifest)
}

// TestNewPlanEntry_EmptyChangesNotNil verifies a crate with no rewrites
// serializes as an empty JSON array instead of null.
func TestNewPlanEntry_EmptyChangesNotNil(t *testing.T) {
	pkg := &model.Package{Name: "acme-standalone", Version: "1.0.0", RelDir: "crates/standalone"}
	rewritten := &manifest.RewriteResult{Manifest: []byte("[package]\n")}

	entry := newPlanEntry(1, pkg, rewritten, false)

	assert.NotNil(t, entry.Changes)
	assert.Empty(t, entry.Changes)
}
