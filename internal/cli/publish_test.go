package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/stevedore/internal/model"
)

// TestPublishedRefs verifies the post-publish hook environment lists
// only the crates that actually went out, as name@version.
func TestPublishedRefs(t *testing.T) {
	report := &model.RunReport{
		Results: []model.PackageResult{
			{Name: "acme-core", Version: "0.3.0", State: model.StatePublished},
			{Name: "acme-macros", Version: "0.3.0", State: model.StateSkipped},
			{Name: "acme-ui", Version: "0.3.0", State: model.StatePublished},
			{Name: "acme-cli", Version: "0.3.0", State: model.StateFailed},
		},
	}

	assert.Equal(t, []string{"acme-core@0.3.0", "acme-ui@0.3.0"}, publishedRefs(report))
}

// TestPublishedRefs_NonePublished verifies an all-skipped run produces
// an empty list rather than nil.
func TestPublishedRefs_NonePublished(t *testing.T) {
	report := &model.RunReport{
		Results: []model.PackageResult{
			{Name: "acme-core", Version: "0.3.0", State: model.StateSkipped},
		},
	}

	refs := publishedRefs(report)
	assert.NotNil(t, refs)
	assert.Empty(t, refs)
}

// TestConfirm verifies the confirmation prompt only proceeds on an
// explicit yes.
func TestConfirm(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"yes", "yes\n", true},
		{"short y", "y\n", true},
		{"uppercase Y", "Y\n", true},
		{"no", "n\n", false},
		{"empty line defaults to no", "\n", false},
		{"closed stdin defaults to no", "", false},
		{"garbage defaults to no", "sure thing\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			cmd.SetIn(strings.NewReader(tt.input))
			cmd.SetOut(&bytes.Buffer{})

			ok, err := confirm(cmd, "Publish 2 crate(s) to crates-io?")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

// TestPrintPublishResult_Summary verifies the text summary counts
// states and points at the receipt.
func TestPrintPublishResult_Summary(t *testing.T) {
	report := &model.RunReport{
		Results: []model.PackageResult{
			{State: model.StatePublished},
			{State: model.StatePublished},
			{State: model.StateSkipped},
		},
	}

	var buf bytes.Buffer
	printPublishResult(&buf, report, "/ws/target/stevedore/receipts/run.yaml")

	out := buf.String()
	assert.Contains(t, out, "Run complete:")
	assert.Contains(t, out, "2 published, 1 skipped, 0 failed")
	assert.Contains(t, out, "receipt: /ws/target/stevedore/receipts/run.yaml")
}

// TestPrintPublishResult_Failure verifies a failed run is reported as
// such.
func TestPrintPublishResult_Failure(t *testing.T) {
	report := &model.RunReport{
		Results: []model.PackageResult{
			{State: model.StatePublished},
			{State: model.StateFailed},
			{State: model.StatePlanned},
		},
	}

	var buf bytes.Buffer
	printPublishResult(&buf, report, "")

	out := buf.String()
	assert.Contains(t, out, "Run failed:")
	assert.Contains(t, out, "1 published, 0 skipped, 1 failed")
	assert.NotContains(t, out, "receipt:")
}

// TestPrintPublishResult_DryRun verifies a dry run never claims
// anything was sent.
func TestPrintPublishResult_DryRun(t *testing.T) {
	report := &model.RunReport{
		DryRun: true,
		Results: []model.PackageResult{
			{State: model.StateVerified},
			{State: model.StateVerified},
		},
	}

	var buf bytes.Buffer
	printPublishResult(&buf, report, "")

	assert.Contains(t, buf.String(), "Dry run complete: 2 crate(s) prepared")
	assert.Contains(t, buf.String(), "nothing sent to the registry")
}
