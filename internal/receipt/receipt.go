// Package receipt persists a durable YAML record of each publish run.
//
// Receipts live under the workspace's target/ directory, so standard
// Cargo ignore rules already cover them and `cargo clean` removes them
// together with build artifacts. Unlike the journal they are meant to
// be human-readable and easy to attach to a release ticket.
package receipt

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tidegate/stevedore/internal/model"
)

// receiptsSubdir is where receipts live relative to the workspace root.
const receiptsSubdir = "target/stevedore/receipts"

// Document is the YAML layout of a run receipt. Field order here is
// the key order in the written file.
type Document struct {
	RunID         string          `yaml:"runId"`
	Registry      string          `yaml:"registry"`
	WorkspaceRoot string          `yaml:"workspaceRoot"`
	DryRun        bool            `yaml:"dryRun"`
	StartedAt     time.Time       `yaml:"startedAt"`
	FinishedAt    time.Time       `yaml:"finishedAt"`
	Packages      []PackageRecord `yaml:"packages"`
}

// PackageRecord is one package's outcome within a receipt.
type PackageRecord struct {
	Name       string    `yaml:"name"`
	Version    string    `yaml:"version"`
	State      string    `yaml:"state"`
	Detail     string    `yaml:"detail,omitempty"`
	StartedAt  time.Time `yaml:"startedAt"`
	FinishedAt time.Time `yaml:"finishedAt"`
}

// Path returns where the receipt for the given run would be written.
func Path(workspaceRoot, runID string) string {
	return filepath.Join(workspaceRoot, receiptsSubdir, runID+".yaml")
}

// Write serializes the report under
// <workspace>/target/stevedore/receipts/<run-id>.yaml and returns the
// path it wrote.
func Write(report *model.RunReport) (string, error) {
	doc := fromReport(report)

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("serialize receipt for run %s: %w", report.RunID, err)
	}

	// Header comment warns against manual edits; the file is the record
	// of what happened, not an input to anything.
	header := fmt.Sprintf(
		"# Publish receipt for run %s\n# Generated by stevedore, do not edit\n",
		report.RunID,
	)

	path := Path(report.WorkspaceRoot, report.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create receipts directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(header+string(data)), 0o644); err != nil {
		return "", fmt.Errorf("write receipt: %w", err)
	}
	return path, nil
}

// Load reads a receipt back from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse receipt %s: %w", path, err)
	}
	return &doc, nil
}

func fromReport(report *model.RunReport) Document {
	doc := Document{
		RunID:         report.RunID,
		Registry:      report.Registry,
		WorkspaceRoot: report.WorkspaceRoot,
		DryRun:        report.DryRun,
		StartedAt:     report.StartedAt.UTC(),
		FinishedAt:    report.FinishedAt.UTC(),
		Packages:      make([]PackageRecord, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		doc.Packages = append(doc.Packages, PackageRecord{
			Name:       res.Name,
			Version:    res.Version,
			State:      res.State.String(),
			Detail:     res.Detail,
			StartedAt:  res.StartedAt.UTC(),
			FinishedAt: res.FinishedAt.UTC(),
		})
	}
	return doc
}
