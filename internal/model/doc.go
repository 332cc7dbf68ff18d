// Package model defines the domain types and value objects for the
// stevedore CLI.
//
// This package contains pure data structures with no external dependencies.
// All entities (Package, PackageResult, RunReport, etc.) are transient
// representations built from workspace manifests at plan time; the only
// durable records are the journal rows and run receipts written elsewhere.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
