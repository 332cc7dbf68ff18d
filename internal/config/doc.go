// Package config loads and validates stevedore's JSONC configuration.
//
// Configuration is discovered relative to the workspace root, first
// .stevedore/config.jsonc and then stevedore.jsonc, with an explicit
// --config path overriding both. A missing configuration file is not an
// error: every field has a default, and the zero configuration publishes
// all publishable members to crates.io with local verification.
//
// JSONC comments are stripped with tidwall/jsonc before decoding, so
// configuration files can be annotated freely.
package config
