// Package registry talks to the crate registry on stevedore's behalf.
//
// It has two halves. The Publisher shells out to the publish tool
// (cargo by default) against a staged crate directory, mirroring what a
// developer would run by hand. The Index is an HTTP client for the
// registry's sparse index, used to answer "is this version already
// published?" before a run and "has the version landed?" after one.
//
// Publish failures from the tool are wrapped in model.CLIError with
// ExitPublishError so the CLI layer maps them to the right exit code.
// The one exception is ErrAlreadyPublished: the pipeline treats that
// outcome as a skip, not a failure, because re-uploading an existing
// version can never succeed.
package registry
