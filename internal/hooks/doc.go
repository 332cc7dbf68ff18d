// Package hooks runs the pre- and post-publish shell snippets from the
// configuration.
//
// Snippets execute through an embedded POSIX shell interpreter
// (mvdan.cc/sh/v3) rather than the system shell, so hook behavior is
// identical across platforms and no /bin/sh is required. Each snippet
// runs in the workspace root with STEVEDORE_* variables describing the
// run added to the environment.
//
// A failing pre-publish hook aborts the run before anything is staged.
// A failing post-publish hook is reported but rolls nothing back; the
// packages are already on the registry at that point.
package hooks
