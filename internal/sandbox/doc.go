// Package sandbox runs pre-publish verification inside disposable
// Docker containers, so the host toolchain never builds untrusted
// staged code when verify.mode is "sandbox".
//
// The split between SDK and CLI follows what each does best: container
// lifecycle queries (list, remove, ping) go through the Docker Engine
// SDK, while the verification run itself shells out to `docker run`,
// whose flag surface maps directly onto the configuration.
//
// Every container stevedore starts carries stevedore.* labels. The
// labels are the only state: `stevedore clean` rediscovers leftover
// containers purely by label filter, with no bookkeeping file to drift
// out of sync.
package sandbox
