package sandbox

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/docker/docker/client"

	"github.com/tidegate/stevedore/internal/model"
)

// defaultPingTimeout bounds the daemon liveness probe. Docker Desktop
// on macOS can take a few seconds to answer when idle.
const defaultPingTimeout = 5 * time.Second

// Client wraps the Docker Engine SDK client with socket detection and
// stevedore's error mapping. Callers must Close it.
type Client struct {
	inner *client.Client
}

// NewClient creates a Docker client.
//
// Connection resolution order:
//  1. DOCKER_HOST, used as-is when set.
//  2. Platform socket candidates: /var/run/docker.sock on Linux;
//     the same plus ~/.docker/run/docker.sock on macOS; the named
//     pipe on Windows.
//
// Errors are wrapped with ExitSandboxError since an unreachable daemon
// only matters when sandboxed verification was requested.
func NewClient() (*Client, error) {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return newClientWithHost(host)
	}

	host, err := detectDockerHost()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitSandboxError, "Docker socket not found", err)
	}
	return newClientWithHost(host)
}

func newClientWithHost(host string) (*Client, error) {
	// API version negotiation keeps the client compatible with older
	// daemons without pinning a version here.
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitSandboxError,
			fmt.Sprintf("failed to create Docker client for host %q", host), err)
	}
	return &Client{inner: c}, nil
}

// detectDockerHost probes the platform's known socket locations and
// returns a connection string for the first that exists. Existence is
// checked instead of connecting; Ping handles actual reachability.
func detectDockerHost() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return detectUnixSocket([]string{
			"/var/run/docker.sock",
		})

	case "darwin":
		// Newer Docker Desktop versions place the socket under the
		// user's home directory and may not create the /var/run link.
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return detectUnixSocket([]string{
				"/var/run/docker.sock",
			})
		}
		return detectUnixSocket([]string{
			"/var/run/docker.sock",
			homeDir + "/.docker/run/docker.sock",
		})

	case "windows":
		// os.Stat does not work on named pipes; a short dial is the
		// reliable existence check.
		pipePath := `//./pipe/docker_engine`
		conn, err := net.DialTimeout("pipe", pipePath, 1*time.Second)
		if err == nil {
			conn.Close()
			return "npipe://" + pipePath, nil
		}
		return "", fmt.Errorf("Docker named pipe not found at %s: %w", pipePath, err)

	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// detectUnixSocket returns the Docker host URI for the first socket
// path that exists, in the given preference order.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of: %v (is Docker running?)", paths)
}

// Ping verifies the daemon is reachable, bounded by defaultPingTimeout
// so a paused Docker Desktop does not hang the CLI.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return model.WrapCLIError(model.ExitSandboxError,
			"Docker daemon is not responding, is Docker running?", err)
	}
	return nil
}

// Close releases the SDK client's resources. Safe to call repeatedly.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

// Inner exposes the underlying SDK client for operations this wrapper
// does not cover.
func (c *Client) Inner() *client.Client {
	return c.inner
}
