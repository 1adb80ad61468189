// Package browser provisions headless Chrome instances in Docker containers
package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
)

// DefaultImage is the browser container image used when none is configured
const DefaultImage = "browserless/chrome:latest"

const devtoolsPort = nat.Port("3000/tcp")

// Instance is a running browser container
type Instance struct {
	ContainerID string
	SessionID   string
	ConnectURL  string
	Port        string
}

// Pool launches and stops browser containers
type Pool struct {
	client *client.Client
	image  string
	logger *zap.Logger

	readyAttempts uint
	readyDelay    time.Duration
}

// NewPool creates a pool using the Docker daemon from the environment
func NewPool(imageName string, logger *zap.Logger) (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if imageName == "" {
		imageName = DefaultImage
	}

	return &Pool{
		client:        cli,
		image:         imageName,
		logger:        logger.Named("browser"),
		readyAttempts: 20,
		readyDelay:    500 * time.Millisecond,
	}, nil
}

// Launch starts a browser container for sessionID and waits for its
// DevTools endpoint to answer
func (p *Pool) Launch(ctx context.Context, sessionID string) (*Instance, error) {
	containerConfig := &container.Config{
		Image: p.image,
		Labels: map[string]string{
			"session-id": sessionID,
			"managed-by": "gameprobe",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",        // Disable connection timeout
			"MAX_CONCURRENT_SESSIONS=1",    // One probe session per container
			"PREBOOT_CHROME=true",          // Pre-boot Chrome for faster startup
			"KEEP_ALIVE=true",              // Keep connections alive
			"EXIT_ON_HEALTH_FAILURE=false", // Don't exit on health check failures
		},
		ExposedPorts: nat.PortSet{
			devtoolsPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			devtoolsPort: []nat.PortBinding{
				{
					HostIP:   "0.0.0.0",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
	}

	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports[devtoolsPort]
	if len(bindings) == 0 {
		p.remove(resp.ID)
		return nil, fmt.Errorf("container %s exposes no devtools port", resp.ID[:12])
	}
	port := bindings[0].HostPort

	versionURL := fmt.Sprintf("http://localhost:%s/json/version", port)
	if err := WaitReady(ctx, http.DefaultClient, versionURL, p.readyAttempts, p.readyDelay); err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	p.logger.Info("browser container ready",
		zap.String("session", sessionID),
		zap.String("container", resp.ID[:12]),
		zap.String("port", port),
	)

	return &Instance{
		ContainerID: resp.ID,
		SessionID:   sessionID,
		ConnectURL:  fmt.Sprintf("ws://localhost:%s", port),
		Port:        port,
	}, nil
}

// Stop stops and removes a container
func (p *Pool) Stop(ctx context.Context, containerID string) error {
	timeout := 10
	stopOptions := container.StopOptions{
		Timeout: &timeout,
	}

	if err := p.client.ContainerStop(ctx, containerID, stopOptions); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}

	return nil
}

// IsHealthy reports whether the container is still running
func (p *Pool) IsHealthy(ctx context.Context, containerID string) bool {
	inspect, err := p.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return false
	}
	return inspect.State.Running
}

// EnsureImage pulls the browser image unless it is present locally
func (p *Pool) EnsureImage(ctx context.Context) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == p.image {
				return nil
			}
		}
	}

	p.logger.Info("pulling browser image", zap.String("image", p.image))
	reader, err := p.client.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the Docker client
func (p *Pool) Close() error {
	return p.client.Close()
}

// remove force-removes a container that never became usable
func (p *Pool) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("failed to remove container", zap.String("container", containerID), zap.Error(err))
	}
}

func containerName(sessionID string) string {
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	return "gameprobe-" + sessionID
}

// WaitReady polls the DevTools version endpoint until it answers 200
func WaitReady(ctx context.Context, hc *http.Client, versionURL string, attempts uint, delay time.Duration) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := hc.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("%s answered %d", versionURL, resp.StatusCode)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}
