// Package container drives ephemeral worker containers on behalf of
// spawn_worker actions, generalizing a one-shot exec sandbox into a
// handle the scheduler's health-check job can query for liveness across
// an agent loop's lifetime.
//
// Grounded verbatim on internal/tools/docker.go's use of
// docker/docker/client, reshaped from "run a command, wait for exit,
// return output" into "start, stop, restart, list unhealthy" against
// long-running containers tracked by spawn id.
package container

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

const spawnLabel = "agentcore.spawn_id"

// Manager owns the Docker client and the image/resource defaults every
// worker container is launched with.
type Manager struct {
	client      *client.Client
	image       string
	memoryMB    int64
	networkMode string
	workspace   string
}

// NewManager builds a Manager. image/memoryMB/networkMode default to
// golang:alpine, 512MB, and "none" respectively.
func NewManager(image string, memoryMB int64, networkMode, workspace string) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("container: docker client: %w", err)
	}
	if image == "" {
		image = "golang:alpine"
	}
	if memoryMB <= 0 {
		memoryMB = 512
	}
	if networkMode == "" {
		networkMode = "none"
	}
	return &Manager{
		client:      cli,
		image:       image,
		memoryMB:    memoryMB * 1024 * 1024,
		networkMode: networkMode,
		workspace:   workspace,
	}, nil
}

// Start launches a detached container tagged with spawnID and returns its
// container id without waiting for completion — the caller (the agent
// loop's spawn_worker dispatch) persists that id on the WorkerSpawn record
// and polls status via the store, not by blocking here.
func (m *Manager) Start(ctx context.Context, spawnID, cmd string) (containerID string, err error) {
	resp, err := m.client.ContainerCreate(ctx, &container.Config{
		Image:      m.image,
		Cmd:        []string{"sh", "-c", cmd},
		WorkingDir: "/workspace",
		Tty:        false,
		Labels:     map[string]string{spawnLabel: spawnID},
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory: m.memoryMB,
		},
		NetworkMode: container.NetworkMode(m.networkMode),
		Binds:       bindsFor(m.workspace),
	}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("container: create: %w", err)
	}
	if err := m.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container: start %s: %w", resp.ID, err)
	}
	return resp.ID, nil
}

func bindsFor(workspace string) []string {
	if workspace == "" {
		return nil
	}
	return []string{fmt.Sprintf("%s:/workspace", workspace)}
}

// Stop stops and removes a container (worker spawn finished or was killed).
func (m *Manager) Stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := m.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("container: stop %s: %w", containerID, err)
	}
	if err := m.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("container: remove %s: %w", containerID, err)
	}
	return nil
}

// Restart restarts a container in place.
func (m *Manager) Restart(ctx context.Context, containerID string) error {
	timeout := 10
	if err := m.client.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("container: restart %s: %w", containerID, err)
	}
	return nil
}

// ListUnhealthy returns the spawn ids of every agentcore-managed container
// that is no longer running (exited, dead, or otherwise not "running"),
// for the scheduler's health-check job to reconcile against the store.
func (m *Manager) ListUnhealthy(ctx context.Context) ([]string, error) {
	listFilters := filters.NewArgs()
	listFilters.Add("label", spawnLabel)

	containers, err := m.client.ContainerList(ctx, container.ListOptions{All: true, Filters: listFilters})
	if err != nil {
		return nil, fmt.Errorf("container: list: %w", err)
	}

	var unhealthy []string
	for _, c := range containers {
		if c.State == "running" {
			continue
		}
		if spawnID, ok := c.Labels[spawnLabel]; ok {
			unhealthy = append(unhealthy, spawnID)
		}
	}
	return unhealthy, nil
}

// Close closes the docker client.
func (m *Manager) Close() error {
	return m.client.Close()
}
