package storetest

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Container starts image with the given exposed port and returns the
// host:port it is reachable on. The container is terminated on cleanup.
func Container(t *testing.T, image, port string, env map[string]string, cmd []string, waitFor wait.Strategy) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{port + "/tcp"},
		Env:          env,
		Cmd:          cmd,
		WaitingFor:   waitFor,
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("container %s unavailable: %v", image, err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port+"/tcp"))
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return net.JoinHostPort(host, mapped.Port())
}
