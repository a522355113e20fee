package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/cuemby/replcheck/pkg/control"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNamespace = "replcheck-test"
	testImage     = "docker.io/library/busybox:latest"
)

// startContainer runs a long sleep in a fresh busybox container and returns
// its ID. The container is removed when the test ends.
func startContainer(t *testing.T, client *containerd.Client) string {
	t.Helper()
	ctx := namespaces.WithNamespace(context.Background(), testNamespace)

	image, err := client.Pull(ctx, testImage, containerd.WithPullUnpack)
	require.NoError(t, err, "pull %s", testImage)

	id := "replcheck-" + uuid.NewString()[:8]
	container, err := client.NewContainer(ctx, id,
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(oci.WithImageConfig(image), oci.WithProcessArgs("sleep", "300")),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if task, err := container.Task(ctx, nil); err == nil {
			_, _ = task.Delete(ctx, containerd.WithProcessKill)
		}
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
	})

	task, err := container.NewTask(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, task.Start(ctx))
	return id
}

func newControl(t *testing.T, promoteArgs ...string) (*control.ContainerdControl, *containerd.Client) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping containerd test in short mode")
	}

	client, err := containerd.New(control.DefaultSocketPath, containerd.WithTimeout(2*time.Second))
	if err != nil {
		t.Skipf("Containerd not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if _, err := client.Version(context.Background()); err != nil {
		t.Skipf("Containerd not available: %v", err)
	}

	ctl, err := control.NewContainerdControl(control.ContainerdOptions{
		Namespace:   testNamespace,
		StopTimeout: 2 * time.Second,
		PromoteArgs: promoteArgs,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctl.Close() })
	return ctl, client
}

func TestContainerdStop(t *testing.T) {
	ctl, client := newControl(t)
	id := startContainer(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, ctl.Stop(ctx, id))

	container, err := client.LoadContainer(namespaces.WithNamespace(ctx, testNamespace), id)
	require.NoError(t, err)
	_, err = container.Task(namespaces.WithNamespace(ctx, testNamespace), nil)
	assert.Error(t, err, "task should be gone after stop")

	// Stopping again is a no-op
	assert.NoError(t, ctl.Stop(ctx, id))
}

func TestContainerdPromote(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
	}{
		{name: "exit zero", args: []string{"true"}},
		{name: "exit non-zero", args: []string{"sh", "-c", "echo not a standby; exit 3"}, wantCode: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl, client := newControl(t, tt.args...)
			id := startContainer(t, client)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			err := ctl.Promote(ctx, id)
			if tt.wantCode == 0 {
				assert.NoError(t, err)
				return
			}

			var cmdErr *control.CommandError
			require.True(t, errors.As(err, &cmdErr), "expected CommandError, got %v", err)
			assert.Equal(t, tt.wantCode, cmdErr.ExitCode)
			assert.Contains(t, cmdErr.Output, "not a standby")
		})
	}
}

func TestContainerdPromoteStoppedNode(t *testing.T) {
	ctl, client := newControl(t, "true")
	id := startContainer(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, ctl.Stop(ctx, id))
	assert.Error(t, ctl.Promote(ctx, id))
}
