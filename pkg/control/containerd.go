package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/cuemby/replcheck/pkg/log"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

const (
	// DefaultNamespace is the containerd namespace the database containers
	// run in
	DefaultNamespace = "default"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// DefaultStopTimeout is the grace period between SIGTERM and SIGKILL
	DefaultStopTimeout = 10 * time.Second
)

// DefaultPromoteArgs promotes a standby in the official postgres image
var DefaultPromoteArgs = []string{"gosu", "postgres", "pg_ctl", "promote", "-D", "/var/lib/postgresql/data"}

// ContainerdControl stops and promotes nodes running as containerd
// containers. The node identity is the container ID.
type ContainerdControl struct {
	client      *containerd.Client
	namespace   string
	stopTimeout time.Duration
	promoteArgs []string
	logger      zerolog.Logger
}

// ContainerdOptions configures NewContainerdControl
type ContainerdOptions struct {
	SocketPath  string
	Namespace   string
	StopTimeout time.Duration
	PromoteArgs []string
}

// NewContainerdControl connects to containerd
func NewContainerdControl(opts ContainerdOptions) (*ContainerdControl, error) {
	if opts.SocketPath == "" {
		opts.SocketPath = DefaultSocketPath
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if len(opts.PromoteArgs) == 0 {
		opts.PromoteArgs = DefaultPromoteArgs
	}

	client, err := containerd.New(opts.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdControl{
		client:      client,
		namespace:   opts.Namespace,
		stopTimeout: opts.StopTimeout,
		promoteArgs: opts.PromoteArgs,
		logger:      log.WithComponent("containerd"),
	}, nil
}

// Close closes the containerd client connection
func (r *ContainerdControl) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Stop terminates the node's task: SIGTERM, then SIGKILL once the stop
// timeout has passed. A container without a task is already stopped.
func (r *ContainerdControl) Stop(ctx context.Context, node string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", node, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		if err := taskLookupErr(node, err); err != nil {
			return err
		}
		r.logger.Debug().Str("node", node).Msg("Container has no task, already stopped")
		return nil
	}

	// Subscribe to the exit before signalling so it cannot be missed
	statusC, err := task.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	if err := task.Kill(ctx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	if err := awaitExit(ctx, statusC, r.stopTimeout); errors.Is(err, errExitTimeout) {
		r.logger.Warn().Str("node", node).Dur("timeout", r.stopTimeout).Msg("Task ignored SIGTERM, sending SIGKILL")
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
		if err := awaitExit(ctx, statusC, r.stopTimeout); err != nil {
			return fmt.Errorf("task of %s after SIGKILL: %w", node, err)
		}
	} else if err != nil {
		return err
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	return nil
}

// Promote runs the promote command inside the node's running task and
// fails unless it exits zero.
func (r *ContainerdControl) Promote(ctx context.Context, node string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", node, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return fmt.Errorf("container %s is not running: %w", node, err)
	}

	spec, err := container.Spec(ctx)
	if err != nil {
		return fmt.Errorf("failed to load spec of %s: %w", node, err)
	}
	if spec.Process == nil {
		return fmt.Errorf("container %s has no process spec", node)
	}

	// Inherit env, user and capabilities from the container's main process
	base := spec.Process
	pspec := &specs.Process{
		Args:            r.promoteArgs,
		Env:             base.Env,
		User:            base.User,
		Cwd:             "/",
		Capabilities:    base.Capabilities,
		NoNewPrivileges: base.NoNewPrivileges,
	}

	var out lockedBuffer
	execID := "replcheck-promote-" + uuid.NewString()[:8]
	process, err := task.Exec(ctx, execID, pspec, cio.NewCreator(cio.WithStreams(nil, &out, &out)))
	if err != nil {
		return fmt.Errorf("failed to exec promote in %s: %w", node, err)
	}
	defer func() { _, _ = process.Delete(ctx) }()

	statusC, err := process.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for promote: %w", err)
	}

	if err := process.Start(ctx); err != nil {
		return fmt.Errorf("failed to start promote: %w", err)
	}

	var status containerd.ExitStatus
	select {
	case status = <-statusC:
	case <-ctx.Done():
		_ = process.Kill(context.WithoutCancel(ctx), syscall.SIGKILL)
		return ctx.Err()
	}
	// Output is copied from the fifos asynchronously
	if pio := process.IO(); pio != nil {
		pio.Wait()
	}

	code, _, err := status.Result()
	if err != nil {
		return fmt.Errorf("promote in %s: %w", node, err)
	}
	if code != 0 {
		return &CommandError{
			Action:   ActionPromote,
			Node:     node,
			Args:     r.promoteArgs,
			ExitCode: int(code),
			Output:   out.String(),
		}
	}

	r.logger.Debug().Str("node", node).Str("output", strings.TrimSpace(out.String())).Msg("Promote finished")
	return nil
}

// taskLookupErr maps a failed task lookup. A missing task means the
// container is already stopped; any other error is returned.
func taskLookupErr(node string, err error) error {
	if errdefs.IsNotFound(err) {
		return nil
	}
	return fmt.Errorf("failed to load task of %s: %w", node, err)
}

// errExitTimeout is returned by awaitExit when the task outlives the timeout
var errExitTimeout = errors.New("task did not exit in time")

// awaitExit waits for the task exit, the timeout or the context
func awaitExit(ctx context.Context, statusC <-chan containerd.ExitStatus, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-statusC:
		return nil
	case <-timer.C:
		return errExitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockedBuffer collects stdout and stderr written from separate goroutines
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if b.buf.Len()+n > maxOutputBytes {
		p = p[:max(0, maxOutputBytes-b.buf.Len())]
	}
	b.buf.Write(p)
	return n, nil
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
