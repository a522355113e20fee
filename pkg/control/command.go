package control

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const maxOutputBytes = 64 * 1024 // 64KB

// NodePlaceholder is replaced by the node identity in command arguments
const NodePlaceholder = "{node}"

// DefaultCommandTimeout bounds a single control command
const DefaultCommandTimeout = 2 * time.Minute

// Command is an argv run for one action, with optional standard input
type Command struct {
	Args  []string
	Stdin string
}

// NodeCommands holds the commands for one node. A nil Command falls back to
// the CommandControl default.
type NodeCommands struct {
	Stop    *Command
	Promote *Command
}

// CommandError reports a control command that could not run or exited
// non-zero
type CommandError struct {
	Action   string
	Node     string
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: %q", e.Action, e.Node, strings.Join(e.Args, " "))
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" exited with code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// CommandControl runs external commands such as "docker stop" or an
// operator's promotion script.
type CommandControl struct {
	DefaultStop    Command
	DefaultPromote Command
	Nodes          map[string]NodeCommands
	Timeout        time.Duration
	Dir            string
}

// NewCommandControl creates a CommandControl that stops nodes with
// "docker stop {node}" and promotes with the given command
func NewCommandControl(promote Command) *CommandControl {
	return &CommandControl{
		DefaultStop:    Command{Args: []string{"docker", "stop", NodePlaceholder}},
		DefaultPromote: promote,
		Nodes:          make(map[string]NodeCommands),
		Timeout:        DefaultCommandTimeout,
	}
}

func (c *CommandControl) Stop(ctx context.Context, node string) error {
	cmd := c.DefaultStop
	if nc, ok := c.Nodes[node]; ok && nc.Stop != nil {
		cmd = *nc.Stop
	}
	_, err := c.run(ctx, ActionStop, node, cmd)
	return err
}

func (c *CommandControl) Promote(ctx context.Context, node string) error {
	cmd := c.DefaultPromote
	if nc, ok := c.Nodes[node]; ok && nc.Promote != nil {
		cmd = *nc.Promote
	}
	_, err := c.run(ctx, ActionPromote, node, cmd)
	return err
}

func (c *CommandControl) run(ctx context.Context, action, node string, command Command) (string, error) {
	if len(command.Args) == 0 {
		return "", &CommandError{Action: action, Node: node, Err: errors.New("no command configured")}
	}

	args := make([]string, len(command.Args))
	for i, a := range command.Args {
		args[i] = strings.ReplaceAll(a, NodePlaceholder, node)
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.Dir
	if command.Stdin != "" {
		cmd.Stdin = strings.NewReader(command.Stdin)
	}

	out, err := cmd.CombinedOutput()
	output := string(out)
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n... (output truncated at 64KB)"
	}

	if err != nil {
		cerr := &CommandError{Action: action, Node: node, Args: args, Output: output, Err: err}
		if ctx.Err() == context.DeadlineExceeded {
			cerr.Err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cerr.ExitCode = exitErr.ExitCode()
		}
		return output, cerr
	}

	return output, nil
}
