package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/cuemby/replcheck/pkg/events"
	"github.com/cuemby/replcheck/pkg/health"
	"github.com/cuemby/replcheck/pkg/inspect"
	"github.com/cuemby/replcheck/pkg/types"
)

const (
	markPass = "✓"
	markFail = "✗"
	markInfo = "•"
)

// Reporter writes progress and summary lines for humans. It never decides
// anything: pass and fail come from the outcomes it is given.
type Reporter struct {
	mu     sync.Mutex
	w      io.Writer
	styles styles

	passed   int
	failed   int
	failures []string
}

// New creates a reporter writing to w
func New(w io.Writer) *Reporter {
	return &Reporter{
		w:      w,
		styles: newStyles(lipgloss.NewRenderer(w)),
	}
}

// Subscribe prints check outcomes and failover transitions as they are
// published. The returned function unsubscribes.
func (r *Reporter) Subscribe(bus *events.Bus) func() {
	return bus.Subscribe(func(e *events.Event) {
		switch e.Type {
		case events.EventCheckFinished:
			if e.Outcome != nil {
				r.Outcome(*e.Outcome)
			}
		case events.EventFailoverTransition:
			if e.Transition != nil {
				r.Transition(*e.Transition)
			}
		}
	})
}

func (r *Reporter) println(s string) {
	fmt.Fprintln(r.w, s)
}

// Title prints a heading
func (r *Reporter) Title(title string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.println(r.styles.title.Render(title))
	r.println(r.styles.dimText.Render(strings.Repeat("=", len([]rune(title)))))
}

// Step announces the next phase of a run
func (r *Reporter) Step(n int, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.println("")
	r.println(r.styles.step.Render(fmt.Sprintf("Step %d: %s", n, title)))
}

// Info prints an informational line
func (r *Reporter) Info(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.println("  " + r.styles.dimText.Render(markInfo) + " " + fmt.Sprintf(format, args...))
}

// Outcome prints one check outcome and counts it for the summary. A failing
// outcome is followed by expected, observed and elapsed.
func (r *Reporter) Outcome(o types.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	head := fmt.Sprintf("%s on %s", o.Check, o.Endpoint)
	detail := fmt.Sprintf("%s after %d %s, %s", o.Status, o.Attempts, plural(o.Attempts, "attempt"), round(o.Elapsed))

	if o.OK() {
		r.passed++
		r.println(fmt.Sprintf("  %s %s %s", r.styles.pass.Render(markPass), head, r.styles.dimText.Render("("+detail+")")))
		return
	}

	r.failed++
	r.failures = append(r.failures, fmt.Sprintf("%s: %s", head, o.Status))

	r.println(fmt.Sprintf("  %s %s %s", r.styles.fail.Render(markFail), head, r.styles.fail.Render("("+detail+")")))
	r.println(fmt.Sprintf("      expected: %v", o.Expected))
	if o.Observation != nil {
		r.println(fmt.Sprintf("      observed: %v", o.Observation.Value))
	} else {
		r.println("      observed: nothing")
	}
	if o.Cause != nil {
		r.println(fmt.Sprintf("      cause:    %v", o.Cause))
	}
}

// Transition prints a failover state change
func (r *Reporter) Transition(tr types.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := fmt.Sprintf("  %s %s -> %s", r.styles.dimText.Render("»"), tr.From, tr.To)
	if tr.Reason != "" {
		line += ": " + r.styles.warn.Render(tr.Reason)
	}
	r.println(line)
}

// Health prints the result of a liveness check
func (r *Reporter) Health(name string, res health.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mark := r.styles.pass.Render(markPass)
	if !res.Healthy {
		mark = r.styles.fail.Render(markFail)
	}
	r.println(fmt.Sprintf("  %s %s: %s", mark, name, res.Message))
}

// Primary prints the standbys and slots a primary reports
func (r *Reporter) Primary(s *inspect.PrimaryStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.println(fmt.Sprintf("  %s replication:", s.Endpoint))
	if len(s.Clients) == 0 {
		r.println("    " + r.styles.warn.Render("no standby connected"))
	}
	for _, c := range s.Clients {
		r.println(fmt.Sprintf("    client %s app=%s state=%s sync=%s", c.Addr, c.Application, c.State, c.SyncState))
	}

	if len(s.Slots) == 0 {
		r.println("    no replication slots")
	}
	for _, sl := range s.Slots {
		state := "active"
		if !sl.Active {
			state = r.styles.warn.Render("inactive")
		}
		r.println(fmt.Sprintf("    slot %s type=%s %s lsn=%s", sl.Name, sl.Type, state, orDash(sl.RestartLSN)))
	}
}

// Replica prints a standby's recovery state and progress
func (r *Reporter) Replica(s *inspect.ReplicaStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !s.InRecovery {
		r.println(fmt.Sprintf("  %s recovery: %s", s.Endpoint, r.styles.fail.Render("no (not a standby)")))
		return
	}
	r.println(fmt.Sprintf("  %s recovery: yes", s.Endpoint))
	r.println(fmt.Sprintf("    wal received=%s replayed=%s", orDash(s.ReceiveLSN), orDash(s.ReplayLSN)))
	if s.ReplayLag == nil {
		r.println("    replay lag: unknown (nothing replayed yet)")
	} else {
		r.println(fmt.Sprintf("    replay lag: %s", round(*s.ReplayLag)))
	}
}

// Run prints the summary of a failover drill
func (r *Reporter) Run(run *types.FailoverRun) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.println("")
	r.println(r.styles.step.Render("Failover summary"))
	r.println(fmt.Sprintf("  run:      %s", run.ID))
	r.println(fmt.Sprintf("  state:    %s", r.state(run)))
	if run.Reason != "" && !run.Succeeded() {
		r.println(fmt.Sprintf("  reason:   %s", run.Reason))
	}
	if run.Promoted != "" {
		r.println(fmt.Sprintf("  promoted: %s", run.Promoted))
	}
	if run.PrePrimary.Counts != nil {
		r.println(fmt.Sprintf("  before:   %s", run.PrePrimary))
	}
	if run.Post.Counts != nil {
		r.println(fmt.Sprintf("  after:    %s", run.Post))
	}
	if run.Promoted != "" {
		r.println("  " + r.styles.dimText.Render("The old primary remains stopped to prevent split brain."))
	}
}

func (r *Reporter) state(run *types.FailoverRun) string {
	if run.Succeeded() {
		return r.styles.pass.Render(string(run.State))
	}
	return r.styles.fail.Render(string(run.State))
}

// Summary prints the totals and reports whether every check passed
func (r *Reporter) Summary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.println("")
	total := r.passed + r.failed
	if r.failed == 0 {
		r.println(r.styles.pass.Render(fmt.Sprintf("%s %d/%d checks passed", markPass, r.passed, total)))
		return true
	}

	r.println(r.styles.fail.Render(fmt.Sprintf("%s %d/%d checks failed", markFail, r.failed, total)))
	for _, f := range r.failures {
		r.println("  - " + f)
	}
	return false
}

// Failed reports whether any failing outcome has been printed
func (r *Reporter) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed > 0
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
