package patch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
	"github.com/driftpatch/driftpatch/internal/verify"
)

// Target identifies the artifact a group of specs applies to
type Target struct {
	Role     string
	Artifact string
}

// Outcome is the result of one spec
type Outcome struct {
	SpecID   string          `json:"spec"`
	Status   Status          `json:"status"`
	Err      error           `json:"-"`
	Change   *Change         `json:"change,omitempty"`
	Failures []verify.Result `json:"failures,omitempty"`
	Reverted bool            `json:"reverted,omitempty"`
}

// Error returns the outcome's error message, if any
func (o Outcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Record is the patch history of one artifact in one session
type Record struct {
	Role         string               `json:"role"`
	Artifact     string               `json:"artifact"`
	Outcomes     []Outcome            `json:"outcomes"`
	State        State                `json:"state"`
	SyntaxIssues []verify.SyntaxIssue `json:"syntax_issues,omitempty"`
	Err          error                `json:"-"`
	Duration     time.Duration        `json:"duration"`

	snapshot []byte
}

// Changes returns the changes still in effect on the artifact
func (r *Record) Changes() []Change {
	var out []Change
	for _, o := range r.Outcomes {
		if o.Change != nil && !o.Reverted {
			out = append(out, *o.Change)
		}
	}
	return out
}

// Count returns how many outcomes have status
func (r *Record) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Failed reports whether any spec did not take effect
func (r *Record) Failed() bool {
	for _, o := range r.Outcomes {
		if !o.Status.Succeeded() {
			return true
		}
	}
	return r.Err != nil
}

// Errors returns the engine errors raised while patching the artifact
func (r *Record) Errors() []engerrors.EngineError {
	var out []engerrors.EngineError
	loc := engerrors.Location{Role: r.Role, Artifact: r.Artifact}
	add := func(err error, spec string) {
		if err == nil {
			return
		}
		l := loc
		l.Spec = spec
		e, ok := err.(engerrors.EngineError)
		if !ok {
			e = engerrors.Wrap("patch", engerrors.ErrReplacementFailed, err, "patch failed")
		}
		out = append(out, e.At(l).WithDefaultSuggestion())
	}
	for _, o := range r.Outcomes {
		add(o.Err, o.SpecID)
	}
	add(r.Err, "")
	return out
}

// Options configures an Applier
type Options struct {
	// Strict rolls an artifact back when any of its specs fails
	Strict bool
	// Syntax validates each modified artifact; nil disables the check
	Syntax verify.SyntaxChecker
	Logger *zap.Logger
}

// Applier applies specs to artifacts held in a Store
type Applier struct {
	store  Store
	strict bool
	syntax verify.SyntaxChecker
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewApplier creates an Applier writing through store
func NewApplier(store Store, opts Options) *Applier {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{
		store:  store,
		strict: opts.Strict,
		syntax: opts.Syntax,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (a *Applier) lock(artifact string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[artifact]
	if !ok {
		l = &sync.Mutex{}
		a.locks[artifact] = l
	}
	return l
}

// Apply runs specs against the target artifact in order. The artifact is
// held exclusively for the whole call. On return the artifact is either
// unchanged, carries every applied spec, or has been restored to its
// pre-call snapshot.
func (a *Applier) Apply(ctx context.Context, target Target, specs []Spec) *Record {
	l := a.lock(target.Artifact)
	l.Lock()
	defer l.Unlock()

	start := time.Now()
	rec := &Record{Role: target.Role, Artifact: target.Artifact, State: StateUnchanged}
	defer func() { rec.Duration = time.Since(start) }()

	log := a.logger.With(zap.String("role", target.Role), zap.String("artifact", target.Artifact))

	data, err := a.store.Read(ctx, target.Artifact)
	if err != nil {
		rec.Err = engerrors.Wrap("patch", engerrors.ErrReplacementFailed, err, "read artifact")
		for _, s := range specs {
			rec.Outcomes = append(rec.Outcomes, Outcome{SpecID: s.ID, Status: StatusFailed})
		}
		return rec
	}
	current := string(data)
	statuses := make(map[string]Status, len(specs))

	for i, s := range specs {
		if err := ctx.Err(); err != nil {
			for _, rest := range specs[i:] {
				rec.Outcomes = append(rec.Outcomes, Outcome{SpecID: rest.ID, Status: StatusFailed, Err: err})
			}
			break
		}

		out, next := a.applyOne(ctx, s, current, statuses)
		if out.Status == StatusApplied {
			if rec.snapshot == nil {
				rec.snapshot = []byte(current)
			}
			if err := a.store.Write(ctx, target.Artifact, []byte(next)); err != nil {
				out = Outcome{SpecID: s.ID, Status: StatusFailed, Err: engerrors.Wrap("patch", engerrors.ErrReplacementFailed, err, "write artifact")}
			} else {
				current = next
			}
		}
		statuses[s.ID] = out.Status
		rec.Outcomes = append(rec.Outcomes, out)
		log.Debug("spec evaluated", zap.String("spec", s.ID), zap.String("status", string(out.Status)), zap.Error(out.Err))
	}

	if rec.snapshot == nil {
		return rec
	}

	syntaxFailed := false
	if a.syntax != nil {
		issues, err := a.syntax.Check(ctx, target.Artifact, []byte(current))
		switch {
		case err != nil:
			rec.Err = engerrors.Wrap("verify", engerrors.ErrSyntaxValidation, err, "syntax check")
			syntaxFailed = true
		case len(issues) > 0:
			rec.SyntaxIssues = issues
			rec.Err = engerrors.New("verify", engerrors.ErrSyntaxValidation,
				fmt.Sprintf("%d syntax issue(s) after patching, first at %s", len(issues), issues[0]), engerrors.Error)
			syntaxFailed = true
		}
	}

	if a.strict && (syntaxFailed || rec.Failed()) {
		a.rollback(ctx, rec, log)
		return rec
	}

	rec.State = StateCommitted
	log.Info("artifact patched", zap.Int("applied", rec.Count(StatusApplied)), zap.Int("already_applied", rec.Count(StatusAlreadyApplied)))
	return rec
}

func (a *Applier) applyOne(ctx context.Context, s Spec, current string, statuses map[string]Status) (Outcome, string) {
	out := Outcome{SpecID: s.ID}

	if s.Invalid != nil {
		out.Status = StatusUnresolved
		out.Err = engerrors.Wrap("patch", engerrors.ErrSpecUnresolved, s.Invalid, "spec cannot be bound")
		return out, current
	}
	for _, dep := range s.After {
		if st, ok := statuses[dep]; !ok || !st.Succeeded() {
			out.Status = StatusBlocked
			out.Err = engerrors.New("patch", engerrors.ErrDependencyFailed,
				fmt.Sprintf("prerequisite %q did not apply", dep), engerrors.Error)
			return out, current
		}
	}
	if s.IsApplied(current) {
		out.Status = StatusAlreadyApplied
		return out, current
	}

	span, err := s.Anchor.Find(current)
	if err != nil {
		out.Err = err
		switch engerrors.CodeOf(err) {
		case engerrors.ErrAnchorNotFound:
			out.Status = StatusAnchorNotFound
		case engerrors.ErrAmbiguousMatch:
			out.Status = StatusAmbiguousMatch
		default:
			out.Status = StatusFailed
		}
		return out, current
	}

	replacement, err := s.replacement(current[span.Start:span.End])
	if err != nil {
		out.Status = StatusFailed
		out.Err = engerrors.Wrap("patch", engerrors.ErrReplacementFailed, err, "compute replacement")
		return out, current
	}

	var sb strings.Builder
	sb.Grow(len(current) - (span.End - span.Start) + len(replacement))
	sb.WriteString(current[:span.Start])
	sb.WriteString(replacement)
	sb.WriteString(current[span.End:])
	next := sb.String()

	for _, as := range s.Assertions {
		if r := verify.Check(ctx, a.syntax, as, []byte(next)); !r.Passed {
			out.Failures = append(out.Failures, r)
		}
	}
	if len(out.Failures) > 0 {
		out.Status = StatusFailedVerification
		out.Err = engerrors.New("patch", engerrors.ErrAssertionFailed,
			fmt.Sprintf("%d assertion(s) failed after replacement: %s", len(out.Failures), out.Failures[0].Detail), engerrors.Error)
		return out, current
	}

	change := newChange(current, span, replacement)
	out.Status = StatusApplied
	out.Change = &change
	return out, next
}

// Restore puts a committed artifact back to its pre-session snapshot. The
// session uses it when verification misses its threshold.
func (a *Applier) Restore(ctx context.Context, rec *Record) error {
	if rec.State != StateCommitted || rec.snapshot == nil {
		return nil
	}
	l := a.lock(rec.Artifact)
	l.Lock()
	defer l.Unlock()

	a.rollback(ctx, rec, a.logger.With(zap.String("role", rec.Role), zap.String("artifact", rec.Artifact)))
	if rec.State != StateRolledBack {
		return rec.Err
	}
	return nil
}

func (a *Applier) rollback(ctx context.Context, rec *Record, log *zap.Logger) {
	if err := a.store.Write(context.WithoutCancel(ctx), rec.Artifact, rec.snapshot); err != nil {
		rec.Err = engerrors.Wrap("patch", engerrors.ErrReplacementFailed, err, "restore snapshot")
		log.Error("rollback failed", zap.Error(err))
		return
	}
	for i := range rec.Outcomes {
		if rec.Outcomes[i].Status == StatusApplied {
			rec.Outcomes[i].Reverted = true
		}
	}
	rec.State = StateRolledBack
	log.Warn("artifact rolled back", zap.Error(rec.Err))
}
