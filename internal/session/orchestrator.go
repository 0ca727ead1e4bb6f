// Package session sequences inspection, resolution, patching and
// verification of one build, decides commit or rollback, and hands the
// result to the installer.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/driftpatch/driftpatch/internal/archive"
	"github.com/driftpatch/driftpatch/internal/catalog"
	engerrors "github.com/driftpatch/driftpatch/internal/errors"
	"github.com/driftpatch/driftpatch/internal/patch"
	"github.com/driftpatch/driftpatch/internal/resolve"
	"github.com/driftpatch/driftpatch/internal/verify"
)

// Mode selects how far a session goes
type Mode int

const (
	// ModeFull resolves, patches, verifies and installs
	ModeFull Mode = iota
	// ModeDiscover stops after resolution and writes nothing
	ModeDiscover
	// ModeLegacy binds roles from a hand-authored manifest
	ModeLegacy
)

func (m Mode) String() string {
	switch m {
	case ModeDiscover:
		return "discover"
	case ModeLegacy:
		return "legacy"
	default:
		return "full"
	}
}

// Stage is a session state
type Stage string

const (
	StageDiscovering Stage = "discovering"
	StageResolving   Stage = "resolving"
	StagePatching    Stage = "patching"
	StageVerifying   Stage = "verifying"
	StageInstalling  Stage = "installing"
	StageDiscovered  Stage = "discovered"
	StageCommitted   Stage = "committed"
	StageRolledBack  Stage = "rolled-back"
	StageAborted     Stage = "aborted"
)

// Terminal reports whether a session can end in s
func (s Stage) Terminal() bool {
	switch s {
	case StageDiscovered, StageCommitted, StageRolledBack, StageAborted:
		return true
	}
	return false
}

// StageError is the fatal error that ended a session
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Options configures one session
type Options struct {
	Mode         Mode
	ArchivePath  string
	SideStoreDir string
	BackupPath   string
	// ExtractedDir is a build that is already extracted; nothing is
	// extracted when it is set
	ExtractedDir string
	WorkDir      string
	ManifestPath string
	// LegacyManifest is read in ModeLegacy
	LegacyManifest string
	// OutputPath receives the repacked archive
	OutputPath  string
	DryRun      bool
	SkipInstall bool
	Strict      bool
	// Threshold overrides the catalog's pass threshold
	Threshold *verify.Threshold
	Workers   int
	CacheSize int
}

// Journal records finished sessions
type Journal interface {
	Record(ctx context.Context, s *Summary) error
}

// Deps are the collaborators of a session
type Deps struct {
	Codec     archive.Codec
	Syntax    verify.SyntaxChecker
	Installer Installer
	Journal   Journal
	Logger    *zap.Logger
	// Observer is told about every stage transition
	Observer func(Stage)
	Now      func() time.Time
}

// Summary is everything a session produced
type Summary struct {
	ID          string
	Mode        Mode
	DryRun      bool
	Stage       Stage
	Version     string
	Fingerprint string
	Extracted   string
	Output      string
	Resolution  *resolve.Result
	Manifest    *Manifest
	Records     []*patch.Record
	Unbound     []patch.Outcome
	Report      *verify.Report
	Threshold   verify.Threshold
	Started     time.Time
	Finished    time.Time
	Err         error
}

// Outcomes returns every spec outcome, unbound ones included
func (s *Summary) Outcomes() []patch.Outcome {
	out := append([]patch.Outcome(nil), s.Unbound...)
	for _, r := range s.Records {
		out = append(out, r.Outcomes...)
	}
	return out
}

// Orchestrator runs sessions for one catalog
type Orchestrator struct {
	cat  *catalog.Catalog
	opts Options
	deps Deps
	log  *zap.Logger
}

// New creates an Orchestrator
func New(cat *catalog.Catalog, opts Options, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Orchestrator{cat: cat, opts: opts, deps: deps, log: deps.Logger}
}

// Run executes one session. The returned summary is never nil; the error
// is a *StageError naming the stage that failed.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	s := &Summary{
		ID:      uuid.NewString(),
		Mode:    o.opts.Mode,
		DryRun:  o.opts.DryRun,
		Started: o.deps.Now(),
	}
	o.log = o.deps.Logger.With(zap.String("session", s.ID))

	err := o.run(ctx, s)
	s.Finished = o.deps.Now()
	if err != nil {
		s.Err = err
		if ctx.Err() != nil {
			s.Stage = StageAborted
		}
		if !s.Stage.Terminal() {
			s.Stage = StageAborted
		}
	}
	o.log.Info("session finished", zap.String("stage", string(s.Stage)), zap.Duration("duration", s.Finished.Sub(s.Started)), zap.Error(err))

	if o.deps.Journal != nil && s.Mode != ModeDiscover {
		if jerr := o.deps.Journal.Record(context.WithoutCancel(ctx), s); jerr != nil {
			o.log.Warn("session not journaled", zap.Error(jerr))
		}
	}
	return s, err
}

func (o *Orchestrator) enter(s *Summary, stage Stage) {
	s.Stage = stage
	o.log.Debug("entering stage", zap.String("stage", string(stage)))
	if o.deps.Observer != nil {
		o.deps.Observer(stage)
	}
}

func fail(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

func (o *Orchestrator) run(ctx context.Context, s *Summary) error {
	o.enter(s, StageDiscovering)
	tree, err := o.discover(ctx, s)
	if err != nil {
		return fail(StageDiscovering, err)
	}
	if s.Version, err = tree.Version(); err != nil {
		return fail(StageDiscovering, err)
	}
	if s.Fingerprint, err = tree.Fingerprint(); err != nil {
		return fail(StageDiscovering, err)
	}
	if err := ctx.Err(); err != nil {
		return fail(StageDiscovering, err)
	}

	o.enter(s, StageResolving)
	res, err := o.resolve(ctx, tree)
	s.Resolution = res
	if err != nil {
		return fail(StageResolving, err)
	}
	if err := fatalResolution(res); err != nil {
		return fail(StageResolving, err)
	}
	if s.Manifest, err = NewManifest(tree, res, o.opts.ArchivePath, s.ID, s.Started); err != nil {
		return fail(StageResolving, err)
	}
	s.Manifest.Catalog = o.cat.Name
	if o.opts.Mode == ModeDiscover {
		s.Stage = StageDiscovered
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fail(StageResolving, err)
	}

	o.enter(s, StagePatching)
	plan := o.cat.Bind(res)
	s.Unbound = plan.Unbound
	store := o.store(tree, s)
	applier := patch.NewApplier(store, patch.Options{Strict: o.opts.Strict, Syntax: o.deps.Syntax, Logger: o.log})
	s.Records = o.patch(ctx, applier, plan)
	// cancellation keeps committed artifacts; only the manifest is withheld
	if err := ctx.Err(); err != nil {
		return fail(StagePatching, err)
	}

	o.enter(s, StageVerifying)
	s.Threshold = plan.Threshold
	if o.opts.Threshold != nil {
		s.Threshold = *o.opts.Threshold
	}
	s.Report = verify.NewVerifier(o.deps.Syntax, o.log).Verify(ctx, store, plan.Assertions)
	for _, u := range plan.Unverifiable {
		s.Report.Fail(u.Assertion, u.Reason)
	}
	if err := ctx.Err(); err != nil {
		return fail(StageVerifying, err)
	}
	if !s.Report.Meets(s.Threshold) {
		o.restore(applier, s)
		s.Stage = StageRolledBack
		return fail(StageVerifying, engerrors.New("verify", engerrors.ErrThresholdNotMet,
			fmt.Sprintf("%d of %d assertions passed, %d required", s.Report.Passed, s.Report.Total, s.Threshold.Required(s.Report.Total)),
			engerrors.Error))
	}
	s.Manifest.Verified = true

	if o.opts.DryRun {
		s.Stage = StageCommitted
		return nil
	}

	o.enter(s, StageInstalling)
	if err := o.commit(ctx, s, tree); err != nil {
		return fail(StageInstalling, err)
	}
	s.Stage = StageCommitted
	return nil
}

// discover maps the build. Dry runs and discovery read the container in
// place; full runs back it up and extract the pristine copy.
func (o *Orchestrator) discover(ctx context.Context, s *Summary) (*archive.Tree, error) {
	sideStore := o.opts.SideStoreDir
	if sideStore == "" && o.opts.ArchivePath != "" {
		sideStore = o.opts.ArchivePath + archive.SideStoreSuffix
	}

	if o.opts.ExtractedDir != "" {
		if _, err := os.Stat(sideStore); err != nil {
			sideStore = ""
		}
		s.Extracted = o.opts.ExtractedDir
		return archive.InspectDir(o.opts.ExtractedDir, sideStore)
	}
	if o.opts.ArchivePath == "" {
		return nil, engerrors.New("archive", engerrors.ErrArchiveIO, "no archive or extracted directory configured", engerrors.Fatal)
	}

	source := o.opts.ArchivePath
	if o.opts.BackupPath != "" {
		if _, err := os.Stat(o.opts.BackupPath); err == nil {
			source = o.opts.BackupPath
		}
	}
	if o.opts.Mode == ModeDiscover || o.opts.DryRun {
		return archive.Inspect(source, archive.Options{SideStoreDir: sideStore})
	}

	if o.opts.BackupPath != "" {
		created, err := archive.EnsureBackup(o.opts.ArchivePath, o.opts.BackupPath)
		if err != nil {
			return nil, err
		}
		if created {
			o.log.Info("pristine backup written", zap.String("backup", o.opts.BackupPath))
		}
		source = o.opts.BackupPath
	}
	tree, err := archive.Inspect(source, archive.Options{SideStoreDir: sideStore})
	if err != nil {
		return nil, err
	}

	dest := filepath.Join(o.opts.WorkDir, "extracted")
	if err := os.RemoveAll(dest); err != nil {
		return nil, engerrors.Wrap("archive", engerrors.ErrArchiveIO, err, "clear %s", dest)
	}
	src, release, err := archive.PristineSource(o.opts.ArchivePath, o.opts.BackupPath)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := o.deps.Codec.ExtractAll(ctx, src, dest); err != nil {
		return nil, err
	}
	s.Extracted = dest
	return tree.Attach(dest)
}

func (o *Orchestrator) resolve(ctx context.Context, tree *archive.Tree) (*resolve.Result, error) {
	if o.opts.Mode == ModeLegacy {
		m, err := LoadManifest(o.opts.LegacyManifest)
		if err != nil {
			return nil, err
		}
		if err := m.Validate(tree); err != nil {
			return nil, err
		}
		return m.Result(tree), nil
	}
	r := resolve.New(resolve.Options{Workers: o.opts.Workers, CacheSize: o.opts.CacheSize, Logger: o.log})
	return r.Resolve(ctx, tree, o.cat.ResolverRoles())
}

// fatalResolution reports every resolution error once any is fatal
func fatalResolution(res *resolve.Result) error {
	for _, e := range res.Errors {
		if e.IsError() {
			return res.Err()
		}
	}
	return nil
}

func (o *Orchestrator) store(tree *archive.Tree, s *Summary) patch.Store {
	var base patch.Store = TreeStore{Tree: tree}
	if s.Extracted != "" {
		base = patch.NewDirStore(s.Extracted)
	}
	if o.opts.DryRun {
		return patch.NewOverlayStore(base)
	}
	return base
}

// patch applies each target sequentially, targets in parallel
func (o *Orchestrator) patch(ctx context.Context, applier *patch.Applier, plan *catalog.Plan) []*patch.Record {
	records := make([]*patch.Record, len(plan.Targets))
	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, t := range plan.Targets {
		g.Go(func() error {
			records[i] = applier.Apply(ctx, t.Target, t.Specs)
			return nil
		})
	}
	_ = g.Wait()
	return records
}

func (o *Orchestrator) restore(applier *patch.Applier, s *Summary) {
	if o.opts.DryRun {
		return
	}
	for _, rec := range s.Records {
		if err := applier.Restore(context.Background(), rec); err != nil {
			o.log.Error("restore failed", zap.String("artifact", rec.Artifact), zap.Error(err))
		}
	}
}

// commit persists the manifest, repacks the build and hands off to the
// installer. Files the build side-stores stay side-stored in the output.
func (o *Orchestrator) commit(ctx context.Context, s *Summary, tree *archive.Tree) error {
	manifestPath := o.opts.ManifestPath
	if manifestPath == "" {
		manifestPath = filepath.Join(o.opts.WorkDir, "manifest.json")
	}
	if err := s.Manifest.Save(manifestPath); err != nil {
		return err
	}

	if o.opts.ArchivePath != "" || o.opts.OutputPath != "" {
		s.Output = o.opts.OutputPath
		if s.Output == "" {
			s.Output = filepath.Join(o.opts.WorkDir, filepath.Base(o.opts.ArchivePath))
		}
		var sideStored []string
		for _, n := range tree.SideStored() {
			sideStored = append(sideStored, n.Rel())
		}
		if err := o.deps.Codec.PackAll(ctx, s.Extracted, s.Output, sideStored...); err != nil {
			return err
		}
		o.log.Info("build repacked", zap.String("output", s.Output), zap.Int("side_stored", len(sideStored)))
	}

	if o.opts.SkipInstall || o.deps.Installer == nil {
		return nil
	}
	return o.deps.Installer.Install(ctx, Handoff{Manifest: manifestPath, Archive: s.Output, Extracted: s.Extracted})
}
