package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driftpatch/driftpatch/internal/archive"
	"github.com/driftpatch/driftpatch/internal/catalog"
	"github.com/driftpatch/driftpatch/internal/cli/ui"
	engerrors "github.com/driftpatch/driftpatch/internal/errors"
	"github.com/driftpatch/driftpatch/internal/history"
	"github.com/driftpatch/driftpatch/internal/session"
	"github.com/driftpatch/driftpatch/internal/verify"
)

// buildFlags locate the build; they override the archive.* config keys
type buildFlags struct {
	archive      string
	sideStore    string
	extractedDir string
	catalog      string
}

func (f *buildFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.archive, "archive", "", "packed application archive (overrides archive.path)")
	cmd.Flags().StringVar(&f.sideStore, "side-store", "", "side-store directory (default <archive>.unpacked)")
	cmd.Flags().StringVar(&f.extractedDir, "extracted-dir", "", "use an already-extracted build instead of the archive")
	cmd.Flags().StringVar(&f.catalog, "catalog", "", "patch catalog (overrides catalog)")
}

// apply copies flag values over the loaded config
func (f *buildFlags) apply(g *Globals) {
	if f.archive != "" {
		g.Config.Archive.Path = f.archive
	}
	if f.sideStore != "" {
		g.Config.Archive.SideStore = f.sideStore
	}
	if f.catalog != "" {
		g.Config.Catalog = f.catalog
	}
}

func (f *buildFlags) check(g *Globals) error {
	if f.extractedDir != "" {
		return nil
	}
	return g.Config.RequireArchive()
}

func loadCatalog(g *Globals) (*catalog.Catalog, error) {
	cat, err := catalog.Load(g.Config.Catalog)
	if err != nil {
		return nil, err
	}
	g.logger().Debug("catalog loaded")
	return cat, nil
}

// codec returns the external codec when codec.command is set
func codec(g *Globals) archive.Codec {
	if g.Config.Codec.Command != "" {
		return &archive.NPXCodec{Command: g.Config.Codec.Command, Timeout: g.Config.Codec.Timeout, Unpack: g.Config.Codec.Unpack, Logger: g.logger()}
	}
	return &archive.NativeCodec{Unpack: g.Config.Codec.Unpack, Logger: g.logger()}
}

// sessionOptions maps config and flags onto orchestrator options
func sessionOptions(g *Globals, f *buildFlags, mode session.Mode) (session.Options, error) {
	threshold, err := g.Config.Threshold()
	if err != nil {
		return session.Options{}, err
	}
	backup := g.Config.Archive.Backup
	if backup == "" && g.Config.Archive.Path != "" {
		backup = g.Config.Archive.Path + ".backup"
	}
	return session.Options{
		Mode:         mode,
		ArchivePath:  g.Config.Archive.Path,
		SideStoreDir: g.Config.Archive.SideStore,
		BackupPath:   backup,
		ExtractedDir: f.extractedDir,
		WorkDir:      g.Config.WorkDir,
		ManifestPath: g.Config.Manifest.Path,
		Strict:       g.Config.Patch.Strict,
		Threshold:    threshold,
		Workers:      g.Config.Resolve.Workers,
		CacheSize:    g.Config.Resolve.CacheSize,
	}, nil
}

// sessionDeps wires the collaborators shared by every session
func sessionDeps(g *Globals) session.Deps {
	return session.Deps{
		Codec:  codec(g),
		Syntax: verify.NewTreeSitterChecker(),
		Logger: g.logger(),
	}
}

// openJournal opens the history database; failures only disable journaling
func openJournal(g *Globals) *history.Journal {
	j, err := history.Open(g.Config.History.Path)
	if err != nil {
		g.logger().Warn("history disabled: " + err.Error())
		return nil
	}
	return j
}

// signalContext is canceled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// engineErrors unpacks the engine errors carried by err
func engineErrors(err error) []engerrors.EngineError {
	var c *engerrors.Collector
	if errors.As(err, &c) {
		return c.All()
	}
	var e engerrors.EngineError
	if errors.As(err, &e) {
		return []engerrors.EngineError{e}
	}
	return nil
}

// reportFailure prints resolution diagnostics and the engine errors behind
// a failed session
func reportFailure(w io.Writer, g *Globals, s *session.Summary) {
	if s == nil {
		return
	}
	var errs []engerrors.EngineError
	if s.Resolution != nil {
		errs = append(errs, s.Resolution.Errors...)
	}
	// a failed resolution carries the same errors as the result
	var se *session.StageError
	if s.Err != nil && (len(errs) == 0 || !errors.As(s.Err, &se) || se.Stage != session.StageResolving) {
		errs = append(errs, engineErrors(s.Err)...)
	}
	ui.WriteEngineErrors(w, errs, g.NoColor)
}

func stageObserver(sp *ui.Spinner) func(session.Stage) {
	return func(st session.Stage) {
		sp.Update(fmt.Sprintf("%s...", st))
	}
}
