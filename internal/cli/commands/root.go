package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/driftpatch/driftpatch/internal/cli/config"
	engerrors "github.com/driftpatch/driftpatch/internal/errors"
	"github.com/driftpatch/driftpatch/internal/logging"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// Globals holds the state shared by every command of one invocation
type Globals struct {
	ConfigPath string
	Verbose    bool
	NoColor    bool
	JSON       bool

	Config *config.Config
	Logger *zap.Logger
}

// logger returns the configured logger, or a no-op one before setup
func (g *Globals) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

// writeJSON prints v indented when --json is set
func (g *Globals) writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// loadGlobals reads the configuration and builds the logger
func loadGlobals(g *Globals) error {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return err
	}
	g.Config = cfg
	g.Logger, err = logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Verbose: g.Verbose,
	})
	return err
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	g := &Globals{}

	rootCmd := &cobra.Command{
		Use:   "driftpatch",
		Short: "Version-independent patching of packaged application builds",
		Long: color.CyanString(`driftpatch - version-independent patch engine

driftpatch applies a catalog of source patches to a packaged application
build whose internal names change from release to release. It finds each
artifact by what it contains, binds renamed identifiers by how they are
used, applies every patch atomically, verifies the result and hands the
patched build to an installer.

Typical flow:
  driftpatch discover            # see which artifact plays which role
  driftpatch apply --dry-run     # preview the patches as diffs
  driftpatch apply               # patch, verify, repack, install
  driftpatch history drift       # what moved since the last release`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.NoColor {
				color.NoColor = true
			}
			return loadGlobals(g)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.Logger != nil {
				_ = g.Logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.ConfigPath, "config", "", "config file (default ./driftpatch.yml)")
	flags.BoolVarP(&g.Verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&g.NoColor, "no-color", false, "disable colored output")
	flags.BoolVar(&g.JSON, "json", false, "print machine-readable JSON")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewDiscoverCommand(g))
	rootCmd.AddCommand(NewApplyCommand(g))
	rootCmd.AddCommand(NewVerifyCommand(g))
	rootCmd.AddCommand(NewHistoryCommand(g))
	rootCmd.AddCommand(NewWatchCommand(g))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the driftpatch version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			w := cmd.OutOrStdout()
			titleColor := color.New(color.FgCyan, color.Bold)
			valueColor := color.New(color.FgWhite)

			titleColor.Fprint(w, "driftpatch version: ")
			valueColor.Fprintln(w, Version)

			titleColor.Fprint(w, "Git commit: ")
			valueColor.Fprintln(w, GitCommit)

			titleColor.Fprint(w, "Build date: ")
			valueColor.Fprintln(w, BuildDate)

			titleColor.Fprint(w, "Go version: ")
			valueColor.Fprintln(w, goVer)
		},
	}
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return ExitCode(err)
	}
	return 0
}

// ExitCode maps an error to a process exit code: 2 for invalid input, 3
// for a verification miss, 1 otherwise
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case engerrors.HasCode(err, engerrors.ErrCatalogInvalid), engerrors.HasCode(err, engerrors.ErrManifestInvalid),
		engerrors.HasCode(err, engerrors.ErrManifestStale):
		return 2
	case engerrors.HasCode(err, engerrors.ErrThresholdNotMet):
		return 3
	default:
		return 1
	}
}
