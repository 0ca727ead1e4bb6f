package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"go.uber.org/zap"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
)

// Environment variables handed to the installer command
const (
	EnvManifest  = "DRIFTPATCH_MANIFEST"
	EnvArchive   = "DRIFTPATCH_ARCHIVE"
	EnvExtracted = "DRIFTPATCH_EXTRACTED"
)

// Handoff is what the installer needs to put a patched build in place
type Handoff struct {
	Manifest  string
	Archive   string
	Extracted string
}

// Installer performs the operating-system installation steps
type Installer interface {
	Install(ctx context.Context, h Handoff) error
}

// Confirmer asks the user to go ahead
type Confirmer func(message string) (bool, error)

// SurveyConfirm prompts on the terminal
func SurveyConfirm(message string) (bool, error) {
	ok := false
	prompt := &survey.Confirm{Message: message, Default: false}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// CommandInstaller runs an external command through the shell
type CommandInstaller struct {
	Command string
	Timeout time.Duration
	// Confirm is asked before running; nil runs without asking
	Confirm Confirmer
	Stdout  io.Writer
	Stderr  io.Writer
	Logger  *zap.Logger
}

// Install implements Installer
func (c *CommandInstaller) Install(ctx context.Context, h Handoff) error {
	if c.Command == "" {
		return engerrors.New("install", engerrors.ErrInstallFailed, "no install command configured", engerrors.Error)
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if c.Confirm != nil {
		ok, err := c.Confirm(fmt.Sprintf("Install %s with %q?", h.Archive, c.Command))
		if err != nil {
			return engerrors.Wrap("install", engerrors.ErrInstallFailed, err, "confirmation")
		}
		if !ok {
			return engerrors.New("install", engerrors.ErrSessionAborted, "installation declined", engerrors.Error)
		}
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", c.Command)
	cmd.Env = append(os.Environ(),
		EnvManifest+"="+h.Manifest,
		EnvArchive+"="+h.Archive,
		EnvExtracted+"="+h.Extracted,
	)
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr

	logger.Info("running installer", zap.String("command", c.Command), zap.String("archive", h.Archive))
	if err := cmd.Run(); err != nil {
		return engerrors.Wrap("install", engerrors.ErrInstallFailed, err, "installer %q", c.Command)
	}
	return nil
}
