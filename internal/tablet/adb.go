// Package tablet talks to the Android tablet app over adb.
package tablet

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/hwrsync/pkg/models"
)

// Executor runs a host command and returns its combined output.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecExecutor runs commands with os/exec.
type ExecExecutor struct{}

// Run implements Executor.
func (ExecExecutor) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, bytes.TrimSpace(out))
	}
	return out, nil
}

// Options configures an ADB client.
type Options struct {
	Path     string // adb binary, default "adb"
	Serial   string // device serial, empty for the only attached device
	Action   string // broadcast action the app listens on
	DocsRoot string // on-device root of trial documents
	Executor Executor
}

// ADB sends phase commands as broadcasts and reads trial documents with
// adb shell.
type ADB struct {
	path     string
	serial   string
	action   string
	docsRoot string
	exec     Executor
}

var trialFileRe = regexp.MustCompile(`^trial_(\d+)\.json$`)

// NewADB returns an adb-backed tablet client.
func NewADB(opts Options) *ADB {
	if opts.Path == "" {
		opts.Path = "adb"
	}
	if opts.Action == "" {
		opts.Action = "com.handwriting.ACTION_MSG"
	}
	if opts.DocsRoot == "" {
		opts.DocsRoot = "/storage/emulated/0/Documents"
	}
	if opts.Executor == nil {
		opts.Executor = ExecExecutor{}
	}
	return &ADB{
		path:     opts.Path,
		serial:   opts.Serial,
		action:   opts.Action,
		docsRoot: opts.DocsRoot,
		exec:     opts.Executor,
	}
}

// TrialPath returns the on-device path of a trial document.
func (a *ADB) TrialPath(subjectID, sessionID string, runID, trialID int) string {
	return path.Join(a.docsRoot, subjectID, sessionID, strconv.Itoa(runID), fmt.Sprintf("trial_%d.json", trialID))
}

func (a *ADB) runDir(subjectID, sessionID string, runID int) string {
	return path.Join(a.docsRoot, subjectID, sessionID, strconv.Itoa(runID))
}

// Send broadcasts cmd to the tablet app.
func (a *ADB) Send(ctx context.Context, cmd models.PhaseCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return &TransportError{Op: "send", Err: fmt.Errorf("encode command: %w", err)}
	}

	_, err = a.run(ctx, "shell", "am", "broadcast", "-a", a.action, "--es", "payload", shellQuote(string(payload)))
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	log.Debug().
		Str("phase", string(cmd.Trial.Phase)).
		Int("run_id", cmd.RunID).
		Int("trial_id", cmd.Trial.TrialID).
		Msg("Tablet command sent")
	return nil
}

// ReadTrial fetches and decodes a trial document. Raw holds the file verbatim.
func (a *ADB) ReadTrial(ctx context.Context, subjectID, sessionID string, runID, trialID int) (*models.TabletTrial, error) {
	p := a.TrialPath(subjectID, sessionID, runID, trialID)
	if err := a.exists(ctx, p); err != nil {
		return nil, err
	}

	out, err := a.run(ctx, "shell", "cat", shellQuote(p))
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	return DecodeTrial(out)
}

// ListTrials returns the trial ids present for a run, ascending.
// A missing run directory yields an empty list.
func (a *ADB) ListTrials(ctx context.Context, subjectID, sessionID string, runID int) ([]int, error) {
	dir := a.runDir(subjectID, sessionID, runID)
	out, err := a.run(ctx, "shell", "ls -1 "+shellQuote(dir)+" 2>/dev/null || true")
	if err != nil {
		return nil, &TransportError{Op: "list", Err: err}
	}
	return parseTrialList(out), nil
}

// PullTrial copies a trial document into destDir and returns the local path.
func (a *ADB) PullTrial(ctx context.Context, subjectID, sessionID string, runID, trialID int, destDir string) (string, error) {
	p := a.TrialPath(subjectID, sessionID, runID, trialID)
	if err := a.exists(ctx, p); err != nil {
		return "", err
	}
	if err := os.MkdirAll(destDir, 0750); err != nil {
		return "", fmt.Errorf("create %s: %w", destDir, err)
	}

	local := filepath.Join(destDir, path.Base(p))
	if _, err := a.run(ctx, "pull", p, local); err != nil {
		return "", &TransportError{Op: "pull", Err: err}
	}
	return local, nil
}

func (a *ADB) exists(ctx context.Context, p string) error {
	out, err := a.run(ctx, "shell", "test -f "+shellQuote(p)+" && echo EXISTS || echo MISSING")
	if err != nil {
		return &TransportError{Op: "stat", Err: err}
	}
	if !bytes.Contains(out, []byte("EXISTS")) {
		return fmt.Errorf("%s: %w", p, ErrTrialNotFound)
	}
	return nil
}

func (a *ADB) run(ctx context.Context, args ...string) ([]byte, error) {
	if a.serial != "" {
		args = append([]string{"-s", a.serial}, args...)
	}
	return a.exec.Run(ctx, a.path, args...)
}

// DecodeTrial parses a tablet trial document and keeps the raw bytes.
func DecodeTrial(data []byte) (*models.TabletTrial, error) {
	raw := bytes.TrimSpace(data)
	var trial models.TabletTrial
	if err := json.Unmarshal(raw, &trial); err != nil {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("decode trial: %w", err)}
	}
	trial.Raw = append([]byte(nil), raw...)
	return &trial, nil
}

func parseTrialList(out []byte) []int {
	var ids []int
	for _, line := range strings.Split(string(out), "\n") {
		m := trialFileRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// shellQuote quotes s for the device shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
