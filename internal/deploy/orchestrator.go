package deploy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type MinifyOptions struct {
	Enabled         bool
	Endpoint        string
	Timeout         time.Duration
	CodeBaseURL     string
	LocalScriptsDir string
	ScriptsDir      string
	DevMarker       string
	// Output is slash-separated and relative to the destination; the entry
	// HTML references it verbatim.
	Output  string
	MinSize int
}

type Options struct {
	Mode      Mode
	SourceDir string
	DestDir   string

	// DocGen is the documentation generator argv; the destination is
	// appended as its last argument.
	DocGen []string

	EntryHTML           string
	DevScriptRef        string
	DeployedScriptRef   string
	DeployedScript      string
	RevisionPlaceholder string
	SweepPatterns       []string
	CommitMessage       string

	Minify MinifyOptions
}

// Report describes what a run did. Published is false when the run stopped
// before committing.
type Report struct {
	Mode          Mode
	Source        string
	Destination   string
	Revision      Revision
	Swept         []SweepResult
	Minified      bool
	MinifyFailure *MinifyError
	Published     bool
	Sync          SyncResult
	Duration      time.Duration
}

// Orchestrator performs one deployment of the source tree into the
// destination repository.
type Orchestrator struct {
	opts     Options
	logger   *zap.Logger
	runner   Runner
	minifier Minifier
	syncer   Syncer
	revision func(dir string) (Revision, error)
}

type OrchestratorOption func(*Orchestrator)

func WithLogger(logger *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithRunner(r Runner) OrchestratorOption {
	return func(o *Orchestrator) { o.runner = r }
}

func WithMinifier(m Minifier) OrchestratorOption {
	return func(o *Orchestrator) { o.minifier = m }
}

func WithSyncer(s Syncer) OrchestratorOption {
	return func(o *Orchestrator) { o.syncer = s }
}

func WithRevisionReader(fn func(dir string) (Revision, error)) OrchestratorOption {
	return func(o *Orchestrator) { o.revision = fn }
}

func New(opts Options, options ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		opts:     opts,
		logger:   zap.L(),
		revision: ReadRevision,
	}
	for _, opt := range options {
		opt(o)
	}

	o.logger = o.logger.With(zap.String("mode", string(opts.Mode)), zap.String("dest", opts.DestDir))
	if o.runner == nil {
		o.runner = NewExecRunner(o.logger)
	}
	if o.syncer == nil {
		o.syncer = &GitSync{Runner: o.runner, Logger: o.logger}
	}
	if o.minifier == nil {
		o.minifier = &ClosureClient{Endpoint: opts.Minify.Endpoint, Timeout: opts.Minify.Timeout}
	}
	return o
}

func (o *Orchestrator) Options() Options {
	return o.opts
}

// Run deploys once. A rejected minification ends the run early with a nil
// error and an unpublished report.
func (o *Orchestrator) Run(ctx context.Context) (report *Report, err error) {
	start := time.Now()
	report = &Report{
		Mode:        o.opts.Mode,
		Source:      o.opts.SourceDir,
		Destination: o.opts.DestDir,
	}
	defer func() { report.Duration = time.Since(start) }()

	if err = o.validate(); err != nil {
		return
	}

	o.logger.Info("deploying", zap.String("from", o.opts.SourceDir), zap.Bool("minify", o.opts.Minify.Enabled))

	if err = ClearDir(o.opts.DestDir); err != nil {
		err = fmt.Errorf("failed to clear destination: %w", err)
		return
	}

	if err = CopyTree(o.opts.SourceDir, o.opts.DestDir); err != nil {
		err = fmt.Errorf("failed to copy source: %w", err)
		return
	}

	if o.opts.Minify.Enabled {
		scripts := filepath.Join(o.opts.DestDir, filepath.FromSlash(o.opts.Minify.ScriptsDir))
		if cerr := ClearDir(scripts); cerr != nil && !errors.Is(cerr, fs.ErrNotExist) {
			err = fmt.Errorf("failed to strip script sources: %w", cerr)
			return
		}
	}

	if len(o.opts.DocGen) > 0 {
		cmd := Command{
			Dir:  o.opts.SourceDir,
			Name: o.opts.DocGen[0],
			Args: append(append([]string{}, o.opts.DocGen[1:]...), o.opts.DestDir),
		}
		if res := o.runner.Run(ctx, cmd); !res.Success() {
			err = &ExternalToolError{Step: "documentation generator", Result: res}
			return
		}
	}

	rev, rerr := o.revision(o.opts.SourceDir)
	if rerr != nil {
		err = &ExternalToolError{Step: "revision lookup", Result: Result{ExitCode: -1, Err: rerr}}
		return
	}
	report.Revision = rev
	o.logger.Info("captured revision", zap.String("revision", rev.Short), zap.String("branch", rev.Branch))

	for _, pattern := range o.opts.SweepPatterns {
		sr := Sweep(o.opts.DestDir, pattern)
		if sr.Err != nil {
			o.logger.Warn("sweep incomplete", zap.String("pattern", pattern), zap.Error(sr.Err))
		}
		if len(sr.Removed) > 0 {
			o.logger.Info("swept files", zap.String("pattern", pattern), zap.Strings("removed", sr.Removed))
		}
		report.Swept = append(report.Swept, sr)
	}

	if o.opts.Minify.Enabled {
		var ok bool
		if ok, err = o.minify(ctx, rev, report); err != nil || !ok {
			return
		}
	} else if err = o.stampDeployed(rev); err != nil {
		return
	}

	report.Sync = o.syncer.Sync(ctx, o.opts.DestDir, o.opts.CommitMessage)
	if !report.Sync.OK() {
		o.logger.Warn("publishing did not complete cleanly")
	}
	report.Published = true

	o.logger.Info("done", zap.String("revision", rev.Short), zap.Duration("in", time.Since(start)))
	return
}

func (o *Orchestrator) validate() error {
	if err := requireDir(o.opts.DestDir, "deployment dir is not where it is expected"); err != nil {
		return err
	}
	if err := requireDir(o.opts.SourceDir, "source dir is not where it is expected"); err != nil {
		return err
	}

	src, err := filepath.Abs(o.opts.SourceDir)
	if err != nil {
		return &ConfigurationError{Path: o.opts.SourceDir, Reason: err.Error()}
	}
	dst, err := filepath.Abs(o.opts.DestDir)
	if err != nil {
		return &ConfigurationError{Path: o.opts.DestDir, Reason: err.Error()}
	}
	if rel, err := filepath.Rel(src, dst); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return &ConfigurationError{Path: o.opts.DestDir, Reason: "deployment dir must not be inside the source dir"}
	}
	return nil
}

func requireDir(dir, reason string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return &ConfigurationError{Path: dir, Reason: reason}
	}
	if !info.IsDir() {
		return &ConfigurationError{Path: dir, Reason: "not a directory"}
	}
	return nil
}

func (o *Orchestrator) minify(ctx context.Context, rev Revision, report *Report) (ok bool, err error) {
	m := o.opts.Minify

	urls, err := CodeURLs(o.opts.SourceDir, m.LocalScriptsDir, m.ScriptsDir, m.DevMarker, m.CodeBaseURL, rev.Branch)
	if err != nil {
		err = fmt.Errorf("failed to list script sources: %w", err)
		return
	}

	o.logger.Info("minifying, please wait", zap.Int("sources", len(urls)))
	data, err := o.minifier.Compile(ctx, CompileRequest{CodeURLs: urls, OutputInfo: OutputCompiledCode})
	var statusErr *StatusError
	if err != nil && !(errors.As(err, &statusErr) && len(data) < m.MinSize) {
		err = fmt.Errorf("minification failed: %w", err)
		return
	}
	err = nil
	o.logger.Info("minified", zap.Int("size", len(data)))

	if len(data) < m.MinSize {
		diag, derr := o.minifier.Compile(ctx, CompileRequest{CodeURLs: urls, OutputInfo: OutputErrors})
		if derr != nil {
			diag = []byte(derr.Error())
		}
		report.MinifyFailure = &MinifyError{Size: len(data), Diagnostics: string(diag)}
		o.logger.Error("minification failed", zap.Error(report.MinifyFailure), zap.String("diagnostics", string(diag)))
		return
	}

	bundle := StampRevision(string(data), o.opts.RevisionPlaceholder, rev.Short)
	out := filepath.Join(o.opts.DestDir, filepath.FromSlash(m.Output))
	if err = os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		err = fmt.Errorf("failed to create bundle dir: %w", err)
		return
	}
	if err = os.WriteFile(out, []byte(bundle), 0o644); err != nil {
		err = fmt.Errorf("failed to write bundle: %w", err)
		return
	}

	entry := filepath.Join(o.opts.DestDir, filepath.FromSlash(o.opts.EntryHTML))
	if _, err = RewriteFile(entry, func(html string) string {
		return InlineBundle(html, path.Clean(m.Output))
	}); err != nil {
		err = fmt.Errorf("failed to rewrite %s: %w", o.opts.EntryHTML, err)
		return
	}

	report.Minified = true
	ok = true
	return
}

func (o *Orchestrator) stampDeployed(rev Revision) (err error) {
	entry := filepath.Join(o.opts.DestDir, filepath.FromSlash(o.opts.EntryHTML))
	if _, err = RewriteFile(entry, func(html string) string {
		return ReplaceScriptRef(html, o.opts.DevScriptRef, o.opts.DeployedScriptRef)
	}); err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", o.opts.EntryHTML, err)
	}

	script := filepath.Join(o.opts.DestDir, filepath.FromSlash(o.opts.DeployedScript))
	changed, err := RewriteFile(script, func(text string) string {
		return StampRevision(text, o.opts.RevisionPlaceholder, rev.Short)
	})
	if err != nil {
		return fmt.Errorf("failed to stamp %s: %w", o.opts.DeployedScript, err)
	}
	if !changed {
		o.logger.Warn("revision placeholder not found", zap.String("file", o.opts.DeployedScript), zap.String("placeholder", o.opts.RevisionPlaceholder))
	}
	return nil
}
