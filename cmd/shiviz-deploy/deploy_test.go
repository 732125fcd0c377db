package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eteu-technologies/shiviz-deployer/internal/deploy"
)

type stubRunner struct{ calls int }

func (r *stubRunner) Run(_ context.Context, c deploy.Command) deploy.Result {
	r.calls++
	return deploy.Result{Argv: c.Argv()}
}

type stubMinifier struct{ compiled, errors string }

func (m *stubMinifier) Compile(_ context.Context, req deploy.CompileRequest) ([]byte, error) {
	if req.OutputInfo == deploy.OutputErrors {
		return []byte(m.errors), nil
	}
	return []byte(m.compiled), nil
}

type stubSyncer struct{ calls int }

func (s *stubSyncer) Sync(context.Context, string, string) deploy.SyncResult {
	s.calls++
	return deploy.SyncResult{}
}

func newTestOrchestrator(t *testing.T, minify bool, m deploy.Minifier, s deploy.Syncer) *deploy.Orchestrator {
	t.Helper()
	root := t.TempDir()
	src, dst := filepath.Join(root, "shiviz"), filepath.Join(root, "shiviz-dev")
	for p, content := range map[string]string{
		filepath.Join(src, "index.html"):        `<html><body><script src="js/dev.js"></script></body></html>`,
		filepath.Join(src, "js", "dev.js"):      "dev",
		filepath.Join(src, "js", "deployed.js"): "revision: ZZZ",
	} {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	require.NoError(t, os.MkdirAll(dst, 0o755))

	cfg := DefaultConfig()
	cfg.SourceDir = src
	cfg.Targets.Dev = dst

	return deploy.New(cfg.Options(deploy.ModeDev, minify),
		deploy.WithLogger(zaptest.NewLogger(t)),
		deploy.WithRunner(&stubRunner{}),
		deploy.WithMinifier(m),
		deploy.WithSyncer(s),
		deploy.WithRevisionReader(func(string) (deploy.Revision, error) {
			return deploy.Revision{Short: "abc1234", Branch: "master"}, nil
		}),
	)
}

func TestDeployOnceReportsMinifyDiagnostics(t *testing.T) {
	syncer := &stubSyncer{}
	orch := newTestOrchestrator(t, true, &stubMinifier{
		compiled: "too short",
		errors:   "JSC_PARSE_ERROR: js/view.js:12: Parse error. missing ; before statement",
	}, syncer)

	var out bytes.Buffer
	err := deployOnce(context.Background(), &out, orch, &notifier{})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Minification failed!")
	assert.Contains(t, out.String(), "JSC_PARSE_ERROR: js/view.js:12: Parse error. missing ; before statement")
	assert.Zero(t, syncer.calls)
}

func TestDeployOncePublishes(t *testing.T) {
	syncer := &stubSyncer{}
	orch := newTestOrchestrator(t, false, &stubMinifier{}, syncer)

	var out bytes.Buffer
	require.NoError(t, deployOnce(context.Background(), &out, orch, &notifier{}))
	assert.Empty(t, out.String())
	assert.Equal(t, 1, syncer.calls)
}
