package quality

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/msageha/orchestra/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRules = `
schema_version: "1.0.0"
rules:
  - name: Test Coverage
    source:
      context_key: test_coverage
    severity: warning
    threshold: 85
    comparison: ">="
  - name: Lint
    source:
      evaluator: lint
    severity: error
    threshold: 0
    comparison: "=="
    message: lint findings present
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoader_LoadFromBytes(t *testing.T) {
	loader := NewLoader(".")

	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid rules",
			yaml:    validRules,
			wantErr: false,
		},
		{
			name: "missing schema version",
			yaml: `
rules:
  - name: r
    source: {context_key: x}
    severity: error
    threshold: 1
`,
			wantErr: true,
			errMsg:  "schema_version is required",
		},
		{
			name: "unsupported schema version",
			yaml: `
schema_version: "2.0.0"
rules: []
`,
			wantErr: true,
			errMsg:  "unsupported schema version",
		},
		{
			name: "invalid severity",
			yaml: `
schema_version: "1.0.0"
rules:
  - name: r
    source: {context_key: x}
    severity: critical
    threshold: 1
`,
			wantErr: true,
			errMsg:  "invalid severity",
		},
		{
			name: "unknown field",
			yaml: `
schema_version: "1.0.0"
rules:
  - name: r
    check_function: x
    severity: error
    threshold: 1
`,
			wantErr: true,
			errMsg:  "parse YAML",
		},
		{
			name: "malformed yaml",
			yaml: `
schema_version: "1.0.0"
rules: [
`,
			wantErr: true,
			errMsg:  "parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := loader.LoadFromBytes([]byte(tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRule)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			require.Len(t, rules, 2)
			assert.Equal(t, FromContext("test_coverage"), rules[0].Source)
			assert.Equal(t, FromEvaluator("lint"), rules[1].Source)
			assert.Equal(t, CompareEQ, rules[1].Comparison)
			assert.Equal(t, "lint findings present", rules[1].Message)
		})
	}
}

func TestLoader_LoadRules_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), validRules)
	writeFile(t, filepath.Join(dir, "nested", "b.yml"), `
schema_version: "1.0.0"
rules:
  - name: Latency
    source: {context_key: avg_response_time}
    severity: error
    threshold: 200
    comparison: "<="
`)
	writeFile(t, filepath.Join(dir, "README.md"), "not rules")

	rules, err := NewLoader(dir).LoadRules()
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "Test Coverage", rules[0].Name)
	assert.Equal(t, "Lint", rules[1].Name)
	assert.Equal(t, "Latency", rules[2].Name)
}

func TestLoader_LoadRules_MissingDir(t *testing.T) {
	rules, err := NewLoader(filepath.Join(t.TempDir(), "absent")).LoadRules()
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoader_LoadRules_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), validRules)
	writeFile(t, filepath.Join(dir, "b.yaml"), validRules)

	_, err := NewLoader(dir).LoadRules()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.Contains(t, err.Error(), "duplicate rule name")
}

func TestEngine_LoadRules_RejectsWholeSet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), validRules)
	writeFile(t, filepath.Join(dir, "b.yaml"), `
schema_version: "1.0.0"
rules:
  - name: ""
    source: {context_key: x}
    severity: error
    threshold: 1
`)

	e := NewEngine(Options{Logger: logging.Discard()})
	require.NoError(t, e.AddRule(coverageRule()))

	n, err := e.LoadRules(dir)
	require.Error(t, err)
	assert.Zero(t, n)
	require.Len(t, e.Rules(), 1)
	assert.Equal(t, "cov", e.Rules()[0].Name)

	require.NoError(t, os.Remove(filepath.Join(dir, "b.yaml")))
	n, err = e.LoadRules(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "Test Coverage", e.Rules()[0].Name)
}

func TestEngine_LoadRules_EmptyDirUsesFallback(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(Options{Logger: logging.Discard(), FallbackRules: DefaultRules()})
	require.NoError(t, e.AddRule(coverageRule()))

	n, err := e.LoadRules(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, DefaultRules(), e.Rules())

	n, err = NewEngine(Options{}).LoadRules(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(Options{Logger: logging.Discard()})

	reloads := make(chan error, 10)
	w := NewWatcher(dir, e, logging.Discard())
	w.debounce = 10 * time.Millisecond
	w.onReload = func(count int, err error) { reloads <- err }

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	writeFile(t, filepath.Join(dir, "rules.yaml"), validRules)
	require.Eventually(t, func() bool { return len(e.Rules()) == 2 }, 5*time.Second, 10*time.Millisecond)

	writeFile(t, filepath.Join(dir, "rules.yaml"), "schema_version: \"9\"\n")
	deadline := time.After(5 * time.Second)
	for failed := false; !failed; {
		select {
		case err := <-reloads:
			failed = err != nil
		case <-deadline:
			t.Fatal("timed out waiting for failed reload")
		}
	}
	assert.Len(t, e.Rules(), 2, "previous rules kept")
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "rules"), NewEngine(Options{}), nil)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
