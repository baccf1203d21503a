package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, []string{"judge1", "judge2"}, cfg.JudgeIDs())
	assert.Equal(t, 0.3, cfg.Generation.Temperature)
	assert.Equal(t, 8000, cfg.Limits.GenerationPaperChars)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(Options{Getenv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "cfg.yaml", `
data_dir: runs/exp1
seed: 7
concurrency: 4
generation:
  provider: anthropic
  model: claude-3-5-sonnet-latest
  temperature: 0.5
  max_tokens: 2000
judges:
  - id: solo
    provider: openai
    model: gpt-4o
    temperature: 0
    max_tokens: 600
limits:
  sample_size: 10
retry:
  max_attempts: 5
  initial_interval: 500ms
  requests_per_minute: 30
log:
  level: debug
  format: json
`)
	cfg, err := Load(Options{Path: path, Getenv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, "runs/exp1", cfg.DataDir)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, Model{Provider: "anthropic", Model: "claude-3-5-sonnet-latest", Temperature: 0.5, MaxTokens: 2000}, cfg.Generation)
	require.Len(t, cfg.Judges, 1)
	assert.Equal(t, "solo", cfg.Judges[0].ID)
	assert.Equal(t, "openai", cfg.Judges[0].Provider)
	assert.Equal(t, 10, cfg.Limits.SampleSize)
	assert.Equal(t, 1500, cfg.Limits.MinPaperChars, "unset fields keep defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, 30.0, cfg.Retry.RequestsPerMinute)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, filepath.Join("runs/exp1", "judgments", "judgments_solo.jsonl"), cfg.JudgmentsPath("solo"))
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(Options{Path: filepath.Join(t.TempDir(), "nope.yaml"), Getenv: noEnv})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_UnknownField(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "seeed: 3\n")
	_, err := Load(Options{Path: path, Getenv: noEnv})
	assert.ErrorContains(t, err, "seeed")
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "")
	cfg, err := Load(Options{Path: path, Getenv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "seed: 7\ndata_dir: from-file\n")
	env := map[string]string{"PEERJUDGE_SEED": "9", "PEERJUDGE_DATA_DIR": "from-env", "PEERJUDGE_CONCURRENCY": "3"}
	dir := "from-flag"
	cfg, err := Load(Options{
		Path:      path,
		Getenv:    func(k string) string { return env[k] },
		Overrides: Overrides{DataDir: &dir},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), cfg.Seed, "env beats file")
	assert.Equal(t, "from-flag", cfg.DataDir, "flag beats env")
	assert.Equal(t, 3, cfg.Concurrency)
}

func TestLoad_BadEnvValue(t *testing.T) {
	env := map[string]string{"PEERJUDGE_SEED": "forty-two"}
	_, err := Load(Options{Path: writeFile(t, "c.yaml", ""), Getenv: func(k string) string { return env[k] }})
	assert.ErrorContains(t, err, "PEERJUDGE_SEED")
}

func TestLoad_EnvFile(t *testing.T) {
	const key = "PEERJUDGE_GEN_MODEL"
	t.Cleanup(func() { os.Unsetenv(key) })
	envFile := writeFile(t, "test.env", key+"=mistral/mistral-large\n")
	cfg, err := Load(Options{Path: writeFile(t, "c.yaml", ""), EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "mistral/mistral-large", cfg.Generation.Model)
}

func TestLoad_ExplicitMissingEnvFile(t *testing.T) {
	_, err := Load(Options{Path: writeFile(t, "c.yaml", ""), EnvFile: filepath.Join(t.TempDir(), "missing.env"), Getenv: noEnv})
	assert.Error(t, err)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Concurrency = 0
	cfg.Generation.Provider = "carrier-pigeon"
	cfg.Judges = append(cfg.Judges, Judge{ID: "judge1", Model: cfg.Judges[0].Model})
	cfg.Judges[0].MaxTokens = 0
	cfg.Limits.SampleSize = -1
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"concurrency", "generation.provider", "duplicated", "judges[0].max_tokens", "limits.sample_size", "log.level"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestValidate_JudgeIDMustBeFileSafe(t *testing.T) {
	cfg := Default()
	cfg.Judges[0].ID = "../judge"
	assert.ErrorContains(t, cfg.Validate(), "judges[0].id")
}
