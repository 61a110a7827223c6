package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-engine/internal/config"
	"docqa-engine/internal/infra/api"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	doc := fmt.Sprintf(`database:
  driver: sqlite
  sqlite_path: %s
ai:
  default_provider: noop
http:
  jwt_secret: test-secret
`, filepath.Join(dir, "jobs.db"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--env", filepath.Join(t.TempDir(), "missing.env")))
	err := root.Execute()
	return out.String(), err
}

func TestSubmitStatusList(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "submit", "-c", cfg, "--conversation", "c1", "--client", "acme", "--text", "What is the span?")
	require.NoError(t, err, out)
	var submitted struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &submitted))
	assert.Equal(t, "queued", submitted.Status)

	out, err = run(t, "status", "-c", cfg, submitted.JobID)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"client_id": "acme"`)
	assert.Contains(t, out, `"model_name": "gemini-3-flash-preview"`)

	out, err = run(t, "list", "-c", cfg, "--conversation", "c1")
	require.NoError(t, err, out)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, submitted.JobID, listed[0]["job_id"])

	_, err = run(t, "list", "-c", cfg, "--status", "paused")
	assert.Error(t, err)
}

func TestSubmit_RequiresFlags(t *testing.T) {
	_, err := run(t, "submit", "-c", writeConfig(t), "--client", "acme")
	assert.Error(t, err)
}

func TestStatus_Unknown(t *testing.T) {
	_, err := run(t, "status", "-c", writeConfig(t), "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.Error(t, err)
}

func TestReclaim_NothingStale(t *testing.T) {
	out, err := run(t, "reclaim", "-c", writeConfig(t))
	require.NoError(t, err, out)
	assert.Contains(t, out, `"reclaimed": 0`)
}

func TestToken(t *testing.T) {
	cfgPath := writeConfig(t)
	out, err := run(t, "token", "-c", cfgPath, "--client", "acme")
	require.NoError(t, err, out)

	cfg, err := config.LoadConfig(cfgPath, false)
	require.NoError(t, err)
	id, err := api.NewAuthenticator(cfg.HTTP.JWTSecret, 0).Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "acme", id)
}
