package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/lumos/internal/state"
	"github.com/user/lumos/internal/usecase"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ANALYZER_MODE", "mock")
	t.Setenv("MOCK_DELAY_MS", "0")
	if os.Getenv("SETTINGS_FILE") == "" {
		t.Setenv("SETTINGS_FILE", filepath.Join(dir, "settings.yaml"))
	}

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env", filepath.Join(dir, "missing.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestScanWritesAnnotatedHTML(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "page.html")
	out := filepath.Join(dir, "annotated.html")
	require.NoError(t, os.WriteFile(in, []byte(
		`<html><body><div id="productDetail"><img src="/img/linen-shirt.jpg" alt="" width="400" height="900"></div></body></html>`,
	), 0o600))

	stdout, err := execute(t, "scan", in, "--page-url", "https://shop.example/p/9", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "https://shop.example/img/linen-shirt.jpg")
	assert.Contains(t, stdout, "completed")
	assert.Contains(t, stdout, "Succeeded: 1")

	rendered, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(rendered), "linen shirt")
	assert.Contains(t, string(rendered), `data-lumos-processed="true"`)
}

func TestScanMissingFile(t *testing.T) {
	_, err := execute(t, "scan", filepath.Join(t.TempDir(), "absent.html"))
	assert.Error(t, err)
}

func TestSettingsSetThenGet(t *testing.T) {
	t.Setenv("SETTINGS_FILE", filepath.Join(t.TempDir(), "settings.yaml"))

	stdout, err := execute(t, "settings", "set", "--auto-analyze=false")
	require.NoError(t, err)
	assert.Contains(t, stdout, "autoAnalyze:  false")

	stdout, err = execute(t, "settings", "get")
	require.NoError(t, err)
	assert.Contains(t, stdout, "enabled:      true")
	assert.Contains(t, stdout, "autoAnalyze:  false")
}

func TestSettingsSetNeedsAFlag(t *testing.T) {
	_, err := execute(t, "settings", "set")
	assert.ErrorContains(t, err, "nothing to change")
}

func TestPrintStates(t *testing.T) {
	var out bytes.Buffer
	printStates(&out, []state.ImageState{
		{URL: "https://img.example/a.jpg", Status: state.StatusCompleted, AltText: "Navy linen shirt", UpdatedAt: time.Now()},
		{URL: "https://img.example/b.jpg", Status: state.StatusError, LastError: "upstream timeout", UpdatedAt: time.Now()},
	}, usecase.PipelineStats{Requested: 2, Succeeded: 1, Failed: 1, UniqueURLs: 2})

	s := out.String()
	assert.Contains(t, s, "Navy linen shirt")
	assert.Contains(t, s, "upstream timeout")
	assert.Contains(t, s, "Failed: 1")
}

func TestPrintStatesEmpty(t *testing.T) {
	var out bytes.Buffer
	printStates(&out, nil, usecase.PipelineStats{})
	assert.Contains(t, out.String(), "No candidate images found")
}
