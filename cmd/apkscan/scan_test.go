package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/apkscan/internal/config"
	"github.com/steveyegge/apkscan/internal/plugin"
	"github.com/steveyegge/apkscan/internal/plugin/builtin"
	"github.com/steveyegge/apkscan/internal/scanner"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestBuildRegistry_Defaults(t *testing.T) {
	r, err := buildRegistry(config.Default(), discardLogger())
	require.NoError(t, err)

	assert.Contains(t, r.List(plugin.CategoryManifest), builtin.ExportedComponentsName)
	assert.Contains(t, r.List(plugin.CategoryManifest), "debuggable")
	assert.Contains(t, r.List(plugin.CategoryCrypto), "ecb_mode")
}

func TestBuildRegistry_WithoutBundledRules(t *testing.T) {
	cfg := config.Default()
	cfg.BuiltinRules = false

	r, err := buildRegistry(cfg, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestBuildRegistry_Directories(t *testing.T) {
	rulesDir := t.TempDir()
	write(t, filepath.Join(rulesDir, "intent", "implicit_service.yaml"), `
requires_api: v1.0.0
rules:
  - id: implicit
    title: Implicit service intent
    severity: warning
    regex: 'bindService\('
`)

	cfg := config.Default()
	cfg.RulesDirs = []string{rulesDir, filepath.Join(t.TempDir(), "missing")}
	cfg.PluginDirs = []string{filepath.Join(t.TempDir(), "missing")}

	r, err := buildRegistry(cfg, discardLogger())
	require.NoError(t, err)
	assert.Contains(t, r.List(plugin.CategoryIntent), "implicit_service")
}

func TestBuildRegistry_Collision(t *testing.T) {
	rulesDir := t.TempDir()
	write(t, filepath.Join(rulesDir, "manifest", "debuggable.yaml"), "rules: []\n")

	cfg := config.Default()
	cfg.RulesDirs = []string{rulesDir}

	_, err := buildRegistry(cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

const appManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.app">
    <uses-sdk android:minSdkVersion="21" android:targetSdkVersion="30" />
    <application android:debuggable="true" android:allowBackup="false">
    </application>
</manifest>
`

const cryptoSource = `package com.example.app;

class Crypto {
    Cipher cipher() throws Exception {
        return Cipher.getInstance("AES/ECB/PKCS5Padding");
    }
}
`

func TestScanOnce(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "AndroidManifest.xml"), appManifest)
	write(t, filepath.Join(dir, "sources", "com", "example", "app", "Crypto.java"), cryptoSource)

	cfg := config.Default()
	cfg.Output = config.OutputJSON
	registry, err := buildRegistry(cfg, discardLogger())
	require.NoError(t, err)

	var buf bytes.Buffer
	report, err := scanOnce(context.Background(), &buf, cfg, registry, discardLogger(), scanOptions{buildDir: dir})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "AndroidManifest.xml"), report.Manifest)
	assert.Equal(t, 2, report.Files)

	var plugins []string
	for _, issue := range report.Issues {
		plugins = append(plugins, issue.Category+"/"+issue.Plugin)
	}
	assert.Contains(t, plugins, "manifest/debuggable")
	assert.Contains(t, plugins, "crypto/ecb_mode")
	assert.NotContains(t, plugins, "manifest/allow_backup")
	assert.Empty(t, report.Skipped())

	var written scanner.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &written))
	assert.Equal(t, report.ScanID, written.ScanID)
	assert.Len(t, written.Issues, len(report.Issues))
}

func TestScanOnce_DisabledAndFiltered(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "AndroidManifest.xml"), appManifest)
	write(t, filepath.Join(dir, "Crypto.java"), cryptoSource)

	cfg := config.Default()
	cfg.Categories = []string{"crypto"}
	cfg.DisabledPlugins = []string{"crypto/ecb_mode"}
	registry, err := buildRegistry(cfg, discardLogger())
	require.NoError(t, err)

	report, err := scanOnce(context.Background(), io.Discard, cfg, registry, discardLogger(), scanOptions{buildDir: dir})
	require.NoError(t, err)

	assert.Empty(t, report.Issues)
	for _, run := range report.Plugins {
		assert.Equal(t, "crypto", run.Category)
	}
	require.Len(t, report.Skipped(), 1)
	assert.Equal(t, "ecb_mode", report.Skipped()[0].Plugin)
}

func TestScanOnce_SingleSource(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "Crypto.java")
	write(t, source, cryptoSource)

	cfg := config.Default()
	registry, err := buildRegistry(cfg, discardLogger())
	require.NoError(t, err)

	report, err := scanOnce(context.Background(), io.Discard, cfg, registry, discardLogger(), scanOptions{source: source})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Files)
	assert.Empty(t, report.Manifest)
}

func TestScanOnce_CanceledWritesPartialReport(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "Crypto.java"), cryptoSource)

	cfg := config.Default()
	registry, err := buildRegistry(cfg, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	_, err = scanOnce(ctx, &buf, cfg, registry, discardLogger(), scanOptions{buildDir: dir})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEmpty(t, buf.String())
}
