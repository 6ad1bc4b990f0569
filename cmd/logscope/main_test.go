package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/tuanbt/logscope/internal/api"
	"github.com/tuanbt/logscope/internal/config"
)

func writeTestConfig(t *testing.T, kind string) string {
	t.Helper()
	base := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Source.Kind = kind
	cfg.Source.Directory = filepath.Join(base, "eventlogs")
	cfg.Source.Database = filepath.Join(base, "eventlogs.db")
	cfg.LogDirectory = filepath.Join(base, "logs")
	cfg.LogLevel = "error"
	cfg.PageSize = 5

	path := filepath.Join(base, "config.json")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, configPath string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, configPath, args...)
	if err != nil {
		t.Fatalf("%s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func seed(t *testing.T, configPath string) {
	t.Helper()
	mustRun(t, configPath, "emit", "--channel", "System", "--level", "information", "--id", "10", "service started")
	mustRun(t, configPath, "emit", "--channel", "System", "--level", "error", "--id", "11", "--provider", "Disk", "disk", "failure")
	mustRun(t, configPath, "emit", "--channel", "System", "--level", "warning", "--id", "12", "low memory")
	mustRun(t, configPath, "emit", "--channel", "Application", "--id", "20", "app ready")
}

func TestEmitAndPageFileSource(t *testing.T) {
	configPath := writeTestConfig(t, config.SourceFile)
	seed(t, configPath)

	out := mustRun(t, configPath, "channels")
	if !strings.Contains(out, "System") || !strings.Contains(out, "Application") {
		t.Errorf("expected both channels listed, got:\n%s", out)
	}

	out = mustRun(t, configPath, "page", "--channel", "System", "--json")
	var page api.PageResponse
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("decode page: %v\n%s", err, out)
	}
	if len(page.Records) != 3 || page.HasMore {
		t.Fatalf("expected 3 records and no more, got %d (has_more %v)", len(page.Records), page.HasMore)
	}
	if page.Records[0].EventID != 12 || page.Records[2].EventID != 10 {
		t.Errorf("expected newest first, got ids %d..%d", page.Records[0].EventID, page.Records[2].EventID)
	}
	if page.Records[1].Description != "disk failure" || page.Records[1].Provider != "Disk" {
		t.Errorf("unexpected record %+v", page.Records[1])
	}

	out = mustRun(t, configPath, "page", "--channel", "System", "--levels", "error")
	if !strings.Contains(out, "disk failure") || strings.Contains(out, "low memory") {
		t.Errorf("expected only the error record, got:\n%s", out)
	}
	if !strings.Contains(out, "showing 1 of 3 loaded") {
		t.Errorf("expected footer, got:\n%s", out)
	}

	out = mustRun(t, configPath, "page", "--channel", "System", "--search", "nothing-like-this")
	if !strings.Contains(out, "No records match the current filter.") {
		t.Errorf("expected empty filter notice, got:\n%s", out)
	}
}

func TestPageAllLogsHasLogColumn(t *testing.T) {
	configPath := writeTestConfig(t, config.SourceFile)
	seed(t, configPath)

	out := mustRun(t, configPath, "page", "--size", "2")
	if !strings.Contains(out, "Log") || !strings.Contains(out, "more with --page 1") {
		t.Errorf("expected merged page with a continuation hint, got:\n%s", out)
	}
}

func TestCountCommand(t *testing.T) {
	configPath := writeTestConfig(t, config.SourceFile)
	seed(t, configPath)

	out := mustRun(t, configPath, "count", "--channel", "System")
	if strings.TrimSpace(out) != "System: 3 records" {
		t.Errorf("unexpected count output %q", out)
	}

	out = mustRun(t, configPath, "count", "--json")
	var resp api.CountResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode count: %v\n%s", err, out)
	}
	if resp.Count != 4 {
		t.Errorf("expected 4 records across all logs, got %d", resp.Count)
	}

	if _, err := runCLI(t, configPath, "count", "--channel", "Security"); err == nil {
		t.Error("expected an error for a missing channel")
	}
}

func TestSQLiteSource(t *testing.T) {
	configPath := writeTestConfig(t, config.SourceSQLite)
	seed(t, configPath)

	out := mustRun(t, configPath, "page", "--channel", "System", "--ids", "11-12", "--json")
	var page api.PageResponse
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("decode page: %v\n%s", err, out)
	}
	if len(page.Records) != 2 || page.Loaded != 3 {
		t.Errorf("expected 2 of 3 records, got %d of %d", len(page.Records), page.Loaded)
	}

	out = mustRun(t, configPath, "count", "--channel", "System", "--estimate")
	if !strings.Contains(out, "System: 3 records (estimated ~3)") {
		t.Errorf("unexpected count output %q", out)
	}
}

func TestEmitRejectsJournalSource(t *testing.T) {
	configPath := writeTestConfig(t, config.SourceJournal)
	_, err := runCLI(t, configPath, "emit", "--channel", "System", "hello")
	if !errors.Is(err, errReadOnlySource) {
		t.Errorf("expected read-only error, got %v", err)
	}
}

func TestArgumentErrors(t *testing.T) {
	configPath := writeTestConfig(t, config.SourceFile)
	seed(t, configPath)

	tests := []struct {
		name string
		args []string
	}{
		{"bad since", []string{"page", "--channel", "System", "--since", "yesterday"}},
		{"negative page", []string{"page", "--page=-1"}},
		{"tail without channel", []string{"tail"}},
		{"emit without channel", []string{"emit", "hello"}},
		{"emit unknown level", []string{"emit", "--channel", "System", "--level", "loud", "hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, configPath, tt.args...); err == nil {
				t.Errorf("expected error for %v", tt.args)
			}
		})
	}
}

func TestUtilityCommandsSkipConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(missing, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, missing, "version")
	if err != nil || !strings.HasPrefix(out, "logscope ") {
		t.Fatalf("version: %q, %v", out, err)
	}

	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetIn(strings.NewReader("s3cret\n"))
	cmd.SetArgs([]string{"--config", missing, "hash-password"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	hash := strings.TrimSpace(buf.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Errorf("hash does not match password: %v", err)
	}

	if _, err := runCLI(t, missing, "channels"); err == nil {
		t.Error("expected config error for channels")
	}
}
