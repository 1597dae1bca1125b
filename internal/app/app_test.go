package app

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"lms-course-sync/internal/config"
	"lms-course-sync/internal/notify"
	"lms-course-sync/internal/store"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "sync.db")
	cfg.Storage.KVDir = ""
	cfg.Notify.Email = "admin@example.org"
	return cfg
}

func TestBuildWiresService(t *testing.T) {
	a, err := Build(testConfig(t), io.Discard)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.Service.Ping(ctx); err != nil {
		t.Errorf("Expected storage reachable, got %v", err)
	}
	if snap := a.Service.GetSyncStatus(ctx); snap.Running {
		t.Error("Expected idle status after build")
	}
	if _, ok := a.Pipeline.Notifier.(notify.LogNotifier); !ok {
		t.Errorf("Expected log notifier without SMTP, got %T", a.Pipeline.Notifier)
	}
	if _, err := a.Service.TestConnection(ctx); err == nil {
		t.Error("Expected missing credentials error")
	}
}

func TestBuildPersistsWarnings(t *testing.T) {
	a, err := Build(testConfig(t), io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	a.Log.Info().Msg("not persisted")
	a.Log.Warn().Msg("catalog fallback used")
	if err := a.FlushLogs(); err != nil {
		t.Fatal(err)
	}

	lines, err := a.Service.RecentLogs(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0].Message != "catalog fallback used" {
		t.Errorf("Expected one persisted warning, got %+v", lines)
	}
}

func TestRecipientPrefersOption(t *testing.T) {
	a, err := Build(testConfig(t), io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctx := context.Background()
	if got := a.recipient(ctx); got != "admin@example.org" {
		t.Errorf("Expected configured address, got %q", got)
	}
	if err := a.Store.SetString(ctx, store.OptNotificationEmail, " ops@example.org "); err != nil {
		t.Fatal(err)
	}
	if got := a.recipient(ctx); got != "ops@example.org" {
		t.Errorf("Expected option address, got %q", got)
	}
}

func TestBuildMediaBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Media.Backend = "dir"
	if _, err := Build(cfg, io.Discard); err == nil {
		t.Error("Expected error for dir backend without local_dir")
	}

	cfg = testConfig(t)
	cfg.Media.Backend = "sftp"
	if _, err := Build(cfg, io.Discard); err == nil {
		t.Error("Expected error for sftp backend without host")
	}

	cfg = testConfig(t)
	cfg.Media.Backend = "dir"
	cfg.Media.LocalDir = t.TempDir()
	a, err := Build(cfg, io.Discard)
	if err != nil {
		t.Fatalf("Expected dir backend to build, got %v", err)
	}
	a.Close()
}

func TestBuildRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.Schedule = "every tuesday"
	if _, err := Build(cfg, io.Discard); err == nil {
		t.Error("Expected invalid schedule error")
	}
}
