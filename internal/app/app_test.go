package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"outreach/internal/config"
	"outreach/internal/status"
	"outreach/internal/submit"
)

const testConfig = `{
  "logging": {"level": "error"},
  "storage": {"driver": "memory"},
  "chat": {"driver": "dryrun"},
  "email": {"driver": "dryrun"},
  "http": {"addr": "127.0.0.1:0"},
  "maintenance": {"prune_schedule": "@every 1h"}
}`

func newTestApp(t *testing.T) *App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	a, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestSubmitRunsToCompletion(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = a.Stop(context.Background(), StopSignal) }()

	rc, err := a.Submission().Submit(ctx, submit.Request{
		Channel:    "chat",
		Recipients: []submit.RecipientInput{{Address: "+62 812 000"}},
		Text:       "hello",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := a.Submission().Status(ctx, rc.JobID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.Status.Terminal() {
			if st.Status != status.Completed || st.Total != 1 || st.Completed != 1 || st.Failed != 0 || st.Progress != 100 {
				t.Fatalf("final status=%+v", st)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job still %s", st.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestValidateReloadRejectsRestartOnlyChanges(t *testing.T) {
	a := newTestApp(t)
	defer func() { _ = a.logs.Close() }()

	next := *a.cfgm.Get()
	next.Chat.RatePerSec = 5
	if err := a.validateReload(context.Background(), &next); err != nil {
		t.Fatalf("rate change rejected: %v", err)
	}

	next = *a.cfgm.Get()
	next.Storage = config.StorageConfig{Driver: "sqlite", Path: "x.db"}
	if err := a.validateReload(context.Background(), &next); err == nil {
		t.Fatal("storage change accepted")
	}

	next = *a.cfgm.Get()
	next.Email.Driver = "smtp"
	if err := a.validateReload(context.Background(), &next); err == nil {
		t.Fatal("driver change accepted")
	}
}
