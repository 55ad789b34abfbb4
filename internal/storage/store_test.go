package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"outreach/internal/pkg/clock"
	logx "outreach/pkg/logx"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openDrivers(t *testing.T) map[string]func(clk clock.Clock) Store {
	t.Helper()
	return map[string]func(clk clock.Clock) Store{
		"memory": func(clk clock.Clock) Store { return NewMemory(clk) },
		"sqlite": func(clk clock.Clock) Store {
			st, err := Open(context.Background(), Config{
				Driver: "sqlite",
				Path:   filepath.Join(t.TempDir(), "outreach.db"),
			}, logx.Nop(), clk)
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return st
		},
	}
}

func TestStatusExpiresAfterTTL(t *testing.T) {
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			clk := clock.NewMock(epoch)
			st := open(clk)
			defer st.Close()
			ctx := context.Background()

			rec := StatusRecord{JobID: "j1", Channel: "chat", Total: 3, State: "pending", UpdatedAt: epoch}
			if err := st.PutStatus(ctx, rec, epoch.Add(24*time.Hour)); err != nil {
				t.Fatalf("PutStatus: %v", err)
			}

			clk.Set(epoch.Add(23*time.Hour + 59*time.Minute))
			got, ok, err := st.GetStatus(ctx, "j1")
			if err != nil || !ok {
				t.Fatalf("GetStatus before expiry: ok=%v err=%v", ok, err)
			}
			if diff := cmp.Diff(rec, got); diff != "" {
				t.Fatalf("record mismatch (-want +got):\n%s", diff)
			}

			clk.Set(epoch.Add(24*time.Hour + time.Minute))
			if _, ok, err := st.GetStatus(ctx, "j1"); err != nil || ok {
				t.Fatalf("GetStatus after expiry: ok=%v err=%v", ok, err)
			}

			n, err := st.PruneExpired(ctx)
			if err != nil {
				t.Fatalf("PruneExpired: %v", err)
			}
			if n != 1 {
				t.Fatalf("pruned %d rows, want 1", n)
			}
		})
	}
}

func TestJobsRoundTripInEnqueueOrder(t *testing.T) {
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(clock.NewMock(epoch))
			defer st.Close()
			ctx := context.Background()

			jobs := []JobRecord{
				{ID: "b", Channel: "email", Payload: []byte(`{"n":2}`), EnqueuedAt: epoch.Add(time.Second)},
				{ID: "a", Channel: "chat", Payload: []byte(`{"n":1}`), EnqueuedAt: epoch},
			}
			for _, j := range jobs {
				if err := st.SaveJob(ctx, j); err != nil {
					t.Fatalf("SaveJob: %v", err)
				}
			}
			jobs[0].Attempts = 2
			if err := st.SaveJob(ctx, jobs[0]); err != nil {
				t.Fatalf("SaveJob update: %v", err)
			}

			got, err := st.PendingJobs(ctx)
			if err != nil {
				t.Fatalf("PendingJobs: %v", err)
			}
			want := []JobRecord{jobs[1], jobs[0]}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("pending mismatch (-want +got):\n%s", diff)
			}

			if err := st.DeleteJob(ctx, "a"); err != nil {
				t.Fatalf("DeleteJob: %v", err)
			}
			got, _ = st.PendingJobs(ctx)
			if len(got) != 1 || got[0].ID != "b" {
				t.Fatalf("after delete: %+v", got)
			}
		})
	}
}

func TestDedupAndMessageLog(t *testing.T) {
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			clk := clock.NewMock(epoch)
			st := open(clk)
			defer st.Close()
			ctx := context.Background()

			if _, ok, _ := st.GetDedup(ctx, "send:j:0"); ok {
				t.Fatal("unexpected dedup hit")
			}
			until := epoch.Add(time.Hour)
			if err := st.PutDedup(ctx, "send:j:0", until); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			got, ok, err := st.GetDedup(ctx, "send:j:0")
			if err != nil || !ok || !got.Equal(until) {
				t.Fatalf("GetDedup = %v %v %v", got, ok, err)
			}

			if err := st.AppendMessageLog(ctx, MessageLogEntry{JobID: "j", Channel: "chat", Recipient: "123", Kind: "text"}); err != nil {
				t.Fatalf("AppendMessageLog: %v", err)
			}

			clk.Add(2 * time.Hour)
			if _, ok, _ := st.GetDedup(ctx, "send:j:0"); ok {
				t.Fatal("expired dedup key reported as live")
			}
			if _, err := st.PruneExpired(ctx); err != nil {
				t.Fatalf("PruneExpired: %v", err)
			}
			if _, ok, _ := st.GetDedup(ctx, "send:j:0"); ok {
				t.Fatal("expired dedup key survived prune")
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop(), nil); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
