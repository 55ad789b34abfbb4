package status

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"outreach/internal/pkg/clock"
	"outreach/internal/storage"
)

var t0 = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func newManager(t *testing.T) (*Manager, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(t0)
	return NewManager(storage.NewMemory(clk), WithClock(clk)), clk
}

var ignoreTime = cmpopts.IgnoreFields(JobStatus{}, "UpdatedAt")

func TestCreateAndUpdateMerges(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, "j1", "chat", 10); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Update(ctx, "j1", Patch{Status: Ptr(Processing)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := m.Update(ctx, "j1", Patch{Completed: Ptr(8), Failed: Ptr(2), Error: Ptr("bad number")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := JobStatus{JobID: "j1", Channel: "chat", Total: 10, Completed: 8, Failed: 2,
		Status: Processing, Error: "bad number", Progress: 80}
	if diff := cmp.Diff(want, got, ignoreTime); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateInvariants(t *testing.T) {
	cases := []struct {
		name    string
		patches []Patch
		want    JobStatus
		wantErr error
	}{
		{
			name:    "counters exceeding total are rejected",
			patches: []Patch{{Completed: Ptr(4)}, {Failed: Ptr(2)}},
			want:    JobStatus{JobID: "j", Total: 5, Completed: 4, Status: Pending, Progress: 80},
			wantErr: ErrInvalidPatch,
		},
		{
			name:    "counters never decrease",
			patches: []Patch{{Completed: Ptr(3)}, {Completed: Ptr(1)}},
			want:    JobStatus{JobID: "j", Total: 5, Completed: 3, Status: Pending, Progress: 60},
		},
		{
			name:    "total is set once",
			patches: []Patch{{Total: Ptr(50)}},
			want:    JobStatus{JobID: "j", Total: 5, Status: Pending},
		},
		{
			name:    "state does not regress",
			patches: []Patch{{Status: Ptr(Processing)}, {Status: Ptr(Pending)}},
			want:    JobStatus{JobID: "j", Total: 5, Status: Processing},
		},
		{
			name:    "terminal state is never revisited",
			patches: []Patch{{Completed: Ptr(5), Status: Ptr(Completed)}, {Status: Ptr(Failed), Error: Ptr("late")}},
			want:    JobStatus{JobID: "j", Total: 5, Completed: 5, Status: Completed, Progress: 100},
			wantErr: ErrTerminal,
		},
		{
			name:    "restart zeroes counters of a new attempt",
			patches: []Patch{{Failed: Ptr(5), Error: Ptr("boom")}, {Restart: true, Status: Ptr(Processing), Completed: Ptr(1)}},
			want:    JobStatus{JobID: "j", Total: 5, Completed: 1, Status: Processing, Progress: 20},
		},
		{
			name:    "unknown state rejected",
			patches: []Patch{{Status: Ptr(State("paused"))}},
			want:    JobStatus{JobID: "j", Total: 5, Status: Pending},
			wantErr: ErrInvalidPatch,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newManager(t)
			ctx := context.Background()
			if _, err := m.Create(ctx, "j", "", 5); err != nil {
				t.Fatal(err)
			}
			var err error
			for _, p := range tc.patches {
				_, err = m.Update(ctx, "j", p)
			}
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			got, err := m.Get(ctx, "j")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if diff := cmp.Diff(tc.want, got, ignoreTime); diff != "" {
				t.Fatalf("status mismatch (-want +got):\n%s", diff)
			}
			if got.Completed+got.Failed > got.Total {
				t.Fatalf("invariant broken: %+v", got)
			}
		})
	}
}

func TestSlidingTTL(t *testing.T) {
	m, clk := newManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, "j", "email", 2); err != nil {
		t.Fatal(err)
	}
	clk.Add(23*time.Hour + 59*time.Minute)
	if _, err := m.Get(ctx, "j"); err != nil {
		t.Fatalf("Get at T+23h59m: %v", err)
	}

	// A write at T+23h59m pushes expiry to T+47h59m.
	if _, err := m.Update(ctx, "j", Patch{Completed: Ptr(1)}); err != nil {
		t.Fatal(err)
	}
	clk.Add(2 * time.Minute)
	if _, err := m.Get(ctx, "j"); err != nil {
		t.Fatalf("Get after refresh: %v", err)
	}

	clk.Add(24 * time.Hour)
	if _, err := m.Get(ctx, "j"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExpiresAfterTTLWithoutWrites(t *testing.T) {
	m, clk := newManager(t)
	ctx := context.Background()
	if _, err := m.Create(ctx, "j", "chat", 1); err != nil {
		t.Fatal(err)
	}
	clk.Set(t0.Add(24*time.Hour + time.Minute))
	if _, err := m.Get(ctx, "j"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
