package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nugget/coach-ai-agent/internal/store"
)

type notice struct {
	userID int64
	body   string
}

type fakeNotifier struct {
	sent []notice
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, u *store.User, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, notice{u.ID, body})
	return nil
}

type fakeSyncer struct {
	added map[int64][]store.Activity
	err   error
}

func (f *fakeSyncer) Sync(_ context.Context, userID int64) ([]store.Activity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.added[userID], nil
}

// Wednesday morning in Santiago.
var jobsNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func newTestJobs(t *testing.T, syncer ActivitySyncer) (*Jobs, *store.Store, *fakeNotifier, *store.User) {
	t.Helper()
	st, err := store.NewStoreWithDB(openTestDB(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	u, err := st.GetOrCreateUser("+56900000000", store.UserDefaults{
		DeliveryDay: "monday", DeliveryHour: 7, Timezone: "America/Santiago",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	n := &fakeNotifier{}
	j := NewJobs(st, n, syncer, nil)
	j.now = func() time.Time { return jobsNow }
	return j, st, n, u
}

func TestDeliverPlan(t *testing.T) {
	j, st, n, u := newTestJobs(t, nil)

	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if _, err := st.ReplacePlanning(u.ID, monday, []store.WeekPlan{{Number: 1, Content: "Lunes: 45' Z2"}}); err != nil {
		t.Fatalf("ReplacePlanning: %v", err)
	}

	if err := j.DeliverPlan(context.Background(), u.ID); err != nil {
		t.Fatalf("DeliverPlan: %v", err)
	}
	if len(n.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(n.sent))
	}
	want := "Plan de esta semana (2026-03-02 - 2026-03-08):\n\nLunes: 45' Z2"
	if n.sent[0].body != want {
		t.Errorf("body = %q, want %q", n.sent[0].body, want)
	}
}

func TestDeliverPlan_Skips(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, st *store.Store, u *store.User)
	}{
		{"no plan", func(*testing.T, *store.Store, *store.User) {}},
		{"paused", func(t *testing.T, st *store.Store, u *store.User) {
			monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
			if _, err := st.ReplacePlanning(u.ID, monday, []store.WeekPlan{{Content: "x"}}); err != nil {
				t.Fatalf("ReplacePlanning: %v", err)
			}
			if err := st.SetDeliveryPaused(u.ID, true); err != nil {
				t.Fatalf("SetDeliveryPaused: %v", err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, st, n, u := newTestJobs(t, nil)
			tt.setup(t, st, u)

			if err := j.DeliverPlan(context.Background(), u.ID); err != nil {
				t.Fatalf("DeliverPlan: %v", err)
			}
			if len(n.sent) != 0 {
				t.Errorf("sent = %+v, want nothing", n.sent)
			}
		})
	}
}

func TestExecute_Dispatch(t *testing.T) {
	j, _, _, u := newTestJobs(t, nil)

	planTask := &Task{Payload: Payload{Kind: PayloadPlanDelivery, UserID: u.ID}}
	if err := j.Execute(context.Background(), planTask, &Execution{}); err != nil {
		t.Errorf("plan delivery: %v", err)
	}
	if err := j.Execute(context.Background(), &Task{Payload: Payload{Kind: PayloadStravaSync}}, &Execution{}); err != nil {
		t.Errorf("strava sync without client: %v", err)
	}
	if err := j.Execute(context.Background(), &Task{Payload: Payload{Kind: "bogus"}}, &Execution{}); err == nil {
		t.Error("unknown payload should fail")
	}
}

func TestSyncStrava_AsksAboutRecentActivities(t *testing.T) {
	syncer := &fakeSyncer{added: map[int64][]store.Activity{}}
	j, st, n, u := newTestJobs(t, syncer)

	if err := st.SaveStravaToken(store.StravaToken{UserID: u.ID, AccessToken: "a", RefreshToken: "r", ExpiresAt: jobsNow.Add(time.Hour)}); err != nil {
		t.Fatalf("SaveStravaToken: %v", err)
	}
	acts := []store.Activity{
		{UserID: u.ID, StravaID: "1", Name: "Rodaje", Type: "Run", StartDate: "2026-03-04T10:00:00Z", DistanceM: 10000, MovingTimeS: 3000},
		{UserID: u.ID, StravaID: "2", Name: "Vieja", Type: "Run", StartDate: "2026-01-10T10:00:00Z", DistanceM: 5000, MovingTimeS: 1500},
	}
	for _, a := range acts {
		if _, err := st.InsertActivity(a); err != nil {
			t.Fatalf("InsertActivity: %v", err)
		}
	}
	syncer.added[u.ID] = acts

	if err := j.SyncStrava(context.Background()); err != nil {
		t.Fatalf("SyncStrava: %v", err)
	}
	if len(n.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(n.sent))
	}
	body := n.sent[0].body
	if !strings.Contains(body, "Rodaje (Run): 10.0 km, 50 min") || strings.Contains(body, "Vieja") {
		t.Errorf("feedback request = %q", body)
	}

	pending, err := st.PendingFeedback(u.ID)
	if err != nil {
		t.Fatalf("PendingFeedback: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("all synced activities should be marked, pending = %+v", pending)
	}
}

func TestSyncStrava_Errors(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("token revoked")}
	j, st, n, u := newTestJobs(t, syncer)

	if err := st.SaveStravaToken(store.StravaToken{UserID: u.ID, AccessToken: "a", RefreshToken: "r", ExpiresAt: jobsNow}); err != nil {
		t.Fatalf("SaveStravaToken: %v", err)
	}
	if err := j.SyncStrava(context.Background()); err == nil || !strings.Contains(err.Error(), "token revoked") {
		t.Errorf("err = %v, want sync failure", err)
	}
	if len(n.sent) != 0 {
		t.Errorf("sent = %+v", n.sent)
	}
}
