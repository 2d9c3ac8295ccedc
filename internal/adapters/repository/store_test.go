package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/feedtrace/internal/domain/event"
	"github.com/okian/feedtrace/internal/domain/normalize"
	"github.com/okian/feedtrace/internal/domain/participant"
	"github.com/okian/feedtrace/internal/domain/types"
	"github.com/okian/feedtrace/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func openStores(t *testing.T) map[string]RowStore {
	t.Helper()
	ctx := context.Background()

	dsn := filepath.Join(t.TempDir(), "rows.db")
	sqlStore, err := NewSQLStore(ctx, DriverSQLite, dsn, WithClock(fixedClock()))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })

	return map[string]RowStore{
		DriverMemory: NewMemoryStore(WithClock(fixedClock())),
		DriverSQLite: sqlStore,
	}
}

func row(session string, extra types.FlatRow) StoredRow {
	r := types.FlatRow{
		types.ColSessionID:       session,
		types.ColSubmittedAtISO:  "2024-05-01T12:00:03.000Z",
		types.ColMsEnterToSubmit: 3000,
	}
	for k, v := range extra {
		r[k] = v
	}
	return StoredRow{ProjectID: "p1", FeedID: "f1", SessionID: session, Row: r}
}

func TestRowStore_PutGetList(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := store.Put(ctx, row("s1", types.FlatRow{"A_reacted": 1}))
			if err != nil || !ok {
				t.Fatalf("expected first put to write, got %v %v", ok, err)
			}
			ok, err = store.Put(ctx, row("s1", types.FlatRow{"A_reacted": ""}))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok {
				t.Error("expected duplicate put to be ignored")
			}
			if _, err := store.Put(ctx, row("s2", nil)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got, err := store.Get(ctx, "p1", "f1", "s1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if v, _ := normalize.Number(got.Row["A_reacted"]); v != 1 {
				t.Errorf("expected the first write to win, got %v", got.Row["A_reacted"])
			}
			if !got.CreatedAt.Equal(fixedClock()()) {
				t.Errorf("unexpected created_at %v", got.CreatedAt)
			}

			list, err := store.List(ctx, "p1", "f1")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 2 || list[0].SessionID != "s1" || list[1].SessionID != "s2" {
				t.Errorf("expected insertion order s1,s2, got %+v", list)
			}
			if other, _ := store.List(ctx, "p1", "other"); len(other) != 0 {
				t.Errorf("expected other feed to be empty, got %d", len(other))
			}
			if n := store.Count(ctx); n != 2 {
				t.Errorf("expected count 2, got %d", n)
			}
		})
	}
}

func TestRowStore_Errors(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(ctx, "p1", "f1", "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			if _, err := store.Put(ctx, StoredRow{ProjectID: "p1"}); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
			if err := store.SetPostName(ctx, "p1", "f1", "", "x"); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
			if _, err := store.Import(ctx, "", "f1", nil); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestRowStore_Import(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			rows := []types.FlatRow{
				{types.ColSessionID: "legacy-1", "X_like": 1, "X_send_share": "1"},
				{types.ColSessionID: "legacy-1", "X_like": 0},
				{"X_menu_report": 1},
				{types.ColSessionID: "  ", "posts_json": `{"X":{"reacted":1}}`},
			}
			n, err := store.Import(ctx, "p1", "f1", rows)
			if err != nil {
				t.Fatalf("import: %v", err)
			}
			if n != 3 {
				t.Errorf("expected 3 new rows, got %d", n)
			}

			list, _ := store.List(ctx, "p1", "f1")
			if len(list) != 3 {
				t.Fatalf("expected 3 stored rows, got %d", len(list))
			}
			for _, r := range list {
				if r.SessionID == "" || normalize.Text(r.Row[types.ColSessionID]) != r.SessionID {
					t.Errorf("expected generated session id to be written into the row, got %+v", r)
				}
			}
			if _, ok := rows[2][types.ColSessionID]; ok {
				t.Error("import must not mutate the caller's rows")
			}
		})
	}
}

func TestRowStore_Names(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.SetPostName(ctx, "p1", "f1", "A", "Vaccine post"); err != nil {
				t.Fatal(err)
			}
			if err := store.SetPostName(ctx, "p1", "f1", "A", "Vaccine myth"); err != nil {
				t.Fatal(err)
			}
			_ = store.SetPostName(ctx, "p1", "f2", "A", "Other feed")

			names, err := store.Names(ctx, "p1", "f1")
			if err != nil {
				t.Fatal(err)
			}
			if len(names) != 1 {
				t.Errorf("expected one name, got %v", names)
			}
			if n, ok := names.PostName("p1", "f1", "A"); !ok || n != "Vaccine myth" {
				t.Errorf("expected latest name, got %q", n)
			}
		})
	}
}

func TestRowStore_ParticipantRowRoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := int64(1_714_564_800_000)
	log := event.NewLog("s1", event.WithClock(event.ClockFunc(func() time.Time {
		clock += 500
		return time.UnixMilli(clock)
	})))
	log.EnterParticipant("P1")
	log.Append(event.ActionReactPick, "A", &event.ReactPick{Type: "like"})
	log.Append(event.ActionFeedSubmit, "", &event.Marker{})

	scope := types.Scope{ProjectID: "p1", FeedID: "f1"}
	built := participant.Build(scope, types.Feed{ID: "f1", Posts: []types.Post{{ID: "A"}}}, log.Events())

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Put(ctx, StoredRow{ProjectID: "p1", FeedID: "f1", SessionID: "s1", Row: built.Flat()}); err != nil {
				t.Fatal(err)
			}
			got, err := store.Get(ctx, "p1", "f1", "s1")
			if err != nil {
				t.Fatal(err)
			}
			res := normalize.Decode(got.Row)
			if !res.Posts["A"].Reacted || res.Posts["A"].ReactionType != "like" {
				t.Errorf("expected reaction to survive storage, got %+v", res.Posts["A"])
			}
			if len(res.Issues) != 0 {
				t.Errorf("expected no issues, got %v", res.Issues)
			}
		})
	}
}

func TestNewRowStore(t *testing.T) {
	ctx := context.Background()
	if s, err := NewRowStore(ctx, "", ""); err != nil || s == nil {
		t.Errorf("expected memory store by default, got %v", err)
	}
	if _, err := NewRowStore(ctx, "oracle", ""); !errors.Is(err, ErrUnsupportedDriver) {
		t.Errorf("expected ErrUnsupportedDriver, got %v", err)
	}
	for _, dsn := range []string{":memory:", "file::memory:?cache=shared", "file:rows?mode=memory"} {
		if _, err := NewRowStore(ctx, DriverSQLite, dsn); !errors.Is(err, ErrMemoryDSN) {
			t.Errorf("%s: expected ErrMemoryDSN, got %v", dsn, err)
		}
	}
	dsn := filepath.Join(t.TempDir(), "again.db")
	for i := 0; i < 2; i++ {
		s, err := NewRowStore(ctx, DriverSQLite, dsn)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		_ = s.Close()
	}
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	reg := NewSessions(WithClock(fixedClock()))
	scope := types.Scope{ProjectID: "p1", FeedID: "f1"}

	s, err := reg.Open(ctx, "s1", scope, types.Feed{ID: "f1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Open(ctx, "s1", scope, types.Feed{}); !errors.Is(err, ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}
	if _, err := reg.Open(ctx, "", scope, types.Feed{}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := reg.Get(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if !s.OpenedAt.Equal(fixedClock()()) {
		t.Errorf("unexpected opened_at %v", s.OpenedAt)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				s.Do(func(st *State) {
					st.Log.Append(event.ActionScroll, "", &event.Scroll{ScrollY: i*100 + j})
				})
				_ = s.Events()
			}
		}(i)
	}
	wg.Wait()

	if n := len(s.Events()); n != 100 {
		t.Errorf("expected 100 events, got %d", n)
	}
	if s.Submitted() {
		t.Error("expected no row before submit")
	}
	s.Do(func(st *State) {
		r := participant.Build(scope, s.Feed, st.Log.Events())
		st.Row = &r
	})
	if !s.Submitted() {
		t.Error("expected row after build")
	}

	if reg.Len() != 1 {
		t.Errorf("expected 1 session, got %d", reg.Len())
	}
	reg.Remove(ctx, "s1")
	if reg.Len() != 0 {
		t.Errorf("expected 0 sessions, got %d", reg.Len())
	}
}

func TestSessions_Sweep(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	reg := NewSessions(WithClock(clock))
	scope := types.Scope{ProjectID: "p1", FeedID: "f1"}
	for _, id := range []string{"idle", "busy"} {
		if _, err := reg.Open(ctx, id, scope, types.Feed{ID: "f1"}); err != nil {
			t.Fatal(err)
		}
	}

	advance(20 * time.Minute)
	if n := reg.Sweep(ctx, 30*time.Minute); n != 0 {
		t.Errorf("expected nothing swept before the ttl, got %d", n)
	}
	if _, err := reg.Get(ctx, "busy"); err != nil {
		t.Fatal(err)
	}

	advance(15 * time.Minute)
	if n := reg.Sweep(ctx, 30*time.Minute); n != 1 {
		t.Errorf("expected 1 session swept, got %d", n)
	}
	if _, err := reg.Get(ctx, "idle"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected idle session gone, got %v", err)
	}
	if reg.Len() != 1 {
		t.Errorf("expected busy session kept, got %d open", reg.Len())
	}
}
