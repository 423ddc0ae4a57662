package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/zulandar/admitdesk/internal/db"
	"github.com/zulandar/admitdesk/internal/models"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func openStore(t *testing.T) (*Store, *gorm.DB, *fakeClock) {
	t.Helper()
	gdb, err := db.OpenTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	clock := newFakeClock()
	s, err := NewStore(StoreOpts{DB: gdb, TTL: time.Hour, Clock: clock.Now})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, gdb, clock
}

var alice = Scope{UserID: "alice", Board: "admissions"}

// ---------------------------------------------------------------------------
// Construction and scope
// ---------------------------------------------------------------------------

func TestNewStore_NilDB(t *testing.T) {
	if _, err := NewStore(StoreOpts{}); err == nil {
		t.Fatal("expected error for nil DB")
	}
}

func TestNewStore_Defaults(t *testing.T) {
	gdb, err := db.OpenTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	s, err := NewStore(StoreOpts{DB: gdb})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.TTL() != DefaultTTL {
		t.Errorf("TTL = %v, want %v", s.TTL(), DefaultTTL)
	}
	if s.historyLimit != DefaultHistoryLimit {
		t.Errorf("historyLimit = %d, want %d", s.historyLimit, DefaultHistoryLimit)
	}
}

func TestScopeKey(t *testing.T) {
	a := Scope{UserID: "u1", Board: "b", Filters: map[string]string{"term": "fall", "campus": "north"}}
	b := Scope{UserID: "u1", Board: "b", Filters: map[string]string{"campus": "north", "term": "fall"}}
	if a.Key() != b.Key() {
		t.Errorf("keys differ for equal scopes: %q vs %q", a.Key(), b.Key())
	}
	if want := "user=u1|board=b|campus=north,term=fall"; a.Key() != want {
		t.Errorf("Key = %q, want %q", a.Key(), want)
	}
	if (Scope{UserID: "u2", Board: "b"}).Key() == (Scope{UserID: "u1", Board: "b"}).Key() {
		t.Error("different users should not share a key")
	}
}

func TestScopeKey_TruncatesOnRuneBoundary(t *testing.T) {
	s := Scope{UserID: "u12", Board: "b", Filters: map[string]string{"name": strings.Repeat("ü", 200)}}
	key := s.Key()
	if len(key) > maxScopeKey {
		t.Errorf("len(Key) = %d, want <= %d", len(key), maxScopeKey)
	}
	if !utf8.ValidString(key) {
		t.Errorf("Key split a rune: %q", key[len(key)-4:])
	}
	if !strings.HasPrefix(key, "user=u12|board=b|name=") {
		t.Errorf("Key = %q", key)
	}
}

// ---------------------------------------------------------------------------
// Start / Resume / GetOrCreate
// ---------------------------------------------------------------------------

func TestStart_SetsExpiry(t *testing.T) {
	s, _, clock := openStore(t)
	sess, err := s.Start(context.Background(), alice)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.ID == "" {
		t.Error("ID should be set")
	}
	if !sess.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want now+1h", sess.ExpiresAt)
	}
	if sess.OwnerScope != alice.Key() {
		t.Errorf("OwnerScope = %q", sess.OwnerScope)
	}
}

func TestStart_RetiresOtherActiveSessions(t *testing.T) {
	s, _, clock := openStore(t)
	ctx := context.Background()
	first, _ := s.Start(ctx, alice)
	clock.Advance(time.Second)
	second, _ := s.Start(ctx, alice)

	if first.ID == second.ID {
		t.Fatal("expected distinct sessions")
	}
	got, err := s.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Expired(clock.Now()) {
		t.Error("first session should be retired")
	}

	var active int64
	s.db.Model(&models.ConversationSession{}).
		Where("owner_scope = ? AND expires_at > ?", alice.Key(), clock.Now()).
		Count(&active)
	if active != 1 {
		t.Errorf("active sessions = %d, want 1", active)
	}
}

func TestStart_OtherScopesUntouched(t *testing.T) {
	s, _, clock := openStore(t)
	ctx := context.Background()
	bob, _ := s.Start(ctx, Scope{UserID: "bob", Board: "admissions"})
	s.Start(ctx, alice)

	got, _ := s.Get(ctx, bob.ID)
	if got.Expired(clock.Now()) {
		t.Error("another scope's session should stay active")
	}
}

func TestResume_ValidSession(t *testing.T) {
	s, _, _ := openStore(t)
	ctx := context.Background()
	sess, _ := s.Start(ctx, alice)

	got, resumed, err := s.Resume(ctx, alice, sess.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !resumed || got.ID != sess.ID {
		t.Errorf("Resume = (%s, %v), want (%s, true)", got.ID, resumed, sess.ID)
	}
}

func TestResume_FallsBackToFresh(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *Store, clock *fakeClock) string
		scope Scope
	}{
		{"empty id", func(*Store, *fakeClock) string { return "" }, alice},
		{"unknown id", func(*Store, *fakeClock) string { return "does-not-exist" }, alice},
		{"expired", func(s *Store, clock *fakeClock) string {
			sess, _ := s.Start(context.Background(), alice)
			clock.Advance(2 * time.Hour)
			return sess.ID
		}, alice},
		{"other scope", func(s *Store, clock *fakeClock) string {
			sess, _ := s.Start(context.Background(), Scope{UserID: "bob"})
			return sess.ID
		}, alice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, clock := openStore(t)
			id := tt.setup(s, clock)
			got, resumed, err := s.Resume(context.Background(), tt.scope, id)
			if err != nil {
				t.Fatalf("Resume: %v", err)
			}
			if resumed {
				t.Error("resumed should be false")
			}
			if got.ID == id {
				t.Error("expected a fresh session ID")
			}
			if got.OwnerScope != tt.scope.Key() {
				t.Errorf("OwnerScope = %q", got.OwnerScope)
			}
		})
	}
}

func TestGetOrCreate(t *testing.T) {
	s, _, clock := openStore(t)
	ctx := context.Background()

	first, created, err := s.GetOrCreate(ctx, alice)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Error("first call should create")
	}
	again, created, _ := s.GetOrCreate(ctx, alice)
	if created || again.ID != first.ID {
		t.Errorf("second call = (%s, %v), want (%s, false)", again.ID, created, first.ID)
	}

	clock.Advance(2 * time.Hour)
	fresh, created, _ := s.GetOrCreate(ctx, alice)
	if !created || fresh.ID == first.ID {
		t.Error("expired session should be replaced")
	}
}

func TestGet_NotFound(t *testing.T) {
	s, _, _ := openStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Append / history
// ---------------------------------------------------------------------------

func TestAppend_ExtendsExpiryAndCounts(t *testing.T) {
	s, _, clock := openStore(t)
	ctx := context.Background()
	sess, _ := s.Start(ctx, alice)

	clock.Advance(30 * time.Minute)
	if _, err := s.Append(ctx, sess.ID, Message{Role: models.RoleUser, Content: "who should I call?"}); err != nil {
		t.Fatalf("Append user: %v", err)
	}
	if _, err := s.Append(ctx, sess.ID, Message{Role: models.RoleAssistant, Content: "Call Priya.", ReferencedIDs: []string{"A-1"}}); err != nil {
		t.Fatalf("Append assistant: %v", err)
	}

	got, _ := s.Get(ctx, sess.ID)
	if got.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", got.MessageCount)
	}
	if !got.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, clock.Now().Add(time.Hour))
	}
	if got.LastQuery != "who should I call?" {
		t.Errorf("LastQuery = %q", got.LastQuery)
	}
}

func TestAppend_SequenceAndIDs(t *testing.T) {
	s, _, _ := openStore(t)
	ctx := context.Background()
	sess, _ := s.Start(ctx, alice)

	var last *Entry
	for i := 1; i <= 3; i++ {
		e, err := s.Append(ctx, sess.ID, Message{Role: models.RoleUser, Content: fmt.Sprintf("m%d", i)})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if e.Sequence != i {
			t.Errorf("Sequence = %d, want %d", e.Sequence, i)
		}
		if len(e.ID) != 26 {
			t.Errorf("ID %q is not a ULID", e.ID)
		}
		if last != nil && e.ID <= last.ID {
			t.Errorf("IDs not increasing: %s then %s", last.ID, e.ID)
		}
		last = e
	}
}

func TestAppend_CreatedAtMonotonic(t *testing.T) {
	s, _, clock := openStore(t)
	ctx := context.Background()
	sess, _ := s.Start(ctx, alice)

	first, _ := s.Append(ctx, sess.ID, Message{Role: models.RoleUser, Content: "a"})
	clock.Advance(-time.Minute) // clock steps backwards
	second, _ := s.Append(ctx, sess.ID, Message{Role: models.RoleAssistant, Content: "b"})

	if second.CreatedAt.Before(first.CreatedAt) {
		t.Errorf("CreatedAt went backwards: %v then %v", first.CreatedAt, second.CreatedAt)
	}
}

func TestAppend_InvalidRole(t *testing.T) {
	s, _, _ := openStore(t)
	sess, _ := s.Start(context.Background(), alice)
	if _, err := s.Append(context.Background(), sess.ID, Message{Role: "system", Content: "x"}); err == nil {
		t.Error("expected error for invalid role")
	}
}

func TestAppend_UnknownSession(t *testing.T) {
	s, _, _ := openStore(t)
	_, err := s.Append(context.Background(), "missing", Message{Role: models.RoleUser, Content: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAppend_Concurrent(t *testing.T) {
	s, _, _ := openStore(t)
	ctx := context.Background()
	sess, _ := s.Start(ctx, alice)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Append(ctx, sess.ID, Message{Role: models.RoleUser, Content: fmt.Sprintf("m%d", i)}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Append: %v", err)
	}

	history, err := s.History(ctx, sess.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != n {
		t.Fatalf("history len = %d, want %d", len(history), n)
	}
	for i, e := range history {
		if e.Sequence != i+1 {
			t.Errorf("history[%d].Sequence = %d, want %d", i, e.Sequence, i+1)
		}
	}
	got, _ := s.Get(ctx, sess.ID)
	if got.MessageCount != n {
		t.Errorf("MessageCount = %d, want %d", got.MessageCount, n)
	}
}

func TestRecentHistory_ChronologicalAndLimited(t *testing.T) {
	s, _, _ := openStore(t)
	ctx := context.Background()
	sess, _ := s.Start(ctx, alice)
	for i := 1; i <= 12; i++ {
		s.Append(ctx, sess.ID, Message{Role: models.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	recent, err := s.RecentHistory(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(recent) != DefaultHistoryLimit {
		t.Fatalf("len = %d, want %d", len(recent), DefaultHistoryLimit)
	}
	if recent[0].Content != "m3" || recent[len(recent)-1].Content != "m12" {
		t.Errorf("window = %s..%s, want m3..m12", recent[0].Content, recent[len(recent)-1].Content)
	}

	window, _ := s.RecentHistory(ctx, sess.ID, DefaultPromptWindow)
	if len(window) != DefaultPromptWindow || window[0].Content != "m7" {
		t.Errorf("prompt window starts at %q, want m7", window[0].Content)
	}
}

func TestHistory_DecodesFields(t *testing.T) {
	s, _, _ := openStore(t)
	ctx := context.Background()
	sess, _ := s.Start(ctx, alice)
	s.Append(ctx, sess.ID, Message{Role: models.RoleUser, Content: "yes", IntentTag: "affirmative", ReferencedIDs: []string{"A-2", "A-1"}})

	history, _ := s.History(ctx, sess.ID)
	if len(history) != 1 {
		t.Fatalf("len = %d, want 1", len(history))
	}
	e := history[0]
	if e.IntentTag != "affirmative" {
		t.Errorf("IntentTag = %q", e.IntentTag)
	}
	if len(e.ReferencedIDs) != 2 || e.ReferencedIDs[0] != "A-2" || e.ReferencedIDs[1] != "A-1" {
		t.Errorf("ReferencedIDs = %v, want [A-2 A-1]", e.ReferencedIDs)
	}
}

func TestLastAssistant(t *testing.T) {
	history := []Entry{
		{Role: models.RoleAssistant, Content: "one"},
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, Content: "two"},
		{Role: models.RoleUser, Content: "yes"},
	}
	if got := LastAssistant(history); got == nil || got.Content != "two" {
		t.Errorf("LastAssistant = %v, want two", got)
	}
	if LastAssistant(history[1:2]) != nil {
		t.Error("expected nil without assistant turns")
	}
}

func TestDecodeIDs_Malformed(t *testing.T) {
	if ids := decodeIDs("not json"); ids != nil {
		t.Errorf("decodeIDs = %v, want nil", ids)
	}
	if ids := decodeIDs(""); ids != nil {
		t.Errorf("decodeIDs = %v, want nil", ids)
	}
}

// ---------------------------------------------------------------------------
// ExpireSweep
// ---------------------------------------------------------------------------

func TestExpireSweep(t *testing.T) {
	s, gdb, clock := openStore(t)
	ctx := context.Background()

	old, _ := s.Start(ctx, alice)
	s.Append(ctx, old.ID, Message{Role: models.RoleUser, Content: "hi"})
	s.Append(ctx, old.ID, Message{Role: models.RoleAssistant, Content: "hello"})

	clock.Advance(2 * time.Hour)
	live, _ := s.Start(ctx, Scope{UserID: "bob"})

	res, err := s.ExpireSweep(ctx)
	if err != nil {
		t.Fatalf("ExpireSweep: %v", err)
	}
	if res.Sessions != 1 || res.Messages != 2 {
		t.Errorf("result = %+v, want 1 session, 2 messages", res)
	}
	if _, err := s.Get(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired session still present: %v", err)
	}
	if _, err := s.Get(ctx, live.ID); err != nil {
		t.Errorf("live session removed: %v", err)
	}
	var msgs int64
	gdb.Model(&models.ConversationMessage{}).Where("session_id = ?", old.ID).Count(&msgs)
	if msgs != 0 {
		t.Errorf("orphan messages = %d", msgs)
	}

	again, err := s.ExpireSweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again.Sessions != 0 || again.Messages != 0 {
		t.Errorf("second sweep = %+v, want zero", again)
	}
}

func TestExpireSweep_ExactBoundary(t *testing.T) {
	s, _, clock := openStore(t)
	ctx := context.Background()
	sess, _ := s.Start(ctx, alice)

	clock.Advance(time.Hour) // now == expires_at
	res, _ := s.ExpireSweep(ctx)
	if res.Sessions != 1 {
		t.Errorf("session expiring exactly now should be swept, got %+v", res)
	}
	if _, err := s.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
