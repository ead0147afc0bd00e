package realtime_test

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/teamchat/realtime/internal/realtime"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// fakeSender records every frame pushed to a connection.
type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeSender) Send(msg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, msg)
}

func newTestRegistry() *realtime.Registry {
	return realtime.NewRegistry(newTestLogger())
}

func connect(t *testing.T, r *realtime.Registry) (uuid.UUID, *fakeSender) {
	t.Helper()
	id := uuid.New()
	sender := &fakeSender{}
	if err := r.Connect(id, sender); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return id, sender
}

// --- Connection lifecycle ---

func TestConnectionLifecycle(t *testing.T) {
	r := newTestRegistry()
	id, _ := connect(t, r)

	if _, _, ok := r.Identity(id); !ok {
		t.Fatal("Identity failed to find registered connection")
	}

	userID, _, last, err := r.Disconnect(id)
	if err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if userID != "" || last {
		t.Errorf("Expected anonymous disconnect, got userID=%q last=%v", userID, last)
	}

	if _, _, ok := r.Identity(id); ok {
		t.Error("Found connection after it should have been removed")
	}
	if _, _, _, err := r.Disconnect(id); !errors.Is(err, realtime.ErrUnknownConnection) {
		t.Errorf("Expected ErrUnknownConnection on double disconnect, got %v", err)
	}
}

func TestAnnounceIdentity(t *testing.T) {
	r := newTestRegistry()
	conn1, _ := connect(t, r)
	conn2, _ := connect(t, r)

	first, err := r.AnnounceIdentity(conn1, "user-1", "alice")
	if err != nil {
		t.Fatalf("AnnounceIdentity (1) failed: %v", err)
	}
	if !first {
		t.Error("Expected first announce to report first=true")
	}

	// Second connection for the same user is not "first" anymore.
	first, err = r.AnnounceIdentity(conn2, "user-1", "alice")
	if err != nil {
		t.Fatalf("AnnounceIdentity (2) failed: %v", err)
	}
	if first {
		t.Error("Expected second connection to report first=false")
	}

	// Re-announcing the same user on the same connection is a no-op.
	if _, err := r.AnnounceIdentity(conn1, "user-1", "alice"); err != nil {
		t.Errorf("Re-announce of same user failed: %v", err)
	}

	// A connection's identity is immutable.
	if _, err := r.AnnounceIdentity(conn1, "user-2", "bob"); !errors.Is(err, realtime.ErrIdentityBound) {
		t.Errorf("Expected ErrIdentityBound when rebinding, got %v", err)
	}

	if _, err := r.AnnounceIdentity(uuid.New(), "user-3", "carol"); !errors.Is(err, realtime.ErrUnknownConnection) {
		t.Errorf("Expected ErrUnknownConnection for unknown connection, got %v", err)
	}
}

func TestConnectionsForUser(t *testing.T) {
	r := newTestRegistry()
	conn1, _ := connect(t, r)
	conn2, _ := connect(t, r)
	r.AnnounceIdentity(conn1, "user-1", "alice")
	r.AnnounceIdentity(conn2, "user-1", "alice")

	if got := len(r.ConnectionsForUser("user-1")); got != 2 {
		t.Fatalf("Expected 2 connections, got %d", got)
	}

	_, _, last, _ := r.Disconnect(conn1)
	if last {
		t.Error("Expected last=false while a second connection is live")
	}
	if got := len(r.ConnectionsForUser("user-1")); got != 1 {
		t.Fatalf("Expected 1 connection after disconnect, got %d", got)
	}

	_, _, last, _ = r.Disconnect(conn2)
	if !last {
		t.Error("Expected last=true when final connection closes")
	}
	if got := len(r.ConnectionsForUser("user-1")); got != 0 {
		t.Fatalf("Expected 0 connections, got %d", got)
	}
	if r.Online("user-1") {
		t.Error("Expected user to be offline")
	}
}

func TestSnapshotDeduplicatesUsers(t *testing.T) {
	r := newTestRegistry()
	conn1, _ := connect(t, r)
	conn2, _ := connect(t, r)
	conn3, _ := connect(t, r)
	r.AnnounceIdentity(conn1, "user-1", "alice")
	r.AnnounceIdentity(conn2, "user-1", "alice")
	r.AnnounceIdentity(conn3, "user-2", "bob")

	snapshot := r.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("Expected 2 online users, got %d", len(snapshot))
	}
	seen := map[string]bool{}
	for _, p := range snapshot {
		if seen[p.UserID] {
			t.Errorf("User %s duplicated in snapshot", p.UserID)
		}
		seen[p.UserID] = true
	}
}

func TestAllSendersExceptUser(t *testing.T) {
	r := newTestRegistry()
	conn1, _ := connect(t, r)
	conn2, _ := connect(t, r)
	connect(t, r) // anonymous
	r.AnnounceIdentity(conn1, "user-1", "alice")
	r.AnnounceIdentity(conn2, "user-2", "bob")

	if got := len(r.AllSendersExceptUser("user-1")); got != 2 {
		t.Errorf("Expected 2 senders excluding user-1, got %d", got)
	}
	if got := len(r.AllSenders(nil)); got != 3 {
		t.Errorf("Expected 3 senders total, got %d", got)
	}
}

func TestRegistryConcurrency(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New()
			if err := r.Connect(id, &fakeSender{}); err != nil {
				t.Errorf("Connect failed: %v", err)
				return
			}
			r.AnnounceIdentity(id, "user-shared", "shared")
			r.Snapshot()
			r.Disconnect(id)
		}()
	}
	wg.Wait()

	if r.Online("user-shared") {
		t.Error("Expected user-shared offline after all connections closed")
	}
}
