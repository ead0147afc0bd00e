package realtime_test

import (
	"testing"
	"time"

	"github.com/teamchat/realtime/internal/realtime"
)

func TestStartTypingIsIdempotent(t *testing.T) {
	typing := realtime.NewTyping()

	typing.Start("user-1", "alice", "chan-1")
	typing.Start("user-1", "alice", "chan-1")

	users := typing.UsersIn("chan-1")
	if len(users) != 1 {
		t.Fatalf("Expected 1 typing user after double start, got %d", len(users))
	}
	if users[0].UserID != "user-1" || users[0].Username != "alice" {
		t.Errorf("Unexpected typing user: %+v", users[0])
	}
}

func TestStopTyping(t *testing.T) {
	typing := realtime.NewTyping()

	typing.Start("user-1", "alice", "chan-1")
	typing.Start("user-1", "alice", "chan-1")

	if !typing.Stop("user-1", "chan-1") {
		t.Error("Expected Stop to report a removed mark")
	}
	if typing.Stop("user-1", "chan-1") {
		t.Error("Expected second Stop to be a no-op")
	}
	if got := len(typing.UsersIn("chan-1")); got != 0 {
		t.Errorf("Expected no typing users, got %d", got)
	}
}

func TestStopAllFor(t *testing.T) {
	typing := realtime.NewTyping()
	typing.Start("user-1", "alice", "chan-1")
	typing.Start("user-1", "alice", "chan-2")
	typing.Start("user-2", "bob", "chan-1")

	channels := typing.StopAllFor("user-1")
	if len(channels) != 2 {
		t.Fatalf("Expected 2 affected channels, got %d", len(channels))
	}
	if got := len(typing.UsersIn("chan-1")); got != 1 {
		t.Errorf("Expected user-2 still typing in chan-1, got %d users", got)
	}
	if got := typing.StopAllFor("user-1"); got != nil {
		t.Errorf("Second StopAllFor should return nothing, got %v", got)
	}
}

func TestExpire(t *testing.T) {
	typing := realtime.NewTyping()
	typing.Start("user-1", "alice", "chan-1")

	time.Sleep(30 * time.Millisecond)
	typing.Start("user-2", "bob", "chan-1") // fresh mark survives

	expired := typing.Expire(10 * time.Millisecond)
	if len(expired) != 1 {
		t.Fatalf("Expected 1 expired mark, got %d", len(expired))
	}
	if expired[0].UserID != "user-1" || expired[0].ChannelID != "chan-1" {
		t.Errorf("Unexpected expired mark: %+v", expired[0])
	}

	users := typing.UsersIn("chan-1")
	if len(users) != 1 || users[0].UserID != "user-2" {
		t.Errorf("Expected only user-2 left typing, got %+v", users)
	}
}
