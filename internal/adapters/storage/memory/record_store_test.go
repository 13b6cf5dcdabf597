package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/calliope-ai/calliope/internal/domain"
)

const agent = domain.AgentID("clara:42")

var t0 = time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

func mustCreate(t *testing.T, s *RecordStore, id domain.SessionID, started time.Time) {
	t.Helper()
	if err := s.CreateSession(context.Background(), agent, &domain.Session{ID: id, StartedAt: started}); err != nil {
		t.Fatalf("CreateSession(%s): %v", id, err)
	}
}

func TestInsertMessageAssignsIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()
	mustCreate(t, s, "s1", t0)

	var last int64
	for i := 0; i < 3; i++ {
		msg := &domain.Message{SessionID: "s1", Role: domain.RoleUser, Content: "m", CreatedAt: t0}
		if err := s.InsertMessage(ctx, agent, msg); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
		if msg.ID <= last {
			t.Fatalf("expected increasing ids, got %d after %d", msg.ID, last)
		}
		last = msg.ID
	}
}

func TestInsertMessageRequiresSession(t *testing.T) {
	s := NewRecordStore()
	err := s.InsertMessage(context.Background(), agent, &domain.Message{SessionID: "nope"})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMessagesBySessionOrderedByTimeThenID(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()
	mustCreate(t, s, "s1", t0)

	// Two messages share a timestamp; insertion order breaks the tie.
	for _, m := range []domain.Message{
		{SessionID: "s1", Role: domain.RoleUser, Content: "second", CreatedAt: t0.Add(time.Second)},
		{SessionID: "s1", Role: domain.RoleUser, Content: "first", CreatedAt: t0},
		{SessionID: "s1", Role: domain.RoleAgent, Content: "third", CreatedAt: t0.Add(time.Second)},
	} {
		msg := m
		if err := s.InsertMessage(ctx, agent, &msg); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}

	msgs, err := s.MessagesBySession(ctx, agent, "s1")
	if err != nil {
		t.Fatalf("MessagesBySession: %v", err)
	}
	got := []string{msgs[0].Content, msgs[1].Content, msgs[2].Content}
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}
}

func TestOpenSessionFindsTheUnclosedOne(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()

	ended := t0.Add(time.Hour)
	if err := s.CreateSession(ctx, agent, &domain.Session{ID: "closed", StartedAt: t0, EndedAt: &ended}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	mustCreate(t, s, "open", t0.Add(2*time.Hour))

	sess, err := s.OpenSession(ctx, agent)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if sess.ID != "open" {
		t.Fatalf("got session %s, want open", sess.ID)
	}
}

func TestOpenSessionReportsNotFound(t *testing.T) {
	_, err := NewRecordStore().OpenSession(context.Background(), agent)
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRecentSessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()
	mustCreate(t, s, "a", t0)
	mustCreate(t, s, "b", t0.Add(2*time.Hour))
	mustCreate(t, s, "c", t0.Add(time.Hour))

	sessions, err := s.RecentSessions(ctx, agent, 2)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "b" || sessions[1].ID != "c" {
		t.Fatalf("unexpected ordering: %+v", sessions)
	}
}

func TestUpdateSessionPersistsChanges(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()
	mustCreate(t, s, "s1", t0)

	sess, err := s.GetSession(ctx, agent, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	summary := "digest"
	ended := t0.Add(time.Hour)
	sess.Summary = &summary
	sess.EndedAt = &ended
	sess.MessageCount = 7
	if err := s.UpdateSession(ctx, agent, sess); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := s.GetSession(ctx, agent, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Summary == nil || *got.Summary != "digest" || got.MessageCount != 7 || got.Open() {
		t.Fatalf("update not persisted: %+v", got)
	}
}

func TestUpdateUnknownSessionFails(t *testing.T) {
	err := NewRecordStore().UpdateSession(context.Background(), agent, &domain.Session{ID: "nope"})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDeleteSessionRemovesMessagesToo(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()
	mustCreate(t, s, "s1", t0)
	if err := s.InsertMessage(ctx, agent, &domain.Message{SessionID: "s1", Role: domain.RoleUser, Content: "m", CreatedAt: t0}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	if err := s.DeleteSession(ctx, agent, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession(ctx, agent, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	msgs, err := s.MessagesBySession(ctx, agent, "s1")
	if err != nil {
		t.Fatalf("MessagesBySession: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}

func TestSessionsEndedBeforeCutoff(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()

	old := t0
	recent := t0.Add(48 * time.Hour)
	if err := s.CreateSession(ctx, agent, &domain.Session{ID: "old", StartedAt: t0, EndedAt: &old}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.CreateSession(ctx, agent, &domain.Session{ID: "recent", StartedAt: t0, EndedAt: &recent}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	mustCreate(t, s, "still-open", t0)

	got, err := s.SessionsEndedBefore(ctx, agent, t0.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("SessionsEndedBefore: %v", err)
	}
	if len(got) != 1 || got[0].ID != "old" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestStatsCountSessionsAndMessages(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()
	mustCreate(t, s, "s1", t0)
	mustCreate(t, s, "s2", t0.Add(time.Hour))
	for i := 0; i < 3; i++ {
		if err := s.InsertMessage(ctx, agent, &domain.Message{SessionID: "s1", Role: domain.RoleUser, Content: "m", CreatedAt: t0}); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}

	stats, err := s.Stats(ctx, agent)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Sessions != 2 || stats.Messages != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestReturnedSessionsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()
	mustCreate(t, s, "s1", t0)

	sess, _ := s.GetSession(ctx, agent, "s1")
	sess.MessageCount = 99

	again, _ := s.GetSession(ctx, agent, "s1")
	if again.MessageCount != 0 {
		t.Fatalf("caller mutation leaked into the store")
	}
}
