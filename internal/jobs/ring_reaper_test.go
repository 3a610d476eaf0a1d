package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/campusmatch/call-server-go/internal/model"
)

type mockSessionRepo struct {
	mu          sync.Mutex
	overdue     []model.CallSession
	commit      bool
	transitions []string
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.CallSession, error) {
	return nil, nil
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateCallSessionParams) (*model.CallSession, error) {
	return nil, nil
}

func (m *mockSessionRepo) ConditionalTransition(ctx context.Context, id string, expected, next model.CallStatus, answeredAt, endedAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, id)
	return m.commit, nil
}

func (m *mockSessionRepo) ListActiveOrRinging(ctx context.Context, userID string) ([]model.CallSession, error) {
	return nil, nil
}

func (m *mockSessionRepo) ListOverdueRinging(ctx context.Context, olderThan time.Time) ([]model.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overdue, nil
}

func (m *mockSessionRepo) transitioned() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.transitions...)
}

type mockBroadcaster struct {
	mu          sync.Mutex
	transitions int
	missed      int
}

func (m *mockBroadcaster) PublishHint(ctx context.Context, toUserID string, hint model.CallHint) error {
	return nil
}

func (m *mockBroadcaster) PublishTransition(ctx context.Context, userID, sessionID string, status model.CallStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions++
	return nil
}

func (m *mockBroadcaster) PublishMissedCall(ctx context.Context, userID, sessionID, callerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missed++
	return nil
}

func (m *mockBroadcaster) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitions, m.missed
}

func overdueSession(id string) model.CallSession {
	return model.CallSession{
		ID:         id,
		CallerID:   "alice",
		ReceiverID: "bob",
		Status:     model.CallStatusRinging,
		CreatedAt:  time.Now().Add(-2 * time.Minute),
	}
}

func TestRingReaper(t *testing.T) {
	t.Run("starts and stops without panic", func(t *testing.T) {
		repo := &mockSessionRepo{}
		broker := &mockBroadcaster{}
		reaper := NewRingReaper(repo, broker, 30*time.Second, 15*time.Second, 100*time.Millisecond)

		reaper.Start()
		time.Sleep(50 * time.Millisecond)
		reaper.Stop()
	})

	t.Run("marks overdue rings missed and notifies both sides", func(t *testing.T) {
		repo := &mockSessionRepo{
			overdue: []model.CallSession{overdueSession("sess-1"), overdueSession("sess-2")},
			commit:  true,
		}
		broker := &mockBroadcaster{}
		reaper := NewRingReaper(repo, broker, 30*time.Second, 15*time.Second, time.Hour)

		reaper.Start()
		time.Sleep(50 * time.Millisecond)
		reaper.Stop()

		assert.Equal(t, []string{"sess-1", "sess-2"}, repo.transitioned())
		transitions, missed := broker.counts()
		assert.Equal(t, 4, transitions) // caller + receiver per session
		assert.Equal(t, 2, missed)
	})

	t.Run("lost race publishes nothing", func(t *testing.T) {
		repo := &mockSessionRepo{
			overdue: []model.CallSession{overdueSession("sess-1")},
			commit:  false,
		}
		broker := &mockBroadcaster{}
		reaper := NewRingReaper(repo, broker, 30*time.Second, 15*time.Second, time.Hour)

		reaper.Start()
		time.Sleep(50 * time.Millisecond)
		reaper.Stop()

		assert.Equal(t, []string{"sess-1"}, repo.transitioned())
		transitions, missed := broker.counts()
		assert.Equal(t, 0, transitions)
		assert.Equal(t, 0, missed)
	})
}
