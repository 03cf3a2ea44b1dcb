package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openclaw/link-server-go/internal/model"
	"github.com/openclaw/link-server-go/internal/repository/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store         *memory.Store
	clock         *fakeClock
	relationships *RelationshipService
	pairing       *PairingService
	sessions      *AdminSessionService
	control       *ControlService
}

func newTestEnv(t *testing.T, tweaks ...func(*Settings)) *testEnv {
	t.Helper()
	settings := DefaultSettings()
	for _, tweak := range tweaks {
		tweak(&settings)
	}
	return newTestEnvWith(t, settings, NewCodeGenerator(), NoLimit{}, nil)
}

func newTestEnvWith(t *testing.T, settings Settings, generator *CodeGenerator, limiter Limiter, invoker CapabilityInvoker) *testEnv {
	t.Helper()
	store := memory.NewStore()
	clock := newFakeClock()
	relationships := NewRelationshipService(store, clock, settings)
	sessions := NewAdminSessionService(store, relationships, clock, settings)
	return &testEnv{
		store:         store,
		clock:         clock,
		relationships: relationships,
		pairing:       NewPairingService(store, relationships, generator, clock, limiter, settings),
		sessions:      sessions,
		control:       NewControlService(sessions, relationships, invoker, clock),
	}
}

// pair runs generate and redeem and returns the resulting relationship.
func (e *testEnv) pair(t *testing.T, subjectID, controllerID string) *model.Relationship {
	t.Helper()
	ctx := context.Background()
	generated, err := e.pairing.GenerateCode(ctx, subjectID, DefaultGenerateCodeOptions())
	require.NoError(t, err)
	rel, err := e.pairing.RedeemCode(ctx, generated.Code, controllerID, RedeemOptions{})
	require.NoError(t, err)
	return rel
}

// startSession pairs and opens an admin session for the controller.
func (e *testEnv) startSession(t *testing.T) (*model.Relationship, *model.AdminSession) {
	t.Helper()
	rel := e.pair(t, "subject-1", "controller-1")
	session, err := e.sessions.StartSession(context.Background(), rel.ID, "controller-1", "203.0.113.10")
	require.NoError(t, err)
	return rel, session
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }
