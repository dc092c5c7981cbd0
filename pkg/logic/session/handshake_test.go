package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avatarlink/internal/config"
	"avatarlink/pkg/logger"
)

func init() {
	logger.InitLogger(&config.LogConfig{Level: "error"})
}

type fakeRooms struct {
	createErr error
	tokenErr  error
	issued    []Role
}

func (r *fakeRooms) CreateMeeting(context.Context) (string, error) {
	if r.createErr != nil {
		return "", r.createErr
	}
	return "room-123", nil
}

func (r *fakeRooms) IssueToken(roomID string, role Role) (string, error) {
	if r.tokenErr != nil {
		return "", r.tokenErr
	}
	r.issued = append(r.issued, role)
	return "token-" + role.String(), nil
}

type fakeBackend struct {
	startErr error
	req      StartSessionRequest
	called   bool
}

func (b *fakeBackend) StartSession(_ context.Context, req StartSessionRequest) error {
	b.called = true
	b.req = req
	return b.startErr
}

// fakePresence 捕获回调，测试里手动触发入会事件
type fakePresence struct {
	mu sync.Mutex
	cb func(ParticipantRef)
}

func (p *fakePresence) OnParticipantJoined(cb func(ParticipantRef)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = cb
}

func (p *fakePresence) join(ref ParticipantRef) {
	p.mu.Lock()
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb(ref)
	}
}

func newTestHandshake(rooms *fakeRooms, backend *fakeBackend, presence *fakePresence) *Handshake {
	return NewHandshake(rooms, backend, presence, "agent-1", 10*time.Millisecond)
}

func TestHandshake_CreateSession(t *testing.T) {
	rooms := &fakeRooms{}
	backend := &fakeBackend{}
	presence := &fakePresence{}
	h := newTestHandshake(rooms, backend, presence)

	require.Equal(t, StateInitializing, h.State())

	err := h.CreateSession(context.Background(), VideoConfig{Resolution: "720p", FaceID: "f1"})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingBackendJoin, h.State())

	assert.Equal(t, "room-123", h.RoomID())
	assert.Equal(t, "token-agent", h.AgentToken())
	assert.Equal(t, []Role{RoleAgent, RoleAvatarBackend}, rooms.issued)

	require.True(t, backend.called)
	assert.Equal(t, "agent-1", backend.req.AgentID)
	assert.Equal(t, "room-123", backend.req.RoomID)
	assert.Equal(t, "token-avatar_backend", backend.req.RoomToken)
	assert.Equal(t, "720p", backend.req.Resolution)
	assert.Equal(t, "f1", backend.req.FaceID)

	// 回调在通知后端之前就已挂好
	presence.mu.Lock()
	assert.NotNil(t, presence.cb)
	presence.mu.Unlock()
}

func TestHandshake_RejectsInvalidVideoConfig(t *testing.T) {
	h := newTestHandshake(&fakeRooms{}, &fakeBackend{}, &fakePresence{})

	err := h.CreateSession(context.Background(), VideoConfig{FaceID: "f1"})
	assert.Error(t, err)
	err = h.CreateSession(context.Background(), VideoConfig{Resolution: "720p"})
	assert.Error(t, err)
}

func TestHandshake_ReadyOnlyAfterBackendJoins(t *testing.T) {
	presence := &fakePresence{}
	h := newTestHandshake(&fakeRooms{}, &fakeBackend{}, presence)
	require.NoError(t, h.CreateSession(context.Background(), VideoConfig{Resolution: "720p", FaceID: "f1"}))

	start := time.Now()
	go func() {
		time.Sleep(100 * time.Millisecond)
		presence.join(ParticipantRef{ID: "backend_participant", Role: RoleAvatarBackend})
	}()

	require.NoError(t, h.AwaitBackendJoin(5*time.Second))
	elapsed := time.Since(start)

	assert.Equal(t, StateReady, h.State())
	// 在入会事件前不提前 Ready，在超时前不等满全程
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	ref, ok := h.BackendRef()
	require.True(t, ok)
	assert.Equal(t, "backend_participant", ref.ID)
}

func TestHandshake_EndUserJoinDoesNotTriggerReady(t *testing.T) {
	presence := &fakePresence{}
	h := newTestHandshake(&fakeRooms{}, &fakeBackend{}, presence)
	require.NoError(t, h.CreateSession(context.Background(), VideoConfig{Resolution: "720p", FaceID: "f1"}))

	presence.join(ParticipantRef{ID: "viewer-1", Role: RoleEndUser})

	err := h.AwaitBackendJoin(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestHandshake_TimeoutFailsClosed(t *testing.T) {
	presence := &fakePresence{}
	h := newTestHandshake(&fakeRooms{}, &fakeBackend{}, presence)
	require.NoError(t, h.CreateSession(context.Background(), VideoConfig{Resolution: "720p", FaceID: "f1"}))

	err := h.AwaitBackendJoin(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, StateClosed, h.State())

	// 失败关闭后，再次等待直接拒绝
	err = h.AwaitBackendJoin(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrBadState)
}

func TestHandshake_CreateFailurePropagatesAndCloses(t *testing.T) {
	boom := errors.New("rooms unavailable")
	h := newTestHandshake(&fakeRooms{createErr: boom}, &fakeBackend{}, &fakePresence{})

	err := h.CreateSession(context.Background(), VideoConfig{Resolution: "720p", FaceID: "f1"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateClosed, h.State())
}

func TestHandshake_BackendStartFailureCloses(t *testing.T) {
	boom := errors.New("start-session 503")
	h := newTestHandshake(&fakeRooms{}, &fakeBackend{startErr: boom}, &fakePresence{})

	err := h.CreateSession(context.Background(), VideoConfig{Resolution: "720p", FaceID: "f1"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateClosed, h.State())
}

func TestHandshake_CloseRunsClosersOnce(t *testing.T) {
	presence := &fakePresence{}
	h := newTestHandshake(&fakeRooms{}, &fakeBackend{}, presence)

	var calls int
	h.RegisterCloser(func() { calls++ })

	h.Close()
	h.Close()
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, h.State())

	select {
	case <-h.Done():
	default:
		t.Fatal("Done channel not closed after Close")
	}
}

func TestHandshake_DuplicateJoinIgnored(t *testing.T) {
	presence := &fakePresence{}
	h := newTestHandshake(&fakeRooms{}, &fakeBackend{}, presence)
	require.NoError(t, h.CreateSession(context.Background(), VideoConfig{Resolution: "720p", FaceID: "f1"}))

	presence.join(ParticipantRef{ID: "backend-a", Role: RoleAvatarBackend})
	presence.join(ParticipantRef{ID: "backend-b", Role: RoleAvatarBackend})

	require.NoError(t, h.AwaitBackendJoin(time.Second))
	ref, ok := h.BackendRef()
	require.True(t, ok)
	assert.Equal(t, "backend-a", ref.ID)
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleAvatarBackend, ParseRole("avatar_backend"))
	assert.Equal(t, RoleAvatarBackend, ParseRole("backend_participant"))
	assert.Equal(t, RoleAgent, ParseRole("agent"))
	assert.Equal(t, RoleEndUser, ParseRole("end_user"))
}
