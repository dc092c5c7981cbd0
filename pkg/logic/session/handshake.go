package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"avatarlink/pkg/logger"
)

var (
	// ErrHandshakeTimeout 后端在期限内没有入会，会话直接失败关闭
	ErrHandshakeTimeout = errors.New("session: avatar backend did not join before deadline")
	// ErrBadState 操作在当前状态下不允许
	ErrBadState = errors.New("session: operation not allowed in current state")
)

// VideoConfig 创建会话时传给后端的视频参数
type VideoConfig struct {
	Resolution    string
	FaceID        string
	BackgroundURL string // 可选
}

func (c VideoConfig) Validate() error {
	if c.Resolution == "" {
		return fmt.Errorf("session: video config missing resolution")
	}
	if c.FaceID == "" {
		return fmt.Errorf("session: video config missing face id")
	}
	return nil
}

// RoomService 房间/token 服务（外部协作方）
type RoomService interface {
	CreateMeeting(ctx context.Context) (string, error)
	IssueToken(roomID string, role Role) (string, error)
}

// StartSessionRequest 发给虚拟形象后端的建会请求
type StartSessionRequest struct {
	AgentID       string
	RoomID        string
	RoomToken     string
	Resolution    string
	FaceID        string
	BackgroundURL string
}

// BackendStarter 虚拟形象后端的建会入口（外部协作方）
type BackendStarter interface {
	StartSession(ctx context.Context, req StartSessionRequest) error
}

// Presence 房间在场事件源（外部协作方）
type Presence interface {
	OnParticipantJoined(func(ParticipantRef))
}

// Handshake 负责建会并等待后端入会。
// 在 Ready 之前任何 relay 组件都不允许启动，这个顺序保证
// agent 不会在渲染媒体可能出现之前开口。
type Handshake struct {
	rooms    RoomService
	backend  BackendStarter
	presence Presence
	agentID  string

	state atomic.Int32

	roomID     string
	agentToken string

	joinOnce   sync.Once
	joinedCh   chan struct{}
	backendRef atomic.Pointer[ParticipantRef]

	closingCh chan struct{} // Closing 时关闭，作为所有泵的取消信号
	closeOnce sync.Once

	mu      sync.Mutex
	closers []func() // Closing 时依次执行（关队列、断流等）

	gracePeriod time.Duration
}

// NewHandshake 创建握手器。gracePeriod 是 Closing 后各泵排空的宽限期。
func NewHandshake(rooms RoomService, backend BackendStarter, presence Presence, agentID string, gracePeriod time.Duration) *Handshake {
	h := &Handshake{
		rooms:       rooms,
		backend:     backend,
		presence:    presence,
		agentID:     agentID,
		joinedCh:    make(chan struct{}),
		closingCh:   make(chan struct{}),
		gracePeriod: gracePeriod,
	}
	h.state.Store(int32(StateInitializing))
	return h
}

// State 当前会话状态，可被任意 goroutine 读取
func (h *Handshake) State() State {
	return State(h.state.Load())
}

// Done 返回在进入 Closing 时关闭的通道
func (h *Handshake) Done() <-chan struct{} {
	return h.closingCh
}

// RoomID 建会成功后的房间 ID
func (h *Handshake) RoomID() string {
	return h.roomID
}

// AgentToken agent 侧入会 token
func (h *Handshake) AgentToken() string {
	return h.agentToken
}

// BackendRef 已识别到的后端参与者
func (h *Handshake) BackendRef() (ParticipantRef, bool) {
	ref := h.backendRef.Load()
	if ref == nil {
		return ParticipantRef{}, false
	}
	return *ref, true
}

// RegisterCloser 注册 Closing 时要执行的清理动作
func (h *Handshake) RegisterCloser(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closers = append(h.closers, fn)
}

// advance CAS 式状态迁移，保证只向前走
func (h *Handshake) advance(from, to State) bool {
	return h.state.CompareAndSwap(int32(from), int32(to))
}

// CreateSession 建会：创建房间、签发双方 token、通知后端入会。
// 成功后进入 AwaitingBackendJoin。
func (h *Handshake) CreateSession(ctx context.Context, cfg VideoConfig) error {
	if h.State() != StateInitializing {
		return fmt.Errorf("%w: CreateSession in %s", ErrBadState, h.State())
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	roomID, err := h.rooms.CreateMeeting(ctx)
	if err != nil {
		h.Fail(err)
		return fmt.Errorf("session: create meeting: %w", err)
	}
	h.roomID = roomID

	agentToken, err := h.rooms.IssueToken(roomID, RoleAgent)
	if err != nil {
		h.Fail(err)
		return fmt.Errorf("session: issue agent token: %w", err)
	}
	h.agentToken = agentToken

	backendToken, err := h.rooms.IssueToken(roomID, RoleAvatarBackend)
	if err != nil {
		h.Fail(err)
		return fmt.Errorf("session: issue backend token: %w", err)
	}

	// 先挂回调再通知后端，避免 join 事件竞争窗口
	h.presence.OnParticipantJoined(h.onParticipantJoined)

	err = h.backend.StartSession(ctx, StartSessionRequest{
		AgentID:       h.agentID,
		RoomID:        roomID,
		RoomToken:     backendToken,
		Resolution:    cfg.Resolution,
		FaceID:        cfg.FaceID,
		BackgroundURL: cfg.BackgroundURL,
	})
	if err != nil {
		h.Fail(err)
		return fmt.Errorf("session: start backend session: %w", err)
	}

	if !h.advance(StateInitializing, StateAwaitingBackendJoin) {
		return fmt.Errorf("%w: session closed during create", ErrBadState)
	}
	logger.Info("session %s created, awaiting backend join", roomID)
	return nil
}

// AwaitBackendJoin 阻塞等待后端参与者入会。超时会话失败关闭，
// 不启动任何 relay。
func (h *Handshake) AwaitBackendJoin(timeout time.Duration) error {
	if h.State() != StateAwaitingBackendJoin {
		return fmt.Errorf("%w: AwaitBackendJoin in %s", ErrBadState, h.State())
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.joinedCh:
		if !h.advance(StateAwaitingBackendJoin, StateReady) {
			return fmt.Errorf("%w: session closed while awaiting join", ErrBadState)
		}
		ref, _ := h.BackendRef()
		logger.Info("session %s ready, backend participant %s joined", h.roomID, ref.ID)
		return nil
	case <-timer.C:
		h.Fail(ErrHandshakeTimeout)
		return ErrHandshakeTimeout
	case <-h.closingCh:
		return fmt.Errorf("%w: session closing", ErrBadState)
	}
}

func (h *Handshake) onParticipantJoined(p ParticipantRef) {
	logger.Info("participant joined: id=%s role=%s", p.ID, p.Role)
	if p.Role != RoleAvatarBackend {
		return
	}
	h.joinOnce.Do(func() {
		ref := p
		h.backendRef.Store(&ref)
		close(h.joinedCh)
	})
}

// Fail 任意来源的致命错误统一走这里升级为会话关闭
func (h *Handshake) Fail(err error) {
	logger.Error("session %s failed: %v", h.roomID, err)
	h.Close()
}

// Close 幂等。进入 Closing、广播取消信号、执行清理并在宽限期后标记 Closed。
func (h *Handshake) Close() {
	h.closeOnce.Do(func() {
		h.state.Store(int32(StateClosing))
		close(h.closingCh)

		h.mu.Lock()
		closers := h.closers
		h.mu.Unlock()
		for _, fn := range closers {
			fn()
		}

		// 各泵在宽限期内排空后自行退出
		if h.gracePeriod > 0 {
			time.Sleep(h.gracePeriod)
		}
		h.state.Store(int32(StateClosed))
		logger.Info("session %s closed", h.roomID)
	})
}
