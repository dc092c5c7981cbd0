package session

// State 会话状态，只允许向前迁移；任何状态遇到失败/关闭都可进入 StateClosing
type State int32

const (
	StateInitializing State = iota
	StateAwaitingBackendJoin
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateAwaitingBackendJoin:
		return "AwaitingBackendJoin"
	case StateReady:
		return "Ready"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Role 参与者角色
type Role int

const (
	RoleEndUser Role = iota
	RoleAgent
	RoleAvatarBackend
)

func (r Role) String() string {
	switch r {
	case RoleEndUser:
		return "end_user"
	case RoleAgent:
		return "agent"
	case RoleAvatarBackend:
		return "avatar_backend"
	default:
		return "unknown"
	}
}

// ParseRole 控制事件里的角色串转 Role，未知角色按终端用户处理
func ParseRole(s string) Role {
	switch s {
	case "agent":
		return RoleAgent
	case "avatar_backend", "backend_participant":
		return RoleAvatarBackend
	default:
		return RoleEndUser
	}
}

// ParticipantRef 房间参与者的不透明引用
type ParticipantRef struct {
	ID   string
	Role Role
}
