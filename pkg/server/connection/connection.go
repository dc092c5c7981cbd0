package connection

// Connection 一路已接入的会话连接
type Connection interface {
	Start() error
	Stop()
	GetID() string
}
