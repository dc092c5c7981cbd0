package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"avatarlink/internal/protocol/avwire"
	"avatarlink/pkg/logger"
	"avatarlink/pkg/logic/media"
	"avatarlink/pkg/logic/relay"
	"avatarlink/pkg/logic/session"

	"github.com/gorilla/websocket"
)

// Stream 与后端的 websocket 连接。同时承担三个角色：
//   - 入站媒体流（relay.FrameStream）
//   - 发往后端参与者的定向侧信道（relay.SideChannel）
//   - 房间在场事件源（session.Presence）
type Stream struct {
	conn *websocket.Conn

	writeMu sync.Mutex // websocket 写端不允许并发

	cbMu      sync.Mutex
	joinedCbs []func(session.ParticipantRef)

	closeOnce sync.Once
}

// Dial 建立到后端媒体流的连接
func Dial(ctx context.Context, streamURL, apiKey string) (*Stream, error) {
	header := http.Header{}
	header.Set("x-api-key", apiKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, streamURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("backend: dial stream: %v (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("backend: dial stream: %v", err)
	}
	return &Stream{conn: conn}, nil
}

// OnParticipantJoined 注册入会事件回调，必须在消费 Next 之前挂好
func (s *Stream) OnParticipantJoined(cb func(session.ParticipantRef)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.joinedCbs = append(s.joinedCbs, cb)
}

// Next 阻塞读取下一帧媒体。控制事件在这里就地分发，不向上传递。
// 解析失败返回包装 avwire.ErrMalformed 的错误，连接关闭返回 io.EOF。
func (s *Stream) Next() (*media.Frame, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if msgType != websocket.BinaryMessage {
			return nil, fmt.Errorf("%w: non-binary websocket message", avwire.ErrMalformed)
		}

		msg, err := avwire.Decode(data)
		if err != nil {
			return nil, err
		}

		switch msg.Kind {
		case avwire.KindAudio, avwire.KindVideo:
			return msg.Frame, nil
		case avwire.KindControl:
			s.dispatchControl(msg.Control)
		default:
			// 后端不应该下发 speech 方向的记录
			return nil, fmt.Errorf("%w: unexpected kind %d from backend", avwire.ErrMalformed, msg.Kind)
		}
	}
}

func (s *Stream) dispatchControl(event *avwire.ControlEvent) {
	switch event.Event {
	case avwire.EventParticipantJoined:
		ref := session.ParticipantRef{
			ID:   event.ParticipantID,
			Role: session.ParseRole(event.Role),
		}
		s.cbMu.Lock()
		cbs := make([]func(session.ParticipantRef), len(s.joinedCbs))
		copy(cbs, s.joinedCbs)
		s.cbMu.Unlock()
		for _, cb := range cbs {
			cb(ref)
		}
	case avwire.EventParticipantLeft:
		logger.Info("backend: participant left: %s", event.ParticipantID)
	default:
		logger.Warn("backend: ignoring control event %q", event.Event)
	}
}

// SendTo 定向发送一段合成语音给指定后端参与者
func (s *Stream) SendTo(target session.ParticipantRef, utterance string, seq int64, payload []byte) error {
	record := avwire.EncodeSpeech(target.ID, utterance, seq, payload)
	return s.write(record)
}

// CancelUtterance 通知后端停止渲染指定 utterance
func (s *Stream) CancelUtterance(target session.ParticipantRef, utterance string) error {
	record, err := avwire.EncodeControl(avwire.ControlEvent{
		Event:         avwire.EventCancelUtterance,
		ParticipantID: target.ID,
		Utterance:     utterance,
	})
	if err != nil {
		return err
	}
	return s.write(record)
}

func (s *Stream) write(record []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, record)
}

// Close 幂等关闭连接，唤醒阻塞中的 Next
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

var (
	_ relay.FrameStream = (*Stream)(nil)
	_ relay.SideChannel = (*Stream)(nil)
	_ session.Presence  = (*Stream)(nil)
)
