// Package avwire 实现与虚拟形象后端之间的帧封装格式。
// 每条 websocket 消息承载一条记录：
//
//	magic "AVWR" | version | kind | kind 相关头部 | payload 长度 | payload
//
// 全部小端字节序。
package avwire

import (
	"errors"
	"fmt"
)

const (
	Version = 1

	// 记录类型
	KindAudio   = 1 // 后端 -> agent：渲染音频 PCM
	KindVideo   = 2 // 后端 -> agent：渲染视频帧
	KindControl = 3 // 双向：JSON 控制事件
	KindSpeech  = 4 // agent -> 后端：合成语音字节
)

var magic = [4]byte{'A', 'V', 'W', 'R'}

// ErrMalformed 记录无法解析（magic/版本/长度/类型字段非法）
var ErrMalformed = errors.New("avwire: malformed record")

// 视频像素格式编码
const (
	pixFmtI420 = 1
	pixFmtNV12 = 2
	pixFmtH264 = 3
)

var pixFmtNames = map[uint8]string{
	pixFmtI420: "i420",
	pixFmtNV12: "nv12",
	pixFmtH264: "h264",
}

var pixFmtCodes = map[string]uint8{
	"i420": pixFmtI420,
	"nv12": pixFmtNV12,
	"h264": pixFmtH264,
}

// 控制事件名
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventCancelUtterance   = "cancel_utterance"
)

// ControlEvent KindControl 记录的 JSON 负载
type ControlEvent struct {
	Event         string `json:"event"`
	ParticipantID string `json:"participant_id,omitempty"`
	Role          string `json:"role,omitempty"`
	Utterance     string `json:"utterance,omitempty"`
}

func (e *ControlEvent) Validate() error {
	if e.Event == "" {
		return fmt.Errorf("%w: control event missing event name", ErrMalformed)
	}
	switch e.Event {
	case EventParticipantJoined, EventParticipantLeft:
		if e.ParticipantID == "" {
			return fmt.Errorf("%w: %s without participant_id", ErrMalformed, e.Event)
		}
	case EventCancelUtterance:
		if e.Utterance == "" {
			return fmt.Errorf("%w: cancel_utterance without utterance id", ErrMalformed)
		}
	}
	return nil
}
