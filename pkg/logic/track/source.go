// Package track 把出站队列包装成按需拉取的帧源，并适配到
// 会议侧的本地媒体轨。
package track

import (
	"time"

	"avatarlink/pkg/logic/frameq"
	"avatarlink/pkg/logic/media"
	"avatarlink/pkg/logic/session"
)

// Gate 帧源对会话状态的只读视图
type Gate interface {
	State() session.State
}

// AvatarAudioSource 出站音频的按需拉取源。队列空时返回 PopEmpty，
// 调用方用静音帧补位，绝不无限阻塞编码管线。
type AvatarAudioSource struct {
	queue *frameq.Queue[*media.AudioFrame]
	gate  Gate
}

func NewAvatarAudioSource(queue *frameq.Queue[*media.AudioFrame], gate Gate) *AvatarAudioSource {
	return &AvatarAudioSource{queue: queue, gate: gate}
}

// NextFrame 取下一帧，最多等待 timeout。
// 会话 Ready 之前不吐数据，只报告 Empty。
func (s *AvatarAudioSource) NextFrame(timeout time.Duration) (*media.AudioFrame, frameq.PopResult) {
	switch s.gate.State() {
	case session.StateInitializing, session.StateAwaitingBackendJoin:
		return nil, frameq.PopEmpty
	}
	return s.queue.Pop(timeout)
}

// AvatarVideoSource 出站视频的按需拉取源
type AvatarVideoSource struct {
	queue *frameq.Queue[*media.VideoFrame]
	gate  Gate
}

func NewAvatarVideoSource(queue *frameq.Queue[*media.VideoFrame], gate Gate) *AvatarVideoSource {
	return &AvatarVideoSource{queue: queue, gate: gate}
}

// NextFrame 取下一帧，语义同 AvatarAudioSource.NextFrame
func (s *AvatarVideoSource) NextFrame(timeout time.Duration) (*media.VideoFrame, frameq.PopResult) {
	switch s.gate.State() {
	case session.StateInitializing, session.StateAwaitingBackendJoin:
		return nil, frameq.PopEmpty
	}
	return s.queue.Pop(timeout)
}
