package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avatarlink/internal/config"
	"avatarlink/pkg/logger"
	"avatarlink/pkg/logic/frameq"
	"avatarlink/pkg/logic/media"
	"avatarlink/pkg/logic/session"
)

func init() {
	logger.InitLogger(&config.LogConfig{Level: "error"})
}

type staticGate struct {
	state session.State
}

func (g *staticGate) State() session.State { return g.state }

func TestAudioSource_EmptyBeforeReady(t *testing.T) {
	q := frameq.New[*media.AudioFrame](4, frameq.PolicyDropOldest, 0)
	gate := &staticGate{state: session.StateAwaitingBackendJoin}
	src := NewAvatarAudioSource(q, gate)

	// Ready 之前即使队列有数据也不吐
	q.Push(&media.AudioFrame{PCM: media.SilencePCM()})
	frame, res := src.NextFrame(0)
	assert.Nil(t, frame)
	assert.Equal(t, frameq.PopEmpty, res)

	gate.state = session.StateReady
	frame, res = src.NextFrame(0)
	require.Equal(t, frameq.PopOK, res)
	assert.Len(t, frame.PCM, media.AudioChunkSize)
}

func TestAudioSource_EmptyThenOK(t *testing.T) {
	q := frameq.New[*media.AudioFrame](4, frameq.PolicyDropOldest, 0)
	src := NewAvatarAudioSource(q, &staticGate{state: session.StateReady})

	_, res := src.NextFrame(0)
	assert.Equal(t, frameq.PopEmpty, res)

	q.Push(&media.AudioFrame{PCM: []byte{1, 2}, Timestamp: 960})
	frame, res := src.NextFrame(0)
	require.Equal(t, frameq.PopOK, res)
	assert.Equal(t, int64(960), frame.Timestamp)
}

func TestAudioSource_ClosedIsTerminal(t *testing.T) {
	q := frameq.New[*media.AudioFrame](4, frameq.PolicyDropOldest, 0)
	src := NewAvatarAudioSource(q, &staticGate{state: session.StateReady})

	q.Push(&media.AudioFrame{PCM: []byte{1, 2}})
	q.Close()

	// 关闭后先排空缓冲
	_, res := src.NextFrame(0)
	assert.Equal(t, frameq.PopOK, res)
	_, res = src.NextFrame(100 * time.Millisecond)
	assert.Equal(t, frameq.PopClosed, res)
	_, res = src.NextFrame(100 * time.Millisecond)
	assert.Equal(t, frameq.PopClosed, res)
}

func TestVideoSource_TimeoutReturnsEmpty(t *testing.T) {
	q := frameq.New[*media.VideoFrame](2, frameq.PolicyDropOldest, 0)
	src := NewAvatarVideoSource(q, &staticGate{state: session.StateReady})

	start := time.Now()
	frame, res := src.NextFrame(30 * time.Millisecond)
	assert.Nil(t, frame)
	assert.Equal(t, frameq.PopEmpty, res)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestVideoSource_KeepsLatestWhenLagging(t *testing.T) {
	// 容量 2 的 DropOldest 队列：消费端落后时总是看到最近的帧
	q := frameq.New[*media.VideoFrame](2, frameq.PolicyDropOldest, 0)
	src := NewAvatarVideoSource(q, &staticGate{state: session.StateReady})

	for ts := int64(0); ts < 5; ts++ {
		q.Push(&media.VideoFrame{Data: []byte{1}, PixelFormat: "h264", Timestamp: ts * 3600})
	}

	frame, res := src.NextFrame(0)
	require.Equal(t, frameq.PopOK, res)
	assert.Equal(t, int64(3*3600), frame.Timestamp)
	frame, res = src.NextFrame(0)
	require.Equal(t, frameq.PopOK, res)
	assert.Equal(t, int64(4*3600), frame.Timestamp)
}
