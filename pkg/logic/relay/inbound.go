// Package relay 实现媒体中继核心：agent 合成语音经侧信道送往
// 虚拟形象后端，后端渲染出的音视频帧分流进出站队列。
package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"avatarlink/pkg/logger"
	"avatarlink/pkg/logic/frameq"
	"avatarlink/pkg/logic/media"
	"avatarlink/pkg/logic/resampler"
	"avatarlink/pkg/logic/session"
)

var (
	// ErrMalformedAudioPayload 提交的负载不是二进制音频，Submit 直接拒绝
	ErrMalformedAudioPayload = errors.New("relay: payload is not binary audio")
	// ErrBusy Block 策略下入队超时，给合成端的自然背压
	ErrBusy = errors.New("relay: inbound queue busy")
	// ErrClosed 会话已关闭
	ErrClosed = errors.New("relay: session closed")
	// ErrNotReady 会话尚未 Ready，不接收语音
	ErrNotReady = errors.New("relay: session not ready")
)

// SessionGate relay 组件对会话状态的只读视图加失败上报入口
type SessionGate interface {
	State() session.State
	Done() <-chan struct{}
	Fail(error)
}

// SideChannel 发往后端参与者的定向侧信道（外部协作方）。
// 发送是定向的，房间里的其他参与者不会收到语音字节。
type SideChannel interface {
	SendTo(target session.ParticipantRef, utterance string, seq int64, payload []byte) error
	CancelUtterance(target session.ParticipantRef, utterance string) error
}

// InboundAudioRelayConfig 泵的可调参数
type InboundAudioRelayConfig struct {
	QueueSize     int           // 内部队列容量
	SubmitTimeout time.Duration // Block 策略入队等待
	GracePeriod   time.Duration // Closing 后排空宽限
	ChunkBytes    int           // 侧信道单条消息的负载上限
	SendRetries   int           // 单条消息的发送重试次数
	RetryBackoff  time.Duration // 首次重试间隔，随后翻倍
	InputRate     int           // 合成端采样率，不等于 48000 时重采样
	InputChannels int
}

func (c *InboundAudioRelayConfig) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 200 * time.Millisecond
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 2 * time.Second
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = 6000
	}
	if c.SendRetries <= 0 {
		c.SendRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.InputRate <= 0 {
		c.InputRate = media.AudioSampleRate
	}
	if c.InputChannels <= 0 {
		c.InputChannels = media.AudioChannels
	}
}

// InboundAudioRelay 把 agent 的合成语音经侧信道泵往后端
type InboundAudioRelay struct {
	gate   SessionGate
	sender SideChannel
	target session.ParticipantRef
	queue  *frameq.Queue[media.AudioChunk]
	cfg    InboundAudioRelayConfig
	conv   *resampler.Resampler

	seq       atomic.Int64
	sentBytes atomic.Int64
	rejected  atomic.Int64
	purged    atomic.Int64

	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewInboundAudioRelay 创建语音中继。target 是已识别的后端参与者。
func NewInboundAudioRelay(gate SessionGate, sender SideChannel, target session.ParticipantRef, cfg InboundAudioRelayConfig) (*InboundAudioRelay, error) {
	cfg.applyDefaults()

	var conv *resampler.Resampler
	if cfg.InputRate != media.AudioSampleRate || cfg.InputChannels != media.AudioChannels {
		var err error
		conv, err = resampler.New(cfg.InputRate, media.AudioSampleRate, cfg.InputChannels, media.AudioChannels)
		if err != nil {
			return nil, err
		}
	}

	return &InboundAudioRelay{
		gate:   gate,
		sender: sender,
		target: target,
		queue:  frameq.New[media.AudioChunk](cfg.QueueSize, frameq.PolicyBlock, cfg.SubmitTimeout),
		cfg:    cfg,
		conv:   conv,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Submit 提交一段合成语音。非二进制音频负载直接拒绝，
// 队列满时在 SubmitTimeout 内阻塞，超时返回 ErrBusy。
func (r *InboundAudioRelay) Submit(payload []byte, utterance string) error {
	if err := validateAudioPayload(payload); err != nil {
		r.rejected.Add(1)
		return err
	}
	if r.gate.State() != session.StateReady {
		return ErrNotReady
	}

	// 奇数长度补零，保证 s16 对齐
	if len(payload)%2 != 0 {
		payload = append(payload, 0)
	}

	chunk := media.AudioChunk{
		Payload:   payload,
		Seq:       r.seq.Add(1),
		Utterance: utterance,
	}
	if !r.queue.Push(chunk) {
		if r.queue.Closed() {
			return ErrClosed
		}
		return ErrBusy
	}
	return nil
}

// Cancel 清除 utterance 尚未发出的分块，并通知后端停止渲染
func (r *InboundAudioRelay) Cancel(utterance string) error {
	n := r.queue.Purge(func(c media.AudioChunk) bool {
		return c.Utterance == utterance
	})
	r.purged.Add(int64(n))
	logger.Info("relay: cancelled utterance %s, purged %d queued chunks", utterance, n)
	return r.sender.CancelUtterance(r.target, utterance)
}

// Start 启动泵。只允许在会话 Ready 后调用。
func (r *InboundAudioRelay) Start() error {
	if r.gate.State() != session.StateReady {
		return ErrNotReady
	}
	r.started.Store(true)
	go r.pumpLoop()
	return nil
}

// Stop 停止泵，等待其退出
func (r *InboundAudioRelay) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.queue.Close()
	})
	if r.started.Load() {
		<-r.doneCh
	}
}

// SentBytes 经侧信道成功送出的累计字节数
func (r *InboundAudioRelay) SentBytes() int64 {
	return r.sentBytes.Load()
}

// Rejected 被硬校验拒绝的提交数
func (r *InboundAudioRelay) Rejected() int64 {
	return r.rejected.Load()
}

// Purged 因 Cancel 被清除的分块数
func (r *InboundAudioRelay) Purged() int64 {
	return r.purged.Load()
}

func (r *InboundAudioRelay) pumpLoop() {
	defer close(r.doneCh)

	var drainDeadline time.Time
	for {
		select {
		case <-r.gate.Done():
			// Closing：宽限期内尽力排空
			if drainDeadline.IsZero() {
				drainDeadline = time.Now().Add(r.cfg.GracePeriod)
				r.queue.Close()
			}
			if time.Now().After(drainDeadline) {
				return
			}
		case <-r.stopCh:
			if drainDeadline.IsZero() {
				drainDeadline = time.Now().Add(r.cfg.GracePeriod)
			}
			if time.Now().After(drainDeadline) {
				return
			}
		default:
		}

		chunk, res := r.queue.Pop(100 * time.Millisecond)
		switch res {
		case frameq.PopClosed:
			return
		case frameq.PopEmpty:
			continue
		}

		payload := chunk.Payload
		if r.conv != nil {
			converted, err := r.conv.Process(payload)
			if err != nil {
				logger.Error("relay: resample failed, dropping chunk seq=%d: %v", chunk.Seq, err)
				continue
			}
			if len(converted) == 0 {
				continue // 重采样器还在攒样本
			}
			payload = converted
		}

		if !r.sendChunked(chunk, payload) {
			return
		}
	}
}

// sendChunked 按 ChunkBytes 切分发送，持续失败升级为会话关闭
func (r *InboundAudioRelay) sendChunked(chunk media.AudioChunk, payload []byte) bool {
	for i := 0; i < len(payload); i += r.cfg.ChunkBytes {
		end := i + r.cfg.ChunkBytes
		if end > len(payload) {
			end = len(payload)
		}
		segment := payload[i:end]

		if err := r.sendWithRetry(chunk, segment); err != nil {
			logger.Error("relay: side-channel send failed after %d retries: %v", r.cfg.SendRetries, err)
			r.gate.Fail(err)
			return false
		}
		r.sentBytes.Add(int64(len(segment)))
	}
	return true
}

func (r *InboundAudioRelay) sendWithRetry(chunk media.AudioChunk, segment []byte) error {
	backoff := r.cfg.RetryBackoff
	var err error
	for attempt := 0; attempt < r.cfg.SendRetries; attempt++ {
		err = r.sender.SendTo(r.target, chunk.Utterance, chunk.Seq, segment)
		if err == nil {
			return nil
		}
		logger.Warn("relay: send attempt %d failed: %v", attempt+1, err)
		select {
		case <-r.gate.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// validateAudioPayload 拒绝空负载和疑似文本的负载。
// 误投的字符串必须在这里就被拒绝，绝不能流向后端。
func validateAudioPayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrMalformedAudioPayload
	}
	if looksLikeText(payload) {
		return ErrMalformedAudioPayload
	}
	return nil
}

// looksLikeText 整段为可打印 UTF-8 文本时判定为误投的字符串。
// 真实 PCM 几乎不可能整段落在可打印区间。
func looksLikeText(payload []byte) bool {
	if !utf8.Valid(payload) {
		return false
	}
	for _, r := range string(payload) {
		if r == utf8.RuneError {
			return false
		}
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
