package relay

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"avatarlink/internal/protocol/avwire"
	"avatarlink/pkg/logger"
	"avatarlink/pkg/logic/frameq"
	"avatarlink/pkg/logic/media"
)

// FrameStream 后端入站媒体流（外部协作方）。
// Next 阻塞到下一帧；解析失败返回包装 avwire.ErrMalformed 的错误，
// 流结束返回 io.EOF。
type FrameStream interface {
	Next() (*media.Frame, error)
}

// OutboundMediaDemuxer 消费后端入站流，按媒体类型分流到
// 两个独立的有界队列。单 goroutine 消费保证同类帧的先后顺序。
type OutboundMediaDemuxer struct {
	stream FrameStream
	audioQ *frameq.Queue[*media.AudioFrame]
	videoQ *frameq.Queue[*media.VideoFrame]

	audioTap io.Writer // 可选：音频调试落盘

	malformed  atomic.Int64
	routed     atomic.Int64
	regressed  atomic.Int64
	lastAudioT int64
	lastVideoT int64

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewOutboundMediaDemuxer 创建分流器。队列由调用方创建并共享给对应的帧源。
func NewOutboundMediaDemuxer(stream FrameStream, audioQ *frameq.Queue[*media.AudioFrame], videoQ *frameq.Queue[*media.VideoFrame]) *OutboundMediaDemuxer {
	return &OutboundMediaDemuxer{
		stream: stream,
		audioQ: audioQ,
		videoQ: videoQ,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// SetAudioTap 设置音频帧的调试输出
func (d *OutboundMediaDemuxer) SetAudioTap(w io.Writer) {
	d.audioTap = w
}

// Start 启动分流循环
func (d *OutboundMediaDemuxer) Start() {
	go d.demuxLoop()
}

// Stop 停止分流并关闭两个队列，等待循环退出
func (d *OutboundMediaDemuxer) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	<-d.doneCh
}

// Malformed 被丢弃的坏帧累计数
func (d *OutboundMediaDemuxer) Malformed() int64 {
	return d.malformed.Load()
}

// Routed 成功入队的帧累计数
func (d *OutboundMediaDemuxer) Routed() int64 {
	return d.routed.Load()
}

func (d *OutboundMediaDemuxer) demuxLoop() {
	defer func() {
		// 流结束即终态，下游帧源排空后收到 Closed
		d.audioQ.Close()
		d.videoQ.Close()
		close(d.doneCh)
	}()

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		frame, err := d.stream.Next()
		if err != nil {
			if errors.Is(err, avwire.ErrMalformed) {
				d.malformed.Add(1)
				continue
			}
			if !errors.Is(err, io.EOF) {
				logger.Error("demux: stream error: %v", err)
			}
			return
		}

		d.route(frame)
	}
}

func (d *OutboundMediaDemuxer) route(frame *media.Frame) {
	switch frame.Kind {
	case media.KindAudio:
		if frame.Audio == nil || len(frame.Audio.PCM) == 0 {
			d.malformed.Add(1)
			return
		}
		// 同类帧时间戳单调不减，倒退的帧按坏帧丢弃
		if frame.Audio.Timestamp < d.lastAudioT {
			d.regressed.Add(1)
			return
		}
		d.lastAudioT = frame.Audio.Timestamp
		if d.audioTap != nil {
			d.audioTap.Write(frame.Audio.PCM)
		}
		// 队列关闭后 Push 返回 false，关停期间的帧不计入 routed
		if d.audioQ.Push(frame.Audio) {
			d.routed.Add(1)
		}
	case media.KindVideo:
		if frame.Video == nil || len(frame.Video.Data) == 0 {
			d.malformed.Add(1)
			return
		}
		if frame.Video.Timestamp < d.lastVideoT {
			d.regressed.Add(1)
			return
		}
		d.lastVideoT = frame.Video.Timestamp
		if d.videoQ.Push(frame.Video) {
			d.routed.Add(1)
		}
	default:
		d.malformed.Add(1)
	}
}
