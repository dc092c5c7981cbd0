package track

import (
	"sync"
	"time"

	"avatarlink/pkg/logger"
	"avatarlink/pkg/logic/codec"
	"avatarlink/pkg/logic/frameq"
	"avatarlink/pkg/logic/media"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// 连续写失败达到该次数视为传输持续故障，升级为会话关闭
const maxConsecutiveWriteFailures = 5

// FailureSink 传输持续故障的上报入口
type FailureSink interface {
	Fail(error)
}

// WebRTCAudioSink 以 20ms 节拍从 AvatarAudioSource 拉帧、
// Opus 编码后写入本地音轨。队列空时写静音，保证编码管线不断流。
type WebRTCAudioSink struct {
	track    *webrtc.TrackLocalStaticSample
	source   *AvatarAudioSource
	encoder  *codec.OpusEncoder
	escalate FailureSink

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

func NewWebRTCAudioSink(track *webrtc.TrackLocalStaticSample, source *AvatarAudioSource, escalate FailureSink) (*WebRTCAudioSink, error) {
	encoder, err := codec.NewOpusEncoder(media.AudioSampleRate, media.AudioChannels)
	if err != nil {
		return nil, err
	}
	return &WebRTCAudioSink{
		track:    track,
		source:   source,
		encoder:  encoder,
		escalate: escalate,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

func (s *WebRTCAudioSink) Start() {
	go s.writeLoop()
}

func (s *WebRTCAudioSink) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

func (s *WebRTCAudioSink) writeLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(media.AudioFrameDuration)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		var pcm []byte
		frame, res := s.source.NextFrame(0)
		switch res {
		case frameq.PopOK:
			pcm = frame.PCM
		case frameq.PopEmpty:
			pcm = media.SilencePCM()
		case frameq.PopClosed:
			return
		}

		if len(pcm) != media.AudioChunkSize {
			logger.Warn("audio sink: unexpected frame size %d, expected %d", len(pcm), media.AudioChunkSize)
			continue
		}

		packet, err := s.encoder.Encode(pcm)
		if err != nil {
			logger.Error("audio sink: encode failed: %v", err)
			continue
		}

		if err := s.track.WriteSample(pionmedia.Sample{
			Data:     packet,
			Duration: media.AudioFrameDuration,
		}); err != nil {
			failures++
			logger.Error("audio sink: write sample failed (%d consecutive): %v", failures, err)
			if failures >= maxConsecutiveWriteFailures {
				s.escalate.Fail(err)
				return
			}
			continue
		}
		failures = 0
	}
}

// WebRTCVideoSink 以 40ms 节拍（25fps）从 AvatarVideoSource 拉帧写入
// 本地视频轨。队列空时跳过本拍，由接收端重复上一幅画面。
type WebRTCVideoSink struct {
	track    *webrtc.TrackLocalStaticSample
	source   *AvatarVideoSource
	escalate FailureSink

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

func NewWebRTCVideoSink(track *webrtc.TrackLocalStaticSample, source *AvatarVideoSource, escalate FailureSink) *WebRTCVideoSink {
	return &WebRTCVideoSink{
		track:    track,
		source:   source,
		escalate: escalate,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *WebRTCVideoSink) Start() {
	go s.writeLoop()
}

func (s *WebRTCVideoSink) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

func (s *WebRTCVideoSink) writeLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(media.VideoFrameDuration)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		frame, res := s.source.NextFrame(0)
		switch res {
		case frameq.PopEmpty:
			continue
		case frameq.PopClosed:
			return
		}

		if frame.PixelFormat != "h264" {
			// 裸像素帧需要前置编码器，后端约定直接下发编码后负载
			logger.Warn("video sink: dropping frame with pixel format %s", frame.PixelFormat)
			continue
		}

		if err := s.track.WriteSample(pionmedia.Sample{
			Data:     frame.Data,
			Duration: media.VideoFrameDuration,
		}); err != nil {
			failures++
			logger.Error("video sink: write sample failed (%d consecutive): %v", failures, err)
			if failures >= maxConsecutiveWriteFailures {
				s.escalate.Fail(err)
				return
			}
			continue
		}
		failures = 0
	}
}
