package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"avatarlink/internal/config"
	"avatarlink/pkg/backend"
	"avatarlink/pkg/logger"
	"avatarlink/pkg/logic/dumper"
	"avatarlink/pkg/logic/frameq"
	"avatarlink/pkg/logic/media"
	"avatarlink/pkg/logic/relay"
	"avatarlink/pkg/logic/session"
	"avatarlink/pkg/logic/track"
	"avatarlink/pkg/logic/tts"
	"avatarlink/pkg/rooms"

	"github.com/google/uuid"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

// AvatarConnection 一路完整的虚拟形象会话：
// 终端用户经 WebRTC 连到本进程，后端渲染流经 websocket 接入，
// 中间由 relay 组件搬运
type AvatarConnection struct {
	id  string
	pc  *webrtc.PeerConnection
	cfg *config.Config

	audioTrack *webrtc.TrackLocalStaticSample
	videoTrack *webrtc.TrackLocalStaticSample

	handshake *session.Handshake
	stream    *backend.Stream
	demux     *relay.OutboundMediaDemuxer
	inbound   *relay.InboundAudioRelay
	audioSink *track.WebRTCAudioSink
	videoSink *track.WebRTCVideoSink
	producer  *tts.SpeechProducer
	audioDump *dumper.PCMDumper

	stopCh   chan struct{}
	stopOnce sync.Once
}

type WebRTCFactory struct {
	api          *webrtc.API
	webrtcConfig webrtc.Configuration
	udpMux       ice.UDPMux
}

func NewWebRTCFactory(api *webrtc.API, config webrtc.Configuration, udpMux ice.UDPMux) *WebRTCFactory {
	return &WebRTCFactory{api: api, webrtcConfig: config, udpMux: udpMux}
}

func (f *WebRTCFactory) CreateConnection(cfg *config.Config) (Connection, error) {
	peerConnection, err := f.api.NewPeerConnection(f.webrtcConfig)
	if err != nil {
		return nil, err
	}

	conn := &AvatarConnection{
		id:     uuid.NewString(),
		pc:     peerConnection,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	// 本地音轨：Opus 48kHz 单声道
	conn.audioTrack, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: media.AudioSampleRate,
		Channels:  media.AudioChannels,
	}, "audio", "avatar")
	if err != nil {
		peerConnection.Close()
		return nil, err
	}

	// 本地视频轨：后端下发编码后的 H264 负载
	conn.videoTrack, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeH264,
		ClockRate:   media.VideoTimeBase,
		SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
	}, "video", "avatar")
	if err != nil {
		peerConnection.Close()
		return nil, err
	}

	// 只发不收：采集侧由会议里的其他参与者承担
	if _, err := peerConnection.AddTransceiverFromTrack(conn.audioTrack, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	}); err != nil {
		peerConnection.Close()
		return nil, err
	}
	if _, err := peerConnection.AddTransceiverFromTrack(conn.videoTrack, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	}); err != nil {
		peerConnection.Close()
		return nil, err
	}

	conn.setupCallbacks()

	return conn, nil
}

func (c *AvatarConnection) setupCallbacks() {
	c.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Info("[%s] ICE Connection State changed: %s", c.id, state.String())
		if state == webrtc.ICEConnectionStateDisconnected || state == webrtc.ICEConnectionStateFailed {
			c.Stop()
		}
	})

	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Info("[%s] Connection State changed: %s", c.id, state.String())
	})

	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			logger.Debug("[%s] Local ICE candidate: %s", c.id, candidate.String())
		}
	})
}

// Start 建会、等后端入会、再把 relay 全链拉起来。
// 在后端成为可验证的参与者之前不会有任何组件开始搬数据。
func (c *AvatarConnection) Start() error {
	cfg := c.cfg
	ctx := context.Background()

	roomsClient := rooms.NewClient(
		config.ResolveEnv(cfg.Rooms.Endpoint),
		config.ResolveEnv(cfg.Rooms.AuthToken),
		config.ResolveEnv(cfg.Rooms.APIKey),
		config.ResolveEnv(cfg.Rooms.SecretKey),
	)
	backendClient := backend.NewClient(
		config.ResolveEnv(cfg.Avatar.BaseURL),
		config.ResolveEnv(cfg.Avatar.APIKey),
	)

	stream, err := backend.Dial(ctx, config.ResolveEnv(cfg.Avatar.StreamURL), config.ResolveEnv(cfg.Avatar.APIKey))
	if err != nil {
		return err
	}
	c.stream = stream

	grace := time.Duration(cfg.Relay.GracePeriodMs) * time.Millisecond
	c.handshake = session.NewHandshake(roomsClient, backendClient, stream, cfg.Avatar.AgentID, grace)

	audioQ := frameq.New[*media.AudioFrame](cfg.Relay.AudioQueueSize, frameq.PolicyDropOldest, 0)
	videoQ := frameq.New[*media.VideoFrame](cfg.Relay.VideoQueueSize, frameq.PolicyDropOldest, 0)

	// 入会事件由 demux 的流消费驱动，握手前就要开始读流
	c.demux = relay.NewOutboundMediaDemuxer(stream, audioQ, videoQ)
	if cfg.Debug.DumpAudio != "" {
		dump, err := dumper.NewPCMDumper(cfg.Debug.DumpAudio)
		if err != nil {
			logger.Warn("[%s] audio dump disabled: %v", c.id, err)
		} else {
			c.audioDump = dump
			c.demux.SetAudioTap(dump)
		}
	}
	c.demux.Start()

	if err := c.handshake.CreateSession(ctx, session.VideoConfig{
		Resolution:    cfg.Avatar.Resolution,
		FaceID:        cfg.Avatar.FaceID,
		BackgroundURL: cfg.Avatar.BackgroundURL,
	}); err != nil {
		c.Stop()
		return err
	}

	joinTimeout := time.Duration(cfg.Server.JoinTimeout) * time.Second
	if err := c.handshake.AwaitBackendJoin(joinTimeout); err != nil {
		c.Stop()
		return err
	}

	target, ok := c.handshake.BackendRef()
	if !ok {
		c.Stop()
		return fmt.Errorf("connection: ready without backend participant")
	}

	c.inbound, err = relay.NewInboundAudioRelay(c.handshake, stream, target, relay.InboundAudioRelayConfig{
		SubmitTimeout: time.Duration(cfg.Relay.SubmitTimeoutMs) * time.Millisecond,
		GracePeriod:   grace,
		ChunkBytes:    cfg.Relay.ChunkBytes,
		SendRetries:   cfg.Relay.SendRetries,
		InputRate:     cfg.TTS.OpenAI.SampleRate,
	})
	if err != nil {
		c.Stop()
		return err
	}
	if err := c.inbound.Start(); err != nil {
		c.Stop()
		return err
	}

	audioSource := track.NewAvatarAudioSource(audioQ, c.handshake)
	videoSource := track.NewAvatarVideoSource(videoQ, c.handshake)

	c.audioSink, err = track.NewWebRTCAudioSink(c.audioTrack, audioSource, c.handshake)
	if err != nil {
		c.Stop()
		return err
	}
	c.audioSink.Start()

	c.videoSink = track.NewWebRTCVideoSink(c.videoTrack, videoSource, c.handshake)
	c.videoSink.Start()

	if apiKey := config.ResolveEnv(cfg.TTS.OpenAI.APIKey); apiKey != "" {
		c.producer = tts.NewSpeechProducer(
			apiKey,
			config.ResolveEnv(cfg.TTS.OpenAI.BaseURL),
			c.inbound,
			cfg.TTS.OpenAI.Model,
			cfg.TTS.OpenAI.Voice,
		)
		if greeting := cfg.Agent.Greeting; greeting != "" {
			go func() {
				if _, err := c.producer.Say(context.Background(), greeting); err != nil {
					logger.Error("[%s] greeting failed: %v", c.id, err)
				}
			}()
		}
	}

	// 任何组件经 Fail 升级的致命错误都会触发 Closing，
	// 这里保证整条链路随之拆除，而不是只改状态
	c.watchSession()

	logger.Info("[%s] avatar session started, room=%s backend=%s", c.id, c.handshake.RoomID(), target.ID)
	return nil
}

// watchSession 会话进入 Closing 后拆除整条链路。
// 在所有组件都已装配完成之后才启动，避免与 Start 的字段赋值竞争。
func (c *AvatarConnection) watchSession() {
	go func() {
		select {
		case <-c.handshake.Done():
			c.Stop()
		case <-c.stopCh:
		}
	}()
}

// Stop 关闭整条链路，幂等
func (c *AvatarConnection) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.handshake != nil {
			c.handshake.Close()
		}
		if c.inbound != nil {
			c.inbound.Stop()
		}
		if c.stream != nil {
			c.stream.Close() // 唤醒 demux 的阻塞读
		}
		if c.demux != nil {
			c.demux.Stop()
		}
		if c.audioSink != nil {
			c.audioSink.Stop()
		}
		if c.videoSink != nil {
			c.videoSink.Stop()
		}
		if c.audioDump != nil {
			c.audioDump.Close()
		}
		if c.pc != nil {
			c.pc.Close()
		}
	})
}

func (c *AvatarConnection) GetID() string {
	return c.id
}

// Stats 连接的可观测计数
func (c *AvatarConnection) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"id": c.id,
	}
	if c.handshake != nil {
		stats["state"] = c.handshake.State().String()
		stats["room_id"] = c.handshake.RoomID()
	}
	if c.inbound != nil {
		stats["sent_bytes"] = c.inbound.SentBytes()
		stats["rejected_payloads"] = c.inbound.Rejected()
		stats["purged_chunks"] = c.inbound.Purged()
	}
	if c.demux != nil {
		stats["frames_routed"] = c.demux.Routed()
		stats["frames_malformed"] = c.demux.Malformed()
	}
	return stats
}

// Say 让 agent 开口（外部文本驱动入口）
func (c *AvatarConnection) Say(ctx context.Context, text string) (string, error) {
	if c.producer == nil {
		return "", fmt.Errorf("connection: no speech producer configured")
	}
	return c.producer.Say(ctx, text)
}

// Interrupt 打断正在播报的 utterance
func (c *AvatarConnection) Interrupt(utterance string) error {
	if c.producer == nil {
		return fmt.Errorf("connection: no speech producer configured")
	}
	return c.producer.Interrupt(utterance)
}

// WebRTC 信令
func (c *AvatarConnection) SetRemoteDescription(offer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(offer)
}

func (c *AvatarConnection) CreateAnswer() (*webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(&webrtc.AnswerOptions{})
	if err != nil {
		return nil, err
	}

	if err = c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}

	// 等待 ICE 候选收集完成
	<-webrtc.GatheringCompletePromise(c.pc)

	return c.pc.LocalDescription(), nil
}
