package server

import (
	"net"
	"sync"

	"avatarlink/internal/config"
	"avatarlink/pkg/logger"
	"avatarlink/pkg/server/connection"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

// AvatarServer 管理所有虚拟形象会话连接
type AvatarServer struct {
	api           *webrtc.API
	connections   sync.Map
	webrtcConfig  webrtc.Configuration
	udpMux        ice.UDPMux
	config        *config.Config
	webrtcFactory *connection.WebRTCFactory
}

func NewAvatarServer() *AvatarServer {
	return &AvatarServer{}
}

func (s *AvatarServer) Init(config *config.Config) error {
	s.config = config

	// 单端口 UDP mux，所有连接复用同一个监听
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{
		IP:   net.IPv4(0, 0, 0, 0),
		Port: config.Server.UDPPort,
	})
	if err != nil {
		return err
	}

	logger.Info("Listening for media on UDP port %d", config.Server.UDPPort)

	udpMux := webrtc.NewICEUDPMux(nil, udpConn)
	s.udpMux = udpMux

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetICEUDPMux(udpMux)
	settingEngine.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})

	s.webrtcConfig = webrtc.Configuration{
		ICEServers:         []webrtc.ICEServer{},
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
		BundlePolicy:       webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy:      webrtc.RTCPMuxPolicyRequire,
		SDPSemantics:       webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	s.api = webrtc.NewAPI(
		webrtc.WithSettingEngine(settingEngine),
	)

	s.webrtcFactory = connection.NewWebRTCFactory(s.api, s.webrtcConfig, s.udpMux)
	return nil
}

// HandleNewConnection 处理一路新会话：信令应答 + 拉起整条 relay 链
func (s *AvatarServer) HandleNewConnection(offer *webrtc.SessionDescription) (*webrtc.SessionDescription, string, error) {
	conn, err := s.webrtcFactory.CreateConnection(s.config)
	if err != nil {
		return nil, "", err
	}

	avatarConn := conn.(*connection.AvatarConnection)

	if err := avatarConn.SetRemoteDescription(*offer); err != nil {
		conn.Stop()
		return nil, "", err
	}

	answer, err := avatarConn.CreateAnswer()
	if err != nil {
		conn.Stop()
		return nil, "", err
	}

	// Start 阻塞到后端入会或超时，超时整路失败关闭
	if err := conn.Start(); err != nil {
		conn.Stop()
		return nil, "", err
	}

	s.connections.Store(conn.GetID(), conn)

	return answer, conn.GetID(), nil
}

func (s *AvatarServer) DelConnection(id string) {
	if conn, exists := s.connections.LoadAndDelete(id); exists {
		conn.(connection.Connection).Stop()
	}
}

// GetConnection 按 ID 取连接
func (s *AvatarServer) GetConnection(id string) (*connection.AvatarConnection, bool) {
	conn, exists := s.connections.Load(id)
	if !exists {
		return nil, false
	}
	return conn.(*connection.AvatarConnection), true
}
