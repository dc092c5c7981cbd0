package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LogConfig 日志配置（级别、文件路径和轮转参数）
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

type Config struct {
	Server struct {
		HTTPPort    int      `yaml:"http_port"`
		UDPPort     int      `yaml:"udp_port"`
		PublicIP    []string `yaml:"public_ip"`
		JoinTimeout int      `yaml:"join_timeout_s"` // 等待虚拟形象后端入会的超时（秒）
	} `yaml:"server"`
	Log   LogConfig `yaml:"log"`
	Rooms struct {
		Endpoint  string `yaml:"endpoint"`   // 会议/房间服务 REST 地址
		AuthToken string `yaml:"auth_token"` // 创建房间用的鉴权 token
		APIKey    string `yaml:"api_key"`    // JWT payload 中的 apikey
		SecretKey string `yaml:"secret_key"` // JWT HS256 签名密钥
	} `yaml:"rooms"`
	Avatar struct {
		BaseURL       string `yaml:"base_url"` // 虚拟形象后端 REST 地址
		StreamURL     string `yaml:"stream_url"`
		APIKey        string `yaml:"api_key"`
		AgentID       string `yaml:"agent_id"`
		FaceID        string `yaml:"face_id"`
		Resolution    string `yaml:"resolution"`
		BackgroundURL string `yaml:"background_url"`
	} `yaml:"avatar"`
	TTS struct {
		Type   string `yaml:"type"`
		OpenAI struct {
			APIKey     string `yaml:"api_key"`
			BaseURL    string `yaml:"base_url"`
			Model      string `yaml:"model"`
			Voice      string `yaml:"voice"`
			SampleRate int    `yaml:"sample_rate"` // PCM 输出采样率，OpenAI 固定 24000
		} `yaml:"openai"`
	} `yaml:"tts"`
	Agent struct {
		Greeting string `yaml:"greeting"` // 会话就绪后播报的开场白，留空则不播报
	} `yaml:"agent"`
	Relay struct {
		AudioQueueSize  int `yaml:"audio_queue_size"`
		VideoQueueSize  int `yaml:"video_queue_size"`
		SubmitTimeoutMs int `yaml:"submit_timeout_ms"`
		GracePeriodMs   int `yaml:"grace_period_ms"`
		SendRetries     int `yaml:"send_retries"`
		ChunkBytes      int `yaml:"chunk_bytes"`
	} `yaml:"relay"`
	Debug struct {
		DumpAudio string `yaml:"dump_audio"` // 非空时把收到的音频帧落盘为裸 PCM
	} `yaml:"debug"`
}

func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	err = yaml.Unmarshal(file, config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.JoinTimeout <= 0 {
		c.Server.JoinTimeout = 30
	}
	if c.Relay.AudioQueueSize <= 0 {
		c.Relay.AudioQueueSize = 10
	}
	if c.Relay.VideoQueueSize <= 0 {
		c.Relay.VideoQueueSize = 2
	}
	if c.Relay.SubmitTimeoutMs <= 0 {
		c.Relay.SubmitTimeoutMs = 200
	}
	if c.Relay.GracePeriodMs <= 0 {
		c.Relay.GracePeriodMs = 2000
	}
	if c.Relay.SendRetries <= 0 {
		c.Relay.SendRetries = 3
	}
	if c.Relay.ChunkBytes <= 0 {
		c.Relay.ChunkBytes = 6000
	}
	if c.TTS.OpenAI.SampleRate <= 0 {
		c.TTS.OpenAI.SampleRate = 24000
	}
}

// ResolveEnv 配置值以 $ 开头时从环境变量取值
func ResolveEnv(v string) string {
	if strings.HasPrefix(v, "$") {
		return os.Getenv(v[1:])
	}
	return v
}
