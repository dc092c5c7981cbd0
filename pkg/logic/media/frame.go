// Package media 定义在 relay 各组件之间流转的帧类型和 PCM 常量。
package media

import "time"

// 音频恒定为 48kHz 单声道 s16，20ms 一帧；视频 25fps，RTP 时基 90000。
const (
	AudioSampleRate      = 48000
	AudioChannels        = 1
	AudioSampleWidth     = 2
	AudioFrameDuration   = 20 * time.Millisecond
	AudioSamplesPerFrame = 960
	AudioChunkSize       = AudioSamplesPerFrame * AudioChannels * AudioSampleWidth

	VideoFrameRate     = 25
	VideoFrameDuration = time.Second / VideoFrameRate
	VideoTimeBase      = 90000
)

// Kind 标记帧的媒体类型
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAudio
	KindVideo
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// AudioFrame 后端渲染出的一帧 PCM 音频
type AudioFrame struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Timestamp  int64 // 采样时间戳，同类帧内单调不减
}

// VideoFrame 后端渲染出的一帧视频
type VideoFrame struct {
	Data        []byte
	Width       int
	Height      int
	PixelFormat string // "i420" / "nv12" / "h264"（编码后负载透传）
	Timestamp   int64
}

// Frame 后端入站流中的一条带类型标记的记录
type Frame struct {
	Kind  Kind
	Audio *AudioFrame
	Video *VideoFrame
}

// AudioChunk 合成语音的一段原始字节，带序号和所属 utterance
type AudioChunk struct {
	Payload   []byte
	Seq       int64
	Utterance string
}

// SilencePCM 返回一帧 20ms 静音（48kHz 单声道 s16）
func SilencePCM() []byte {
	return make([]byte, AudioChunkSize)
}

// BytesToInt16 小端字节序 PCM 转采样点
func BytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(data[i*2]) | (int16(data[i*2+1]) << 8)
	}
	return samples
}

// Int16ToBytes 采样点转小端字节序 PCM
func Int16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}
