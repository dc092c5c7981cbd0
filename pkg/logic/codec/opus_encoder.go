// Package codec 出站音轨用的 Opus 编码。
package codec

import (
	"fmt"

	"avatarlink/pkg/logic/media"

	"github.com/hraban/opus"
)

// OpusEncoder 把 20ms 的 s16 PCM 帧编码为 Opus 包
type OpusEncoder struct {
	encoder   *opus.Encoder
	channels  int
	frameSize int // 每帧采样点数（含所有声道）
	out       []byte
}

func NewOpusEncoder(sampleRate, channels int) (*OpusEncoder, error) {
	encoder, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus encoder: %v", err)
	}

	return &OpusEncoder{
		encoder:   encoder,
		channels:  channels,
		frameSize: sampleRate / 50 * channels, // 20ms
		out:       make([]byte, 2048),
	}, nil
}

// Encode 编码一帧。输入必须恰好是一帧的字节数。
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	samples := media.BytesToInt16(pcm)
	if len(samples) != e.frameSize {
		return nil, fmt.Errorf("codec: expected %d samples per frame, got %d", e.frameSize, len(samples))
	}

	n, err := e.encoder.Encode(samples, e.out)
	if err != nil {
		return nil, fmt.Errorf("codec: opus encode: %v", err)
	}

	packet := make([]byte, n)
	copy(packet, e.out[:n])
	return packet, nil
}

// FrameSize 每帧采样点数
func (e *OpusEncoder) FrameSize() int {
	return e.frameSize
}
