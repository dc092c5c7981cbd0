package avwire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"avatarlink/pkg/logic/media"
)

func writeHeader(buf *bytes.Buffer, kind uint8) {
	buf.Write(magic[:])
	buf.WriteByte(Version)
	buf.WriteByte(kind)
}

func writePayload(buf *bytes.Buffer, payload []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

// EncodeAudio 封装一帧渲染音频
func EncodeAudio(frame *media.AudioFrame) []byte {
	buf := new(bytes.Buffer)
	writeHeader(buf, KindAudio)
	binary.Write(buf, binary.LittleEndian, frame.Timestamp)
	binary.Write(buf, binary.LittleEndian, uint32(frame.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint16(frame.Channels))
	writePayload(buf, frame.PCM)
	return buf.Bytes()
}

// EncodeVideo 封装一帧渲染视频
func EncodeVideo(frame *media.VideoFrame) ([]byte, error) {
	code, ok := pixFmtCodes[frame.PixelFormat]
	if !ok {
		return nil, fmt.Errorf("avwire: unsupported pixel format %q", frame.PixelFormat)
	}
	buf := new(bytes.Buffer)
	writeHeader(buf, KindVideo)
	binary.Write(buf, binary.LittleEndian, frame.Timestamp)
	binary.Write(buf, binary.LittleEndian, uint16(frame.Width))
	binary.Write(buf, binary.LittleEndian, uint16(frame.Height))
	buf.WriteByte(code)
	writePayload(buf, frame.Data)
	return buf.Bytes(), nil
}

// EncodeControl 封装控制事件
func EncodeControl(event ControlEvent) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	writeHeader(buf, KindControl)
	writePayload(buf, payload)
	return buf.Bytes(), nil
}

// EncodeSpeech 封装发往指定后端参与者的合成语音段
func EncodeSpeech(target, utterance string, seq int64, payload []byte) []byte {
	buf := new(bytes.Buffer)
	writeHeader(buf, KindSpeech)
	writeString(buf, target)
	writeString(buf, utterance)
	binary.Write(buf, binary.LittleEndian, uint64(seq))
	writePayload(buf, payload)
	return buf.Bytes()
}
