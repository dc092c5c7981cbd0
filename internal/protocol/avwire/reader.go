package avwire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"avatarlink/pkg/logic/media"
)

// Message 一条解码后的记录
type Message struct {
	Kind    uint8
	Frame   *media.Frame  // KindAudio / KindVideo
	Control *ControlEvent // KindControl

	// KindSpeech
	Target    string
	Utterance string
	Seq       int64
	Payload   []byte
}

// Decode 解析一条完整记录。解析失败返回包装了 ErrMalformed 的错误。
func Decode(msg []byte) (*Message, error) {
	r := bytes.NewReader(msg)

	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: record too short", ErrMalformed)
	}
	if !bytes.Equal(hdr[:4], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformed, hdr[:4])
	}
	if hdr[4] != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, hdr[4])
	}
	kind := hdr[5]

	switch kind {
	case KindAudio:
		return decodeAudio(r)
	case KindVideo:
		return decodeVideo(r)
	case KindControl:
		return decodeControl(r)
	case KindSpeech:
		return decodeSpeech(r)
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, kind)
	}
}

func decodeAudio(r *bytes.Reader) (*Message, error) {
	var (
		ts         int64
		sampleRate uint32
		channels   uint16
	)
	if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
		return nil, fmt.Errorf("%w: truncated audio header", ErrMalformed)
	}
	if err := binary.Read(r, binary.LittleEndian, &sampleRate); err != nil {
		return nil, fmt.Errorf("%w: truncated audio header", ErrMalformed)
	}
	if err := binary.Read(r, binary.LittleEndian, &channels); err != nil {
		return nil, fmt.Errorf("%w: truncated audio header", ErrMalformed)
	}
	if sampleRate == 0 || channels == 0 {
		return nil, fmt.Errorf("%w: audio header with zero rate/channels", ErrMalformed)
	}
	payload, err := readPayload(r)
	if err != nil {
		return nil, err
	}
	return &Message{
		Kind: KindAudio,
		Frame: &media.Frame{
			Kind: media.KindAudio,
			Audio: &media.AudioFrame{
				PCM:        payload,
				SampleRate: int(sampleRate),
				Channels:   int(channels),
				Timestamp:  ts,
			},
		},
	}, nil
}

func decodeVideo(r *bytes.Reader) (*Message, error) {
	var (
		ts            int64
		width, height uint16
	)
	if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
		return nil, fmt.Errorf("%w: truncated video header", ErrMalformed)
	}
	if err := binary.Read(r, binary.LittleEndian, &width); err != nil {
		return nil, fmt.Errorf("%w: truncated video header", ErrMalformed)
	}
	if err := binary.Read(r, binary.LittleEndian, &height); err != nil {
		return nil, fmt.Errorf("%w: truncated video header", ErrMalformed)
	}
	code, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated video header", ErrMalformed)
	}
	pixFmt, ok := pixFmtNames[code]
	if !ok {
		return nil, fmt.Errorf("%w: unknown pixel format %d", ErrMalformed, code)
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: video header with zero dimensions", ErrMalformed)
	}
	payload, err := readPayload(r)
	if err != nil {
		return nil, err
	}
	return &Message{
		Kind: KindVideo,
		Frame: &media.Frame{
			Kind: media.KindVideo,
			Video: &media.VideoFrame{
				Data:        payload,
				Width:       int(width),
				Height:      int(height),
				PixelFormat: pixFmt,
				Timestamp:   ts,
			},
		},
	}, nil
}

func decodeControl(r *bytes.Reader) (*Message, error) {
	payload, err := readPayload(r)
	if err != nil {
		return nil, err
	}
	event := &ControlEvent{}
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("%w: control payload: %v", ErrMalformed, err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &Message{Kind: KindControl, Control: event}, nil
}

func decodeSpeech(r *bytes.Reader) (*Message, error) {
	target, err := readString(r)
	if err != nil {
		return nil, err
	}
	utterance, err := readString(r)
	if err != nil {
		return nil, err
	}
	var seq uint64
	if err := binary.Read(r, binary.LittleEndian, &seq); err != nil {
		return nil, fmt.Errorf("%w: truncated speech header", ErrMalformed)
	}
	payload, err := readPayload(r)
	if err != nil {
		return nil, err
	}
	return &Message{
		Kind:      KindSpeech,
		Target:    target,
		Utterance: utterance,
		Seq:       int64(seq),
		Payload:   payload,
	}, nil
}

func readPayload(r *bytes.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("%w: missing payload length", ErrMalformed)
	}
	if int(size) != r.Len() {
		return nil, fmt.Errorf("%w: payload length %d, have %d bytes", ErrMalformed, size, r.Len())
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: truncated payload", ErrMalformed)
	}
	return payload, nil
}

func readString(r *bytes.Reader) (string, error) {
	var size uint16
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return "", fmt.Errorf("%w: missing string length", ErrMalformed)
	}
	s := make([]byte, size)
	if _, err := io.ReadFull(r, s); err != nil {
		return "", fmt.Errorf("%w: truncated string", ErrMalformed)
	}
	return string(s), nil
}
