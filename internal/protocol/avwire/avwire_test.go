package avwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avatarlink/pkg/logic/media"
)

func TestDecodeAudioRecord(t *testing.T) {
	frame := &media.AudioFrame{
		PCM:        []byte{0x01, 0x02, 0x03, 0x04},
		SampleRate: 48000,
		Channels:   1,
		Timestamp:  960,
	}

	msg, err := Decode(EncodeAudio(frame))
	require.NoError(t, err)
	require.Equal(t, uint8(KindAudio), msg.Kind)
	require.NotNil(t, msg.Frame.Audio)
	assert.Equal(t, frame.PCM, msg.Frame.Audio.PCM)
	assert.Equal(t, 48000, msg.Frame.Audio.SampleRate)
	assert.Equal(t, 1, msg.Frame.Audio.Channels)
	assert.Equal(t, int64(960), msg.Frame.Audio.Timestamp)
}

func TestDecodeVideoRecord(t *testing.T) {
	frame := &media.VideoFrame{
		Data:        []byte{0x00, 0x00, 0x00, 0x01, 0x65},
		Width:       1280,
		Height:      720,
		PixelFormat: "h264",
		Timestamp:   3600,
	}

	encoded, err := EncodeVideo(frame)
	require.NoError(t, err)
	msg, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, uint8(KindVideo), msg.Kind)
	require.NotNil(t, msg.Frame.Video)
	assert.Equal(t, frame.Data, msg.Frame.Video.Data)
	assert.Equal(t, 1280, msg.Frame.Video.Width)
	assert.Equal(t, 720, msg.Frame.Video.Height)
	assert.Equal(t, "h264", msg.Frame.Video.PixelFormat)
}

func TestEncodeVideoRejectsUnknownPixelFormat(t *testing.T) {
	_, err := EncodeVideo(&media.VideoFrame{Data: []byte{1}, Width: 4, Height: 4, PixelFormat: "rgb565"})
	assert.Error(t, err)
}

func TestDecodeControlRecord(t *testing.T) {
	encoded, err := EncodeControl(ControlEvent{
		Event:         EventParticipantJoined,
		ParticipantID: "backend_participant",
		Role:          "avatar_backend",
	})
	require.NoError(t, err)

	msg, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, uint8(KindControl), msg.Kind)
	assert.Equal(t, EventParticipantJoined, msg.Control.Event)
	assert.Equal(t, "backend_participant", msg.Control.ParticipantID)
	assert.Equal(t, "avatar_backend", msg.Control.Role)
}

func TestDecodeSpeechRecord(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	msg, err := Decode(EncodeSpeech("backend_participant", "utt-42", 7, payload))
	require.NoError(t, err)
	require.Equal(t, uint8(KindSpeech), msg.Kind)
	assert.Equal(t, "backend_participant", msg.Target)
	assert.Equal(t, "utt-42", msg.Utterance)
	assert.Equal(t, int64(7), msg.Seq)
	assert.Equal(t, payload, msg.Payload)

	// 长会话的序号会超出 32 位，编解码不能截断。
	big := int64(1)<<40 | 7
	msg, err = Decode(EncodeSpeech("backend_participant", "utt-42", big, payload))
	require.NoError(t, err)
	assert.Equal(t, big, msg.Seq)
}

func TestDecodeRejectsMalformedRecords(t *testing.T) {
	good := EncodeAudio(&media.AudioFrame{PCM: []byte{1, 2}, SampleRate: 48000, Channels: 1})

	cases := map[string][]byte{
		"empty":          nil,
		"too short":      {'A', 'V', 'W'},
		"bad magic":      append([]byte{'X', 'X', 'X', 'X'}, good[4:]...),
		"bad version":    append(append([]byte{}, good[:4]...), append([]byte{99}, good[5:]...)...),
		"unknown kind":   append(append([]byte{}, good[:5]...), append([]byte{42}, good[6:]...)...),
		"truncated":      good[:len(good)-1],
		"trailing bytes": append(append([]byte{}, good...), 0xff),
	}

	for name, raw := range cases {
		_, err := Decode(raw)
		assert.ErrorIs(t, err, ErrMalformed, "case %q", name)
	}
}

func TestDecodeRejectsBadControlPayload(t *testing.T) {
	// 手工封装制造缺必填字段的控制事件
	_, err := Decode(mustEncodeRawControl(t, `{"event":"participant_joined"}`))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = Decode(mustEncodeRawControl(t, `{"event":"cancel_utterance"}`))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = Decode(mustEncodeRawControl(t, `{}`))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = Decode(mustEncodeRawControl(t, `not json`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsZeroAudioHeader(t *testing.T) {
	raw := EncodeAudio(&media.AudioFrame{PCM: []byte{1, 2}, SampleRate: 0, Channels: 0})
	_, err := Decode(raw)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestControlEventValidate(t *testing.T) {
	assert.Error(t, (&ControlEvent{}).Validate())
	assert.Error(t, (&ControlEvent{Event: EventParticipantJoined}).Validate())
	assert.Error(t, (&ControlEvent{Event: EventCancelUtterance}).Validate())
	assert.NoError(t, (&ControlEvent{Event: EventCancelUtterance, Utterance: "u"}).Validate())
	assert.NoError(t, (&ControlEvent{Event: EventParticipantJoined, ParticipantID: "p"}).Validate())
	// 未知事件名放行，由上层决定忽略还是处理
	assert.NoError(t, (&ControlEvent{Event: "future_event"}).Validate())
}

func mustEncodeRawControl(t *testing.T, payload string) []byte {
	t.Helper()
	buf := []byte{'A', 'V', 'W', 'R', Version, KindControl}
	n := len(payload)
	buf = append(buf, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	return append(buf, payload...)
}
