// Package tts 合成语音生产端：把文本合成为 PCM 并投喂给语音中继。
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"avatarlink/pkg/logger"
	"avatarlink/pkg/logic/relay"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// submit 遇到背压时的重试间隔
const busyRetryInterval = 50 * time.Millisecond

// SpeechProducer OpenAI TTS 客户端，输出 24kHz 单声道 s16 PCM
type SpeechProducer struct {
	client *openai.Client
	relay  *relay.InboundAudioRelay
	model  string
	voice  string
}

func NewSpeechProducer(apiKey, baseURL string, r *relay.InboundAudioRelay, model, voice string) *SpeechProducer {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = string(openai.SpeechModelTTS1)
	}
	if voice == "" {
		voice = string(openai.AudioSpeechNewParamsVoiceAlloy)
	}
	return &SpeechProducer{
		client: openai.NewClient(opts...),
		relay:  r,
		model:  model,
		voice:  voice,
	}
}

// Say 合成一句话并流式提交给中继，返回本句的 utterance ID。
// 队列背压（ErrBusy）时小步重试，其他错误即刻终止本句。
func (p *SpeechProducer) Say(ctx context.Context, text string) (string, error) {
	utterance := uuid.NewString()

	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.F(openai.SpeechModel(p.model)),
		Input:          openai.F(text),
		Voice:          openai.F(openai.AudioSpeechNewParamsVoice(p.voice)),
		ResponseFormat: openai.F(openai.AudioSpeechNewParamsResponseFormatPCM),
	})
	if err != nil {
		return "", fmt.Errorf("tts: speech request: %v", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 6000)
	for {
		n, readErr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			if err := p.submit(ctx, buf[:n], utterance); err != nil {
				return utterance, err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				break
			}
			return utterance, fmt.Errorf("tts: read speech stream: %v", readErr)
		}
	}

	logger.Info("tts: utterance %s synthesized (%d chars)", utterance, len(text))
	return utterance, nil
}

func (p *SpeechProducer) submit(ctx context.Context, chunk []byte, utterance string) error {
	payload := make([]byte, len(chunk))
	copy(payload, chunk)

	for {
		err := p.relay.Submit(payload, utterance)
		if err == nil {
			return nil
		}
		if !errors.Is(err, relay.ErrBusy) {
			return fmt.Errorf("tts: submit: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyRetryInterval):
		}
	}
}

// Interrupt 打断一句话：清除未发出的分块并通知后端停止渲染
func (p *SpeechProducer) Interrupt(utterance string) error {
	return p.relay.Cancel(utterance)
}
