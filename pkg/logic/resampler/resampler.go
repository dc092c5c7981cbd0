// Package resampler 基于 zaf/resample 的 PCM 采样率/声道转换。
package resampler

import (
	"bytes"
	"fmt"

	"avatarlink/pkg/logic/media"

	"github.com/zaf/resample"
)

// Resampler 流式转换器。输入按 20ms 的整数倍攒批，
// 不足的样本留到下一次 Process。
type Resampler struct {
	resampler     *resample.Resampler
	buffer        *bytes.Buffer
	inputBuffer   []int16
	channelsIn    int
	channelsOut   int
	sampleRateIn  int
	sampleRateOut int
	minSamples    int
}

// New 创建转换器。采样率和声道数都相同时为直通。
func New(sampleRateIn, sampleRateOut, channelsIn, channelsOut int) (*Resampler, error) {
	r := &Resampler{
		channelsIn:    channelsIn,
		channelsOut:   channelsOut,
		sampleRateIn:  sampleRateIn,
		sampleRateOut: sampleRateOut,
		// 以输入采样率的 20ms 为最小处理单位
		minSamples: (sampleRateIn * channelsIn * 20) / 1000,
	}

	if sampleRateIn != sampleRateOut {
		buffer := new(bytes.Buffer)
		resampler, err := resample.New(
			buffer,
			float64(sampleRateIn),
			float64(sampleRateOut),
			channelsOut,
			resample.I16,
			resample.HighQ,
		)
		if err != nil {
			return nil, fmt.Errorf("resampler: %v", err)
		}
		r.resampler = resampler
		r.buffer = buffer
	}

	return r, nil
}

// Passthrough 是否为直通配置
func (r *Resampler) Passthrough() bool {
	return r.resampler == nil && r.channelsIn == r.channelsOut
}

// Process 转换一段 s16 小端 PCM。样本不足时返回空切片，不算错误。
func (r *Resampler) Process(pcm []byte) ([]byte, error) {
	if r.Passthrough() {
		return pcm, nil
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("resampler: empty input")
	}

	r.inputBuffer = append(r.inputBuffer, media.BytesToInt16(pcm)...)
	if len(r.inputBuffer) < r.minSamples {
		return nil, nil
	}

	processable := (len(r.inputBuffer) / r.minSamples) * r.minSamples
	samples := r.inputBuffer[:processable]
	remaining := r.inputBuffer[processable:]

	mixed := r.convertChannels(samples)

	r.inputBuffer = make([]int16, len(remaining))
	copy(r.inputBuffer, remaining)

	if r.resampler == nil {
		return media.Int16ToBytes(mixed), nil
	}

	r.buffer.Reset()
	if _, err := r.resampler.Write(media.Int16ToBytes(mixed)); err != nil {
		return nil, fmt.Errorf("resampler: %v", err)
	}
	out := make([]byte, r.buffer.Len())
	copy(out, r.buffer.Bytes())
	return out, nil
}

// convertChannels 声道转换：立体声下混做均值并截幅，单转双复制样本
func (r *Resampler) convertChannels(samples []int16) []int16 {
	if r.channelsIn == r.channelsOut {
		return samples
	}

	if r.channelsIn > r.channelsOut {
		mixed := make([]int16, len(samples)/2)
		for i := 0; i+1 < len(samples); i += r.channelsIn {
			left := float64(samples[i]) / 32768.0
			right := float64(samples[i+1]) / 32768.0
			v := (left + right) * 0.5 * 32768.0
			if v > 32767.0 {
				v = 32767.0
			} else if v < -32768.0 {
				v = -32768.0
			}
			mixed[i/2] = int16(v)
		}
		return mixed
	}

	doubled := make([]int16, len(samples)*2)
	for i, s := range samples {
		doubled[i*2] = s
		doubled[i*2+1] = s
	}
	return doubled
}
