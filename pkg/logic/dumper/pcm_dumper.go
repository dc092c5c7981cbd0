// Package dumper 调试用的 PCM 落盘。
package dumper

import (
	"os"
	"sync"
)

// PCMDumper 把裸 PCM 追加写入文件，排查后端音频问题时挂到分流器上
type PCMDumper struct {
	mu   sync.Mutex
	file *os.File
}

func NewPCMDumper(path string) (*PCMDumper, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &PCMDumper{file: file}, nil
}

func (d *PCMDumper) Write(pcm []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return 0, os.ErrClosed
	}
	return d.file.Write(pcm)
}

func (d *PCMDumper) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
