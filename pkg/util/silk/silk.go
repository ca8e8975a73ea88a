package silk

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sjzar/go-lame"
	"github.com/sjzar/go-silk"

	"github.com/zaylenc/wxvault/pkg/util/zstd"
)

// 语音库 VoiceInfo 里的 voice_data 是 silk 帧,新版会整体再压一层
// zstd,帧前偶见 0x00/0xff 填充。只处理这两种布局,其余报错由调用方兜底。

const sampleRate = 24000

var (
	silkMagic = []byte("#!SILK")
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// locateSilk 剥掉 zstd 外层和填充字节,返回 silk 帧。
func locateSilk(data []byte) ([]byte, error) {
	if len(data) >= 4 && bytes.Equal(data[:4], zstdMagic) {
		out, err := zstd.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("voice payload decompress: %w", err)
		}
		data = out
	}
	trimmed := bytes.TrimLeft(data, "\x00\xff")
	idx := bytes.Index(trimmed, silkMagic)
	if idx < 0 {
		return nil, fmt.Errorf("silk header missing")
	}
	return trimmed[idx:], nil
}

// pcm16 解码 silk 帧,返回 16-bit 小端采样。
func pcm16(frame []byte) ([]int16, error) {
	sd := silk.SilkInit()
	defer sd.Close()

	raw := sd.Decode(frame)
	if len(raw) == 0 {
		return nil, fmt.Errorf("silk decode produced no samples")
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("invalid pcm length: %d", len(raw))
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return samples, nil
}

// Silk2MP3 把语音数据转成 16kbps 单声道 mp3。
func Silk2MP3(data []byte) ([]byte, error) {
	frame, err := locateSilk(data)
	if err != nil {
		return nil, err
	}
	samples, err := pcm16(frame)
	if err != nil {
		return nil, err
	}

	le := lame.Init()
	defer le.Close()

	le.SetInSamplerate(sampleRate)
	le.SetOutSamplerate(sampleRate)
	le.SetNumChannels(1)
	le.SetBitrate(16)
	le.InitParams()

	pcmBytes := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcmBytes[i*2:], uint16(s))
	}
	mp3 := le.Encode(pcmBytes)
	if len(mp3) == 0 {
		return nil, fmt.Errorf("mp3 encode produced no output")
	}
	return mp3, nil
}
