package msgdec

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/zaylenc/wxvault/pkg/util/zstd"
)

const sampleXML = `<msg><appmsg><title>hello</title></appmsg></msg>`

func TestDecodePlainText(t *testing.T) {
	got := Decode(nil, []byte("你好，世界"))
	if got != "你好，世界" {
		t.Errorf("got %q", got)
	}
}

func TestDecodeZstdMessageValue(t *testing.T) {
	compressed, err := zstd.Compress([]byte(sampleXML))
	if err != nil {
		t.Fatal(err)
	}
	got := Decode(nil, compressed)
	if got != sampleXML {
		t.Errorf("got %q, want %q", got, sampleXML)
	}
}

func TestDecodeZstdCompressValue(t *testing.T) {
	compressed, err := zstd.Compress([]byte(sampleXML))
	if err != nil {
		t.Fatal(err)
	}
	got := Decode(compressed, []byte("fallback"))
	if got != sampleXML {
		t.Errorf("got %q, want %q", got, sampleXML)
	}
}

func TestDecodeHexWrappedZstd(t *testing.T) {
	compressed, err := zstd.Compress([]byte(sampleXML))
	if err != nil {
		t.Fatal(err)
	}
	hexed := hex.EncodeToString(compressed)
	got := Decode([]byte(hexed), nil)
	if got != sampleXML {
		t.Errorf("got %q, want %q", got, sampleXML)
	}
}

func TestDecodeBase64WrappedZstd(t *testing.T) {
	compressed, err := zstd.Compress([]byte(sampleXML))
	if err != nil {
		t.Fatal(err)
	}
	encoded := base64.StdEncoding.EncodeToString(compressed)
	if len(encoded) < 24 {
		t.Skip("sample too short for base64 candidate path")
	}
	got := Decode([]byte(encoded), nil)
	if got != sampleXML {
		t.Errorf("got %q, want %q", got, sampleXML)
	}
}

func TestDecodeHTMLUnescape(t *testing.T) {
	got := Decode(nil, []byte("a &lt;b&gt; c"))
	if got != "a <b> c" {
		t.Errorf("got %q", got)
	}
}

// decode 必须对任意输入收敛,不 panic,不返回错误。
func TestDecodeTotality(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		{0x00},
		{0x28, 0xb5, 0x2f, 0xfd}, // zstd magic 但无帧体
		{0x28, 0xb5, 0x2f, 0xfd, 0xff, 0xff, 0xff}, // 损坏的帧
		[]byte("deadbeef"),                         // hex 但太短
		[]byte("deadbeefdeadbe"),                   // 奇数校验
		{0xff, 0xfe, 0xfd, 0xfc, 0x80, 0x81},
	}
	for _, compress := range inputs {
		for _, message := range inputs {
			_ = Decode(compress, message)
		}
	}
}

// 同输入必须得到同输出。
func TestDecodeIdempotent(t *testing.T) {
	compressed, err := zstd.Compress([]byte(sampleXML))
	if err != nil {
		t.Fatal(err)
	}
	first := Decode(compressed, []byte("x"))
	for i := 0; i < 5; i++ {
		if got := Decode(compressed, []byte("x")); got != first {
			t.Fatalf("iteration %d: got %q, want %q", i, got, first)
		}
	}
}

func TestDecodeBinaryGarbageFallsBackToMessage(t *testing.T) {
	garbage := []byte{0x01, 0x02, 0x80, 0xff, 0x00, 0x9c}
	got := Decode(garbage, []byte("readable"))
	if got != "readable" {
		t.Errorf("got %q, want fallback to message value", got)
	}
}

func TestIsHexCandidate(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"28b52ffd2800b1000000", true},
		{"28b52ffd2800b10000", true},
		{"28b52ffd280", false}, // 奇数长度
		{"28b52ffd", false},    // 太短
		{"28b52ffdzz00b100", false},
	}
	for _, tt := range tests {
		if got := isHexCandidate(tt.in); got != tt.want {
			t.Errorf("isHexCandidate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
