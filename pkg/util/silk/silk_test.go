package silk

import (
	"bytes"
	"testing"

	"github.com/zaylenc/wxvault/pkg/util/zstd"
)

func TestLocateSilk(t *testing.T) {
	frame := append([]byte("#!SILK_V3"), 0x01, 0x02, 0x03)
	packed, err := zstd.Compress(frame)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		in      []byte
		want    []byte
		wantErr bool
	}{
		{"bare", frame, frame, false},
		{"padded", append([]byte{0x00, 0x00, 0xff}, frame...), frame, false},
		{"zstd", packed, frame, false},
		{"zstd padded", mustCompress(t, append([]byte{0xff}, frame...)), frame, false},
		{"garbage", []byte("not a voice blob"), nil, true},
		{"empty", nil, nil, true},
	}
	for _, tt := range tests {
		got, err := locateSilk(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error, got %q", tt.name, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func mustCompress(t *testing.T, b []byte) []byte {
	t.Helper()
	out, err := zstd.Compress(b)
	if err != nil {
		t.Fatal(err)
	}
	return out
}
