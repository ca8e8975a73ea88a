package media

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zaylenc/wxvault/internal/errors"
	"github.com/zaylenc/wxvault/internal/model"
	"github.com/zaylenc/wxvault/internal/wechatdb/locator"
)

var (
	jpgBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x11}, 64)...)
	pngBytes = append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, bytes.Repeat([]byte{0x22}, 64)...)
)

const testMD5 = "0123456789abcdef0123456789abcdef"

func TestSniffExt(t *testing.T) {
	tests := []struct {
		data []byte
		want string
	}{
		{jpgBytes, "jpg"},
		{pngBytes, "png"},
		{[]byte("#!SILK_V3..."), "silk"},
		{[]byte("random text content"), ""},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := SniffExt(tt.data); got != tt.want {
			t.Errorf("SniffExt(% x) = %q, want %q", tt.data[:min(8, len(tt.data))], got, tt.want)
		}
	}
}

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(t.TempDir())

	if _, _, ok := c.Get(testMD5); ok {
		t.Fatal("empty cache must miss")
	}
	if err := c.Put(testMD5, "jpg", jpgBytes); err != nil {
		t.Fatal(err)
	}
	data, ext, ok := c.Get(testMD5)
	if !ok || ext != "jpg" || !bytes.Equal(data, jpgBytes) {
		t.Fatalf("get = (%d bytes, %q, %v)", len(data), ext, ok)
	}
	// 重复写幂等
	if err := c.Put(testMD5, "jpg", jpgBytes); err != nil {
		t.Fatal(err)
	}
}

// 缓存文件内容和声称的扩展名不符时,条目必须被删掉并按未命中处理。
func TestCacheMagicMismatchInvalidates(t *testing.T) {
	root := t.TempDir()
	c := NewCache(root)

	path := filepath.Join(root, testMD5[:2], testMD5+".jpg")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	// jpg 扩展名,png 内容
	if err := os.WriteFile(path, pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, ok := c.Get(testMD5); ok {
		t.Fatal("mismatched entry must be treated as a miss")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("mismatched entry must be deleted")
	}
}

func TestDecodeBytesXorDat(t *testing.T) {
	xored := make([]byte, len(jpgBytes))
	for i, b := range jpgBytes {
		xored[i] = b ^ 0x5A
	}
	data, mime, err := DecodeBytes(xored, nil)
	if err != nil {
		t.Fatal(err)
	}
	if mime != "image/jpeg" || !bytes.Equal(data, jpgBytes) {
		t.Errorf("got mime %q, %d bytes", mime, len(data))
	}
}

func TestDecodeBytesPassthrough(t *testing.T) {
	raw := []byte("neither image nor known container")
	data, mime, err := DecodeBytes(raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if mime != "application/octet-stream" || !bytes.Equal(data, raw) {
		t.Errorf("opaque content must pass through, got mime %q", mime)
	}
}

func TestVariantOf(t *testing.T) {
	tests := []struct {
		name    string
		variant string
		ok      bool
	}{
		{testMD5 + ".dat", "", true},
		{testMD5 + "_t.dat", "t", true},
		{testMD5 + "_h.dat", "h", true},
		{testMD5 + ".b.dat", "b", true},
		{testMD5 + "_x.dat", "", false},
		{"unrelated.dat", "", false},
	}
	for _, tt := range tests {
		variant, ok := variantOf(tt.name, testMD5)
		if ok != tt.ok || variant != tt.variant {
			t.Errorf("variantOf(%q) = (%q, %v), want (%q, %v)", tt.name, variant, ok, tt.variant, tt.ok)
		}
	}
}

func writeFileAt(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// 会话目录探测必须按变体偏好挑文件:原图 > 高清 > 缩略图。
func TestProbeTreeVariantRanking(t *testing.T) {
	dir := t.TempDir()
	writeFileAt(t, filepath.Join(dir, "a", testMD5+"_t.dat"), jpgBytes)
	writeFileAt(t, filepath.Join(dir, "a", testMD5+"_h.dat"), jpgBytes)
	writeFileAt(t, filepath.Join(dir, "b", testMD5+".jpg"), jpgBytes)

	got := probeTree(dir, testMD5, 3)
	want := filepath.Join(dir, "a", testMD5+"_h.dat")
	// _h 优先于无后缀和 _t
	if got != want {
		t.Errorf("probeTree = %q, want %q", got, want)
	}
}

func TestProbeTreePrefersNonDatOnTie(t *testing.T) {
	dir := t.TempDir()
	writeFileAt(t, filepath.Join(dir, testMD5+".dat"), jpgBytes)
	writeFileAt(t, filepath.Join(dir, testMD5+".jpg"), jpgBytes)

	got := probeTree(dir, testMD5, 1)
	if filepath.Ext(got) != ".jpg" {
		t.Errorf("probeTree = %q, want the non-dat candidate", got)
	}
}

func TestResolverScopedProbe(t *testing.T) {
	dataDir := t.TempDir()
	talker := "wxid_friend"
	attach := filepath.Join(dataDir, "msg", "attach", locator.MD5(talker), "2024-01", "Img")
	writeFileAt(t, filepath.Join(attach, testMD5+".jpg"), jpgBytes)

	r := NewResolver(dataDir, t.TempDir(), nil, false)
	m, err := r.Resolve(context.Background(), Request{
		Type: model.MediaImage, MD5: testMD5, Talker: talker,
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.MimeType != "image/jpeg" || !bytes.Equal(m.Data, jpgBytes) {
		t.Errorf("got %+v", m)
	}

	// 第二次命中缓存,删掉源文件也必须能取到
	if err := os.RemoveAll(filepath.Join(dataDir, "msg")); err != nil {
		t.Fatal(err)
	}
	m, err = r.Resolve(context.Background(), Request{Type: model.MediaImage, MD5: testMD5})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(m.Data, jpgBytes) {
		t.Error("cache must serve the second lookup")
	}
}

func TestResolverHardlinkLookup(t *testing.T) {
	dataDir := t.TempDir()
	rel := filepath.Join("msg", "attach", "ab", "cd", "Img", testMD5+"_h.dat")
	xored := make([]byte, len(jpgBytes))
	for i, b := range jpgBytes {
		xored[i] = b ^ 0x33
	}
	writeFileAt(t, filepath.Join(dataDir, rel), xored)

	lookup := func(ctx context.Context, _type, key string) (*model.Media, error) {
		if key != testMD5 {
			return nil, errors.ErrMediaNotFound
		}
		return &model.Media{Type: _type, Key: key, Path: filepath.ToSlash(rel)}, nil
	}

	r := NewResolver(dataDir, t.TempDir(), lookup, false)
	m, err := r.Resolve(context.Background(), Request{Type: model.MediaImage, MD5: testMD5})
	if err != nil {
		t.Fatal(err)
	}
	if m.MimeType != "image/jpeg" || !bytes.Equal(m.Data, jpgBytes) {
		t.Errorf("hardlink path must decode the dat file, got mime %q", m.MimeType)
	}
}

func TestResolverVideoMonthBucket(t *testing.T) {
	dataDir := t.TempDir()
	at := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	// 只含 ftyp 盒子的最小 mp4
	mp4 := []byte{
		0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
		'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
		'i', 's', 'o', 'm', 'm', 'p', '4', '1',
	}
	writeFileAt(t, filepath.Join(dataDir, "msg", "video", "2024-03", testMD5+".mp4"), mp4)

	r := NewResolver(dataDir, t.TempDir(), nil, false)
	m, err := r.Resolve(context.Background(), Request{Type: model.MediaVideo, MD5: testMD5, Time: at})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(m.Data, mp4) {
		t.Error("month bucket probe must find the video")
	}
}

func TestResolverNotFound(t *testing.T) {
	r := NewResolver(t.TempDir(), t.TempDir(), nil, false)
	_, err := r.Resolve(context.Background(), Request{Type: model.MediaImage, MD5: testMD5})
	if !errors.Is(err, errors.ErrMediaNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestResolverDeepScanGated(t *testing.T) {
	dataDir := t.TempDir()
	// 深层路径,只有 deep scan 能找到
	deep := filepath.Join(dataDir, "msg", "x1", "x2", "x3", "x4", "x5", testMD5+".jpg")
	writeFileAt(t, deep, jpgBytes)

	off := NewResolver(dataDir, t.TempDir(), nil, false)
	if _, err := off.Resolve(context.Background(), Request{Type: model.MediaImage, MD5: testMD5}); err == nil {
		t.Fatal("deep scan disabled must not find deep files")
	}

	on := NewResolver(dataDir, t.TempDir(), nil, true)
	m, err := on.Resolve(context.Background(), Request{Type: model.MediaImage, MD5: testMD5})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(m.Data, jpgBytes) {
		t.Error("deep scan enabled must find the file")
	}
}
