package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Str2List 拆分逗号分隔参数，过滤空项。
func Str2List(s string, sep string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(s, sep) {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// IsNormalString reports whether b decodes as ordinary text rather than a
// compressed or binary payload.
func IsNormalString(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	return MostlyPrintable(string(b))
}

// MostlyPrintable samples the first 600 characters and requires ≥85% of them
// to be printable or common whitespace.
func MostlyPrintable(s string) bool {
	if s == "" {
		return false
	}
	total, ok := 0, 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			ok++
		}
		if total >= 600 {
			break
		}
	}
	return float64(ok)/float64(total) >= 0.85
}

// IsHex reports whether s is non-empty and consists only of hex digits.
func IsHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		ok := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !ok {
			return false
		}
	}
	return true
}

// IsNumeric reports whether s consists only of ASCII digits.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeUnixSeconds 把毫秒时间戳折算成秒。老版本客户端偶见毫秒值。
func NormalizeUnixSeconds(ts int64) int64 {
	if ts > 1_000_000_000_000 {
		return ts / 1000
	}
	return ts
}

// PrepareDir ensures dir exists.
func PrepareDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// DefaultWorkDir returns the per-account output directory under the user home,
// falling back to the working directory when home cannot be resolved.
func DefaultWorkDir(account string) string {
	base, err := os.UserHomeDir()
	if err != nil {
		base = "."
	}
	if account == "" {
		return filepath.Join(base, "wxvault", "output", "databases")
	}
	return filepath.Join(base, "wxvault", "output", "databases", account)
}

// GetDirSize 返回目录占用的可读字符串，供状态展示。
func GetDirSize(path string) string {
	var total int64
	_ = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return SizeToString(total)
}

func SizeToString(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGT"[exp])
}
