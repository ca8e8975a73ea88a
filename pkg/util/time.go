package util

import (
	"strings"
	"time"
)

// TimeRangeOf 解析查询里的时间参数,返回 [start, end) 区间。
// 支持:
//
//	""                      全部时间
//	"2024"                  整年
//	"2024-03"               整月
//	"2024-03-15"            单日
//	"2024-03-01~2024-03-15" 区间,两端都含
func TimeRangeOf(s string) (start, end time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return time.Time{}, time.Now().AddDate(100, 0, 0), true
	}

	if idx := strings.IndexAny(s, "~,"); idx >= 0 {
		s1, e1, ok1 := parsePoint(s[:idx])
		s2, e2, ok2 := parsePoint(s[idx+1:])
		if !ok1 || !ok2 {
			return time.Time{}, time.Time{}, false
		}
		if s2.Before(s1) {
			s1, e2 = s2, e1
		}
		return s1, e2, true
	}
	return parsePoint(s)
}

// parsePoint 把单个时间点解析成它覆盖的区间。
func parsePoint(s string) (start, end time.Time, ok bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "2006/01/02", "20060102"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, t.AddDate(0, 0, 1), true
		}
	}
	if t, err := time.ParseInLocation("2006-01", s, time.Local); err == nil {
		return t, t.AddDate(0, 1, 0), true
	}
	if t, err := time.ParseInLocation("2006", s, time.Local); err == nil {
		return t, t.AddDate(1, 0, 0), true
	}
	return time.Time{}, time.Time{}, false
}

// PerfectTimeFormat 按区间跨度挑时间显示格式,同一天只给时分秒。
func PerfectTimeFormat(start, end time.Time) string {
	if start.Year() == end.Year() && start.YearDay() == end.YearDay() {
		return "15:04:05"
	}
	return "01-02 15:04:05"
}
