package locator

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func createShard(t *testing.T, dir, name string, tables []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, table := range tables {
		if _, err := db.Exec(fmt.Sprintf("CREATE TABLE %q (local_id INTEGER PRIMARY KEY)", table)); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func newTestLocator(paths []string) *Locator {
	opened := make(map[string]*sql.DB)
	return New(
		func() ([]string, error) { return paths, nil },
		func(path string) (*sql.DB, error) {
			if db, ok := opened[path]; ok {
				return db, nil
			}
			db, err := sql.Open("sqlite3", path)
			if err != nil {
				return nil, err
			}
			opened[path] = db
			return db, nil
		},
	)
}

func TestResolveExactMatch(t *testing.T) {
	dir := t.TempDir()
	hash := MD5("wxid_test")
	path := createShard(t, dir, "message_0.db", []string{"Msg_" + hash, "Name2Id"})

	l := newTestLocator([]string{path})
	loc, err := l.Resolve("wxid_test")
	if err != nil {
		t.Fatal(err)
	}
	if loc.DBPath != path || loc.Table != "Msg_"+hash {
		t.Errorf("got %+v", loc)
	}
}

// 精确命中存在时不得落到截断匹配。
func TestResolveExactBeatsTruncated(t *testing.T) {
	dir := t.TempDir()
	hash := MD5("wxid_test")
	truncatedTable := "Msg_" + hash[:24] + "ffffffff"
	path := createShard(t, dir, "message_0.db", []string{truncatedTable, "Msg_" + hash})

	l := newTestLocator([]string{path})
	loc, err := l.Resolve("wxid_test")
	if err != nil {
		t.Fatal(err)
	}
	if loc.Table != "Msg_"+hash {
		t.Errorf("got table %q, want exact match", loc.Table)
	}
}

func TestResolveTruncatedFallback(t *testing.T) {
	dir := t.TempDir()
	hash := MD5("wxid_test")
	table := "Msg_" + hash[:24]
	path := createShard(t, dir, "message_0.db", []string{table})

	l := newTestLocator([]string{path})
	loc, err := l.Resolve("wxid_test")
	if err != nil {
		t.Fatal(err)
	}
	if loc.Table != table {
		t.Errorf("got table %q, want %q", loc.Table, table)
	}
}

func TestResolveChatPrefix(t *testing.T) {
	dir := t.TempDir()
	hash := MD5("12345@chatroom")
	path := createShard(t, dir, "message_0.db", []string{"Chat_" + hash})

	l := newTestLocator([]string{path})
	loc, err := l.Resolve("12345@chatroom")
	if err != nil {
		t.Fatal(err)
	}
	if loc.Table != "Chat_"+hash {
		t.Errorf("got table %q", loc.Table)
	}
}

func TestResolveFirstShardWins(t *testing.T) {
	dir := t.TempDir()
	hash := MD5("wxid_test")
	first := createShard(t, dir, "message_0.db", []string{"Msg_" + hash})
	second := createShard(t, dir, "message_1.db", []string{"Msg_" + hash})

	l := newTestLocator([]string{first, second})
	loc, err := l.Resolve("wxid_test")
	if err != nil {
		t.Fatal(err)
	}
	if loc.DBPath != first {
		t.Errorf("got %q, want first shard", loc.DBPath)
	}
}

func TestResolveNotFound(t *testing.T) {
	dir := t.TempDir()
	path := createShard(t, dir, "message_0.db", []string{"Msg_deadbeef"})

	l := newTestLocator([]string{path})
	if _, err := l.Resolve("wxid_absent"); err == nil {
		t.Fatal("want not-found error")
	}
}

func TestResolveBatch(t *testing.T) {
	dir := t.TempDir()
	hashA := MD5("wxid_a")
	hashB := MD5("wxid_b")
	first := createShard(t, dir, "message_0.db", []string{"Msg_" + hashA})
	second := createShard(t, dir, "message_1.db", []string{"Msg_" + hashB})

	l := newTestLocator([]string{first, second})
	got, err := l.ResolveBatch([]string{"wxid_a", "wxid_b", "wxid_missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results", len(got))
	}
	if got["wxid_a"].DBPath != first || got["wxid_b"].DBPath != second {
		t.Errorf("got %+v", got)
	}
}

func TestIsMessageShard(t *testing.T) {
	tests := []struct {
		path       string
		includeBiz bool
		want       bool
	}{
		{"message_0.db", false, true},
		{"message.db", false, true},
		{"session.db", false, false},
		{"contact.db", false, false},
		{"head_image.db", false, false},
		{"message_resource.db", false, false},
		{"message_fts.db", false, false},
		{"biz_message_0.db", false, false},
		{"biz_message_0.db", true, true},
		{"hardlink.db", false, false},
		{"notes.txt", false, false},
	}
	for _, tt := range tests {
		if got := IsMessageShard(tt.path, tt.includeBiz); got != tt.want {
			t.Errorf("IsMessageShard(%q, %v) = %v, want %v", tt.path, tt.includeBiz, got, tt.want)
		}
	}
}
