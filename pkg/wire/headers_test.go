package wire

import "testing"

func TestFoldHeadersCaseAndStringify(t *testing.T) {
	l := FoldHeaders(map[string]any{
		"X-Count":  5,
		"X-Flag":   true,
		"X-Score":  1.5,
		"X-Multi":  []string{"a", "b"},
		"X-Any":    []any{"x", 2},
		"Location": "https://example.com",
	})
	entries := l.Entries()

	want := map[string][]string{
		"x-count":  {"5"},
		"x-flag":   {"true"},
		"x-score":  {"1.5"},
		"x-multi":  {"a", "b"},
		"x-any":    {"x", "2"},
		"location": {"https://example.com"},
	}
	got := map[string][]string{}
	for _, e := range entries {
		got[e.Name] = append(got[e.Name], e.Value)
	}
	for k, vs := range want {
		if len(got[k]) != len(vs) {
			t.Fatalf("%s: want %v, got %v", k, vs, got[k])
		}
		for i := range vs {
			if got[k][i] != vs[i] {
				t.Fatalf("%s[%d]: want %q, got %q", k, i, vs[i], got[k][i])
			}
		}
	}
}

func TestFoldHeadersLastWriteWins(t *testing.T) {
	l := FoldHeaders(map[string]any{"X-Test": "a", "x-test": "b"})
	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	if entries[0].Name != "x-test" {
		t.Fatalf("name must fold to lowercase, got %q", entries[0].Name)
	}
	// 按键排序应用，"X-Test" 先于 "x-test"，后写覆盖
	if entries[0].Value != "b" {
		t.Fatalf("last write must win, got %q", entries[0].Value)
	}
}

func TestHeaderListSetHasGet(t *testing.T) {
	l := NewHeaderList()
	l.Set("Content-Type", "text/plain")
	if !l.Has("content-type") || !l.Has("CONTENT-TYPE") {
		t.Fatal("Has must be case-insensitive")
	}
	l.Set("content-type", "application/json")
	if got := l.Get("Content-Type"); got != "application/json" {
		t.Fatalf("Set must overwrite, got %q", got)
	}
	if len(l.Entries()) != 1 {
		t.Fatalf("want single entry, got %d", len(l.Entries()))
	}
	if l.Has("content-length") {
		t.Fatal("absent header reported present")
	}
}

func TestMultiValueEntriesKeepOrder(t *testing.T) {
	l := NewHeaderList()
	l.Set("Set-Cookie", "a=1", "b=2", "c=3")
	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d", len(entries))
	}
	for i, v := range []string{"a=1", "b=2", "c=3"} {
		if entries[i].Name != "set-cookie" || entries[i].Value != v {
			t.Fatalf("entry %d: got %s=%s", i, entries[i].Name, entries[i].Value)
		}
	}
}

func TestFlattenStringHeaders(t *testing.T) {
	entries := FlattenStringHeaders(map[string]string{"X-A": "1", "X-B": "2"})
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(entries))
	}
	// 排序保证确定性
	if entries[0].Name != "x-a" || entries[1].Name != "x-b" {
		t.Fatalf("unexpected order: %+v", entries)
	}
}

func TestStatusPhrase(t *testing.T) {
	cases := []struct {
		code   int
		phrase string
		ok     bool
	}{
		{200, "OK", true},
		{204, "No Content", true},
		{404, "Not Found", true},
		{418, "I'm a Teapot", true},
		{511, "Network Authentication Required", true},
		{999, "", false},
		{0, "", false},
	}
	for _, c := range cases {
		p, ok := StatusPhrase(c.code)
		if ok != c.ok || p != c.phrase {
			t.Fatalf("%d: want (%q,%v), got (%q,%v)", c.code, c.phrase, c.ok, p, ok)
		}
	}
}
