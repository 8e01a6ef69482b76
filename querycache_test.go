package lore

import "testing"

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Kubernetes  Setup", "kubernetes setup"},
		{"  leading and trailing  ", "leading and trailing"},
		{"ＦＵＬＬＷＩＤＴＨ", "fullwidth"}, // NFKC folds fullwidth forms
		{"tabs\tand\nnewlines", "tabs and newlines"},
	}
	for _, tt := range tests {
		if got := normalizeQuery(tt.in); got != tt.want {
			t.Errorf("normalizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQueryCachePutGet(t *testing.T) {
	c := newQueryCache(2)
	c.put("a", []float32{1})
	if vec, ok := c.get("a"); !ok || vec[0] != 1 {
		t.Fatal("expected cache hit")
	}
	if _, ok := c.get("missing"); ok {
		t.Fatal("unexpected hit")
	}
}

func TestQueryCacheResetsAtCapacity(t *testing.T) {
	c := newQueryCache(2)
	c.put("a", []float32{1})
	c.put("b", []float32{2})
	c.put("c", []float32{3}) // triggers reset
	if _, ok := c.get("a"); ok {
		t.Error("expected eviction at capacity")
	}
	if vec, ok := c.get("c"); !ok || vec[0] != 3 {
		t.Error("latest entry must survive")
	}
}
