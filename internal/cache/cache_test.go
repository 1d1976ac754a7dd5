package cache

import (
	"testing"
	"time"
)

func TestCacheSetGet(t *testing.T) {
	t.Parallel()
	c := New(true)

	c.Set("template:abc", []byte(`{"name":"Courtesy"}`), time.Minute)

	got, ok := c.Get("template:abc")
	if !ok {
		t.Fatal("expected hit for fresh key")
	}
	if string(got) != `{"name":"Courtesy"}` {
		t.Fatalf("unexpected value: %s", got)
	}

	if _, ok := c.Get("template:other"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()
	c := New(true)

	c.Set("k", []byte("v"), -time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss for expired key")
	}
}

func TestCacheDelete(t *testing.T) {
	t.Parallel()
	c := New(true)

	c.Set("k", []byte("v"), time.Minute)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestDisabledCacheNeverHits(t *testing.T) {
	t.Parallel()
	c := New(false)

	c.Set("k", []byte("v"), time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("disabled cache must always miss")
	}
}
