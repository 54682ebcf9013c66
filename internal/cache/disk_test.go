package cache

import (
	"bytes"
	"os"
	"testing"
	"time"
)

func TestDiskRoundtrip(t *testing.T) {
	d, err := NewDisk(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}

	if _, ok, err := d.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}

	val := []byte(`{"score":0.3,"depth":18}`)
	if err := d.Put("pos1", val); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := d.Get("pos1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if !bytes.Equal(got, val) {
		t.Errorf("got %q, want %q", got, val)
	}
}

func TestDiskTTLExpiry(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDisk(dir, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}

	if err := d.Put("pos1", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Age the entry past its TTL.
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(d.path("pos1"), old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if _, ok, err := d.Get("pos1"); err != nil || ok {
		t.Errorf("expired entry served: ok=%v err=%v", ok, err)
	}
}

func TestDiskZeroTTLNeverExpires(t *testing.T) {
	d, err := NewDisk(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}

	if err := d.Put("pos1", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	old := time.Now().Add(-24 * time.Hour)
	if err := os.Chtimes(d.path("pos1"), old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if _, ok, err := d.Get("pos1"); err != nil || !ok {
		t.Errorf("entry should not expire with ttl=0: ok=%v err=%v", ok, err)
	}
}

func TestDiskDistinctKeys(t *testing.T) {
	d, err := NewDisk(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}

	if err := d.Put("a", []byte("va")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := d.Put("b", []byte("vb")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	va, _, _ := d.Get("a")
	vb, _, _ := d.Get("b")
	if string(va) != "va" || string(vb) != "vb" {
		t.Errorf("got %q, %q", va, vb)
	}
}
