package cache

import (
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

func TestMapCache(t *testing.T) {
	c := NewMapCache()

	if _, ok := c.Get("missing"); ok {
		t.Fatal("empty cache returned a hit")
	}

	vol, err := tensor.New(tensor.Float32, tensor.Shape{1, 1, 1, 4}, device.Host)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vol.Float32s()[0] = 7

	c.Put("k", vol)
	if c.Size() != 1 {
		t.Errorf("Size = %d, want 1", c.Size())
	}

	got, ok := c.Get("k")
	if !ok {
		t.Fatal("stored volume missing")
	}
	if got.Float32s()[0] != 7 {
		t.Errorf("value = %f, want 7", got.Float32s()[0])
	}

	// Mutating the returned copy must not touch the cached volume
	got.Float32s()[0] = 99
	again, _ := c.Get("k")
	if again.Float32s()[0] != 7 {
		t.Errorf("cache shares storage with callers")
	}

	// Nor may mutating the original after Put
	vol.Float32s()[0] = -1
	again, _ = c.Get("k")
	if again.Float32s()[0] != 7 {
		t.Errorf("cache shares storage with the producer")
	}
}

func TestKey(t *testing.T) {
	a := Key("cfg-a", []byte{1, 2, 3})
	if a != Key("cfg-a", []byte{1, 2, 3}) {
		t.Error("same input produced different keys")
	}
	if a == Key("cfg-b", []byte{1, 2, 3}) {
		t.Error("different config produced the same key")
	}
	if a == Key("cfg-a", []byte{1, 2, 4}) {
		t.Error("different input produced the same key")
	}
}
