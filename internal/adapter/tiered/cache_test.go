package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/DocSync/internal/adapter/tiered"
)

type memCache struct {
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

func TestTiered_L2HitBackfillsL1(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 10*time.Second)
	l2.data["acme/docs:pulls"] = []byte("[]")

	val, found, err := c.Get(context.Background(), "acme/docs:pulls")
	if err != nil || !found || string(val) != "[]" {
		t.Fatalf("val=%s found=%v err=%v", val, found, err)
	}
	if string(l1.data["acme/docs:pulls"]) != "[]" {
		t.Fatal("expected L1 backfill")
	}
	if l1.ttls["acme/docs:pulls"] != 10*time.Second {
		t.Fatalf("backfill ttl = %v", l1.ttls["acme/docs:pulls"])
	}
}

func TestTiered_SetCapsL1TTL(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 10*time.Second)
	ctx := context.Background()

	_ = c.Set(ctx, "long", []byte("v"), time.Minute)
	_ = c.Set(ctx, "short", []byte("v"), time.Second)
	if l1.ttls["long"] != 10*time.Second || l2.ttls["long"] != time.Minute {
		t.Fatalf("long ttls l1=%v l2=%v", l1.ttls["long"], l2.ttls["long"])
	}
	if l1.ttls["short"] != time.Second {
		t.Fatalf("short l1 ttl = %v", l1.ttls["short"])
	}
}

func TestTiered_L2FailureDegradesToMiss(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	l2.err = errors.New("nats: connection closed")
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	if _, found, err := c.Get(ctx, "k"); err != nil || found {
		t.Fatalf("found=%v err=%v, want quiet miss", found, err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set should tolerate L2 failure: %v", err)
	}
	if _, found, _ := c.Get(ctx, "k"); !found {
		t.Fatal("expected L1 hit")
	}
	if err := c.Delete(ctx, "k"); err == nil {
		t.Fatal("Delete must surface L2 failure")
	}
}

func TestTiered_NilL2(t *testing.T) {
	l1 := newMemCache()
	c := tiered.New(l1, nil, time.Minute)
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"), 0)
	if _, found, _ := c.Get(ctx, "k"); !found {
		t.Fatal("expected hit")
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := c.Get(ctx, "k"); found {
		t.Fatal("expected miss")
	}
}
