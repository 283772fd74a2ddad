package index

import (
	"testing"
	"time"

	"pocketcache/internal/cache"
)

func meta(key string, size int64) cache.Metadata {
	return cache.Metadata{
		Key:            key,
		Size:           size,
		DataType:       "json",
		ValueType:      "string",
		TTL:            time.Hour,
		CreatedAt:      time.Now(),
		LastAccessedAt: time.Now(),
		Priority:       cache.PriorityMedium,
	}
}

func TestIndexRecordAndGet(t *testing.T) {
	ix := New()

	ix.Record(meta("user:1", 100))

	got, found := ix.Get("user:1")
	if !found {
		t.Fatal("recorded key not found")
	}
	if got.Size != 100 {
		t.Errorf("expected size 100, got %d", got.Size)
	}
	if ix.Len() != 1 || ix.TotalSize() != 100 {
		t.Errorf("expected len 1 / size 100, got %d / %d", ix.Len(), ix.TotalSize())
	}

	_, found = ix.Get("user:2")
	if found {
		t.Error("unrecorded key reported present")
	}
}

func TestIndexReplaceAdjustsSize(t *testing.T) {
	ix := New()

	ix.Record(meta("k", 100))
	ix.Record(meta("k", 40))

	if ix.Len() != 1 {
		t.Errorf("expected single entry, got %d", ix.Len())
	}
	if ix.TotalSize() != 40 {
		t.Errorf("expected total size 40 after replace, got %d", ix.TotalSize())
	}
}

func TestIndexGetReturnsCopy(t *testing.T) {
	ix := New()
	ix.Record(meta("k", 10))

	got, _ := ix.Get("k")
	got.Size = 9999

	again, _ := ix.Get("k")
	if again.Size != 10 {
		t.Error("mutating a returned copy must not affect the index")
	}
}

func TestIndexTouch(t *testing.T) {
	ix := New()
	before := time.Now().Add(-time.Hour)

	m := meta("k", 10)
	m.LastAccessedAt = before
	m.AccessCount = 5
	ix.Record(m)

	if !ix.Touch("k") {
		t.Fatal("touch of present key should succeed")
	}
	if ix.Touch("missing") {
		t.Error("touch of absent key should fail")
	}

	got, _ := ix.Get("k")
	if got.AccessCount != 6 {
		t.Errorf("expected access count 6, got %d", got.AccessCount)
	}
	if !got.LastAccessedAt.After(before) {
		t.Error("touch should advance last access time")
	}
}

func TestIndexRemove(t *testing.T) {
	ix := New()
	ix.Record(meta("k", 25))

	if !ix.Remove("k") {
		t.Fatal("remove of present key should succeed")
	}
	if ix.Remove("k") {
		t.Error("second remove should report false")
	}
	if ix.Len() != 0 || ix.TotalSize() != 0 {
		t.Errorf("expected empty index, got len %d size %d", ix.Len(), ix.TotalSize())
	}
}

func TestIndexSetTTL(t *testing.T) {
	ix := New()
	ix.Record(meta("k", 10))

	if !ix.SetTTL("k", 30*time.Minute) {
		t.Fatal("SetTTL of present key should succeed")
	}
	got, _ := ix.Get("k")
	if got.TTL != 30*time.Minute {
		t.Errorf("expected TTL 30m, got %v", got.TTL)
	}

	if ix.SetTTL("missing", time.Hour) {
		t.Error("SetTTL of absent key should fail")
	}
}

func TestIndexAllSorted(t *testing.T) {
	ix := New()
	ix.Record(meta("c", 1))
	ix.Record(meta("a", 1))
	ix.Record(meta("b", 1))

	all := ix.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	for i, want := range []string{"a", "b", "c"} {
		if all[i].Key != want {
			t.Errorf("position %d: expected %s, got %s", i, want, all[i].Key)
		}
	}
}

func TestIndexGenerationAdvances(t *testing.T) {
	ix := New()
	start := ix.Generation()

	ix.Record(meta("k", 1))
	ix.Touch("k")
	ix.SetTTL("k", time.Minute)
	ix.Remove("k")

	if ix.Generation() != start+4 {
		t.Errorf("expected 4 generation bumps, got %d", ix.Generation()-start)
	}
}

func TestIndexReset(t *testing.T) {
	ix := New()
	ix.Record(meta("old", 50))

	ix.Reset([]cache.Metadata{meta("new1", 10), meta("new2", 20)})

	if _, found := ix.Get("old"); found {
		t.Error("reset should drop previous entries")
	}
	if ix.Len() != 2 || ix.TotalSize() != 30 {
		t.Errorf("expected len 2 size 30, got %d / %d", ix.Len(), ix.TotalSize())
	}
}
