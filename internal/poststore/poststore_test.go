package poststore

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStoreAndLoad(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	data := LinkData{
		OwnerID:    42,
		URL:        "https://opr.news/abc",
		DatePosted: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Status:     "active",
	}

	ref, err := s.Store(data)
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if ref != "posts_1.json:0" {
		t.Fatalf("ref = %q, want posts_1.json:0", ref)
	}

	got, err := s.Load(ref)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.OwnerID != data.OwnerID || got.URL != data.URL {
		t.Fatalf("loaded %+v, want %+v", got, data)
	}
}

func TestStore_SequentialRefs(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	for i := 0; i < 3; i++ {
		ref, err := s.Store(LinkData{OwnerID: int64(i), URL: "u"})
		if err != nil {
			t.Fatalf("Store error: %v", err)
		}
		want := []string{"posts_1.json:0", "posts_1.json:1", "posts_1.json:2"}[i]
		if ref != want {
			t.Fatalf("ref #%d = %q, want %q", i, ref, want)
		}
	}
}

func TestStore_RollsOverToNewFile(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	s.postsPerCap = 2

	refs := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		ref, err := s.Store(LinkData{OwnerID: int64(i), URL: "u"})
		if err != nil {
			t.Fatalf("Store error: %v", err)
		}
		refs = append(refs, ref)
	}

	if refs[2] != "posts_2.json:0" {
		t.Fatalf("third ref = %q, want posts_2.json:0 after rollover", refs[2])
	}

	// Записи первого файла остаются доступными после переполнения.
	got, err := s.Load(refs[0])
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.OwnerID != 0 {
		t.Fatalf("loaded owner = %d, want 0", got.OwnerID)
	}

	files, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("file count = %d, want 2", len(files))
	}
}

func TestStore_ConcurrentStores(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	const writers = 20

	refs := make(chan string, writers)
	errs := make(chan error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(owner int64) {
			defer wg.Done()
			ref, err := s.Store(LinkData{OwnerID: owner, URL: "u"})
			if err != nil {
				errs <- err
				return
			}
			refs <- ref
		}(int64(i))
	}
	wg.Wait()
	close(refs)
	close(errs)

	for err := range errs {
		t.Fatalf("Store error: %v", err)
	}

	// Каждая публикация получает собственную ссылку на запись.
	seen := make(map[string]bool, writers)
	for ref := range refs {
		if seen[ref] {
			t.Fatalf("duplicate ref %q", ref)
		}
		seen[ref] = true
	}
	if len(seen) != writers {
		t.Fatalf("unique refs = %d, want %d", len(seen), writers)
	}

	// Все записи читаются, ни одна не потеряна и не затёрта соседней.
	owners := make(map[int64]bool, writers)
	for ref := range seen {
		data, err := s.Load(ref)
		if err != nil {
			t.Fatalf("Load(%q) error: %v", ref, err)
		}
		owners[data.OwnerID] = true
	}
	if len(owners) != writers {
		t.Fatalf("distinct payloads = %d, want %d", len(owners), writers)
	}
}

func TestLoad_BadRef(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	for _, ref := range []string{"", "posts_1.json", "posts_1.json:x", ":0"} {
		if _, err := s.Load(ref); !errors.Is(err, ErrBadRef) {
			t.Fatalf("Load(%q) = %v, want ErrBadRef", ref, err)
		}
	}
}

func TestLoad_MissingPayload(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	if _, err := s.Store(LinkData{URL: "u"}); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	if _, err := s.Load("posts_1.json:5"); !errors.Is(err, ErrPayloadNotFound) {
		t.Fatalf("out-of-range index = %v, want ErrPayloadNotFound", err)
	}
	if _, err := s.Load("posts_9.json:0"); !errors.Is(err, ErrPayloadNotFound) {
		t.Fatalf("missing file = %v, want ErrPayloadNotFound", err)
	}
}
