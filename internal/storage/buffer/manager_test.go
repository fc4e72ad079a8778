package buffer

import (
	"context"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/SimonWaldherr/tinykv/internal/storage/diskio"
	"github.com/SimonWaldherr/tinykv/internal/storage/page"
)

func newTestManager(t *testing.T, pageSize, pageCount int) *Manager {
	t.Helper()
	store, err := diskio.Open(t.TempDir(), pageSize)
	if err != nil {
		t.Fatalf("diskio.Open: %v", err)
	}
	m, err := New(store, pageSize, pageCount)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestFixLoadsIntoFIFO(t *testing.T) {
	m := newTestManager(t, 64, 4)
	id := page.Make(0, 1)

	ref, err := m.Fix(id, true)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	m.Unfix(ref, false)

	fifo := m.FIFOIDs()
	if len(fifo) != 1 || fifo[0] != id {
		t.Fatalf("expected %v alone in FIFO, got %v", id, fifo)
	}
	if lru := m.LRUIDs(); len(lru) != 0 {
		t.Fatalf("expected empty LRU on first load, got %v", lru)
	}
}

func TestPromotionOnlyOnSubsequentFix(t *testing.T) {
	m := newTestManager(t, 64, 4)
	id := page.Make(0, 1)

	ref, _ := m.Fix(id, true)
	m.Unfix(ref, false)
	if lru := m.LRUIDs(); len(lru) != 0 {
		t.Fatalf("page promoted on first load: %v", lru)
	}

	ref, _ = m.Fix(id, false)
	m.Unfix(ref, false)
	if lru := m.LRUIDs(); len(lru) != 1 || lru[0] != id {
		t.Fatalf("expected page promoted to LRU after second fix, got %v", lru)
	}
	if fifo := m.FIFOIDs(); len(fifo) != 0 {
		t.Fatalf("expected page removed from FIFO after promotion, got %v", fifo)
	}
}

func TestResidencyBoundAndNoDuplicates(t *testing.T) {
	m := newTestManager(t, 64, 3)
	for i := uint64(0); i < 10; i++ {
		ref, err := m.Fix(page.Make(0, i), true)
		if err != nil {
			t.Fatalf("Fix(%d): %v", i, err)
		}
		m.Unfix(ref, false)

		seen := make(map[page.ID]bool)
		total := 0
		for _, id := range m.FIFOIDs() {
			if seen[id] {
				t.Fatalf("duplicate id %v across lists", id)
			}
			seen[id] = true
			total++
		}
		for _, id := range m.LRUIDs() {
			if seen[id] {
				t.Fatalf("duplicate id %v across lists", id)
			}
			seen[id] = true
			total++
		}
		if total > 3 {
			t.Fatalf("residency bound violated: %d resident frames > page_count 3", total)
		}
	}
}

func TestBufferFullWhenAllPinned(t *testing.T) {
	m := newTestManager(t, 64, 2)

	ref0, err := m.Fix(page.Make(0, 0), true)
	if err != nil {
		t.Fatalf("Fix 0: %v", err)
	}
	ref1, err := m.Fix(page.Make(0, 1), true)
	if err != nil {
		t.Fatalf("Fix 1: %v", err)
	}

	if _, err := m.Fix(page.Make(0, 2), true); err != ErrBufferFull {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}

	m.Unfix(ref0, false)
	if _, err := m.Fix(page.Make(0, 2), true); err != nil {
		t.Fatalf("expected Fix to succeed once a frame is unpinned, got %v", err)
	}
	m.Unfix(ref1, false)
}

func TestPinnedPagesSurviveEvictionPressure(t *testing.T) {
	m := newTestManager(t, 64, 2)

	pinned, err := m.Fix(page.Make(0, 99), true)
	if err != nil {
		t.Fatalf("Fix pinned: %v", err)
	}

	for i := uint64(0); i < 20; i++ {
		ref, err := m.Fix(page.Make(1, i), true)
		if err != nil {
			t.Fatalf("Fix churn %d: %v", i, err)
		}
		m.Unfix(ref, false)
	}

	found := false
	for _, id := range append(m.FIFOIDs(), m.LRUIDs()...) {
		if id == page.Make(0, 99) {
			found = true
		}
	}
	if !found {
		t.Fatal("pinned page was evicted")
	}
	m.Unfix(pinned, false)
}

func TestWriteBackSurvivesEviction(t *testing.T) {
	m := newTestManager(t, 64, 2)

	id := page.Make(0, 0)
	ref, err := m.Fix(id, true)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	copy(ref.Data(), []byte("hello, page"))
	m.Unfix(ref, true)

	// Evict id by cycling through more distinct pages than page_count.
	for i := uint64(1); i <= 5; i++ {
		ref, err := m.Fix(page.Make(0, i), true)
		if err != nil {
			t.Fatalf("Fix churn %d: %v", i, err)
		}
		m.Unfix(ref, false)
	}

	ref, err = m.Fix(id, false)
	if err != nil {
		t.Fatalf("re-Fix: %v", err)
	}
	got := string(ref.Data()[:11])
	m.Unfix(ref, false)
	if got != "hello, page" {
		t.Fatalf("write-back lost: got %q", got)
	}
}

// TestConcurrentFixUnfixNoFailures drives many goroutines against a small
// bounded pool and expects no unexpected BufferFull, using errgroup to fan
// the workers out and collect the first real failure.
func TestConcurrentFixUnfixNoFailures(t *testing.T) {
	m := newTestManager(t, 4096, 4)

	g, _ := errgroup.WithContext(context.Background())
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				id := page.Make(0, uint64((w*200+i)%4))
				ref, err := m.Fix(id, i%2 == 0)
				if err == ErrBufferFull {
					continue
				}
				if err != nil {
					return err
				}
				m.Unfix(ref, i%2 == 0)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent fix/unfix failed: %v", err)
	}
}
