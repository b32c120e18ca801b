package drift

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/driftscan/internal/extract"
	"github.com/nao1215/driftscan/internal/fetch"
	"github.com/nao1215/driftscan/internal/model"
)

// stubFetcher serves fixed bodies per page.
type stubFetcher struct {
	mu     sync.Mutex
	bodies map[model.PageNumber]string
	status map[model.PageNumber]int
	errs   map[model.PageNumber]error
	seen   []model.PageNumber
}

func (s *stubFetcher) Fetch(_ context.Context, page model.PageNumber) (*fetch.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen = append(s.seen, page)
	if err, ok := s.errs[page]; ok {
		return nil, err
	}
	status := 200
	if st, ok := s.status[page]; ok {
		status = st
	}
	return &fetch.Result{Page: page, StatusCode: status, Body: []byte(s.bodies[page])}, nil
}

func body(nums ...int) string {
	s := "<html><body>"
	for _, n := range nums {
		s += fmt.Sprintf(`<a href="/files/EFTA%08d.pdf">x</a>`, n)
	}
	return s + "</body></html>"
}

func fingerprintOf(nums ...int) string {
	ids := make([]model.Identifier, 0, len(nums))
	for _, n := range nums {
		ids = append(ids, model.Identifier(fmt.Sprintf("EFTA%08d", n)))
	}
	return model.FingerprintOf(ids)
}

// checkpointWithPages builds a checkpoint whose pages 0..n-1 each carry a
// fingerprint for the identifier set {page+1}.
func checkpointWithPages(n int) *model.Checkpoint {
	cp := &model.Checkpoint{
		SchemaVersion: model.CheckpointSchemaVersion,
		Endpoint:      "https://example.gov/listing",
		Epoch:         1,
		LastPage:      model.PageFromInt(int64(n - 1)),
		Manifest:      map[model.Identifier]model.PageNumber{},
		Fingerprints:  map[string]model.PageNumber{},
		Pages:         map[model.PageNumber]model.PageRecord{},
		SavedAt:       time.Now(),
	}
	for p := 0; p < n; p++ {
		page := model.PageFromInt(int64(p))
		fp := fingerprintOf(p + 1)
		cp.Fingerprints[fp] = page
		cp.Pages[page] = model.PageRecord{Fingerprint: fp, Class: model.ClassNew, Count: 1, New: 1}
		cp.Manifest[model.Identifier(fmt.Sprintf("EFTA%08d", p+1))] = page
	}
	return cp
}

func TestCheck(t *testing.T) {
	t.Parallel()

	t.Run("stable endpoint matches everywhere", func(t *testing.T) {
		t.Parallel()

		cp := checkpointWithPages(5)
		f := &stubFetcher{bodies: map[model.PageNumber]string{
			"0": body(1), "1": body(2), "2": body(3), "3": body(4), "4": body(5),
		}}
		d := New(f, extract.New(model.DefaultPattern()))

		sum, err := d.Check(context.Background(), cp)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if sum.Matched != 5 || sum.Changed != 0 || sum.Skipped != 0 {
			t.Errorf("verdicts = %d/%d/%d, want 5/0/0", sum.Matched, sum.Changed, sum.Skipped)
		}
		if sum.Drifted() {
			t.Error("Drifted = true for a stable endpoint")
		}
		if sum.NextEpoch() != cp.Epoch {
			t.Errorf("NextEpoch = %d, want %d", sum.NextEpoch(), cp.Epoch)
		}
	})

	t.Run("one changed page flags drift and bumps the epoch", func(t *testing.T) {
		t.Parallel()

		cp := checkpointWithPages(3)
		f := &stubFetcher{bodies: map[model.PageNumber]string{
			"0": body(1),
			"1": body(999), // shifted content
			"2": body(3),
		}}
		d := New(f, extract.New(model.DefaultPattern()))

		sum, err := d.Check(context.Background(), cp)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if sum.Changed != 1 || sum.Matched != 2 {
			t.Errorf("verdicts = %d matched, %d changed, want 2/1", sum.Matched, sum.Changed)
		}
		if !sum.Drifted() {
			t.Error("Drifted = false with a changed page")
		}
		if sum.NextEpoch() != cp.Epoch+1 {
			t.Errorf("NextEpoch = %d, want %d", sum.NextEpoch(), cp.Epoch+1)
		}
	})

	t.Run("fetch failures are skipped, not fatal", func(t *testing.T) {
		t.Parallel()

		cp := checkpointWithPages(3)
		f := &stubFetcher{
			bodies: map[model.PageNumber]string{"0": body(1), "2": body(3)},
			errs:   map[model.PageNumber]error{"1": errors.New("connection reset")},
		}
		d := New(f, extract.New(model.DefaultPattern()))

		sum, err := d.Check(context.Background(), cp)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if sum.Skipped != 1 || sum.Matched != 2 {
			t.Errorf("verdicts = %d matched, %d skipped, want 2/1", sum.Matched, sum.Skipped)
		}
		if sum.Drifted() {
			t.Error("skips alone must not count as drift")
		}
	})

	t.Run("non-200 pages are skipped with the status note", func(t *testing.T) {
		t.Parallel()

		cp := checkpointWithPages(1)
		f := &stubFetcher{status: map[model.PageNumber]int{"0": 503}}
		d := New(f, extract.New(model.DefaultPattern()))

		sum, err := d.Check(context.Background(), cp)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if sum.Skipped != 1 {
			t.Fatalf("skipped = %d, want 1", sum.Skipped)
		}
		if got := sum.Reports[0].Note; got != "http_503" {
			t.Errorf("note = %q, want http_503", got)
		}
	})

	t.Run("empty checkpoint is an error", func(t *testing.T) {
		t.Parallel()

		cp := &model.Checkpoint{
			SchemaVersion: model.CheckpointSchemaVersion,
			Fingerprints:  map[string]model.PageNumber{},
			Pages:         map[model.PageNumber]model.PageRecord{},
		}
		d := New(&stubFetcher{}, extract.New(model.DefaultPattern()))

		if _, err := d.Check(context.Background(), cp); err == nil {
			t.Error("expected an error for a checkpoint with no pages")
		}
	})
}

func TestSamplePages(t *testing.T) {
	t.Parallel()

	t.Run("small checkpoints are sampled in full", func(t *testing.T) {
		t.Parallel()

		cp := checkpointWithPages(5)
		d := New(&stubFetcher{}, extract.New(model.DefaultPattern()))

		pages := d.samplePages(cp)
		if len(pages) != 5 {
			t.Errorf("sample = %d pages, want all 5", len(pages))
		}
	})

	t.Run("large checkpoints pin both ends", func(t *testing.T) {
		t.Parallel()

		cp := checkpointWithPages(500)
		d := New(&stubFetcher{}, extract.New(model.DefaultPattern()))

		pages := d.samplePages(cp)
		if len(pages) > DefaultSampleSize {
			t.Fatalf("sample = %d pages, want at most %d", len(pages), DefaultSampleSize)
		}
		if pages[0] != "0" {
			t.Errorf("first sampled page = %s, want 0", pages[0])
		}
		if pages[len(pages)-1] != "499" {
			t.Errorf("last sampled page = %s, want 499", pages[len(pages)-1])
		}
	})
}
