package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nao1215/driftscan/internal/checkpoint"
	"github.com/nao1215/driftscan/internal/database"
	"github.com/nao1215/driftscan/internal/drift"
	"github.com/nao1215/driftscan/internal/extract"
	"github.com/nao1215/driftscan/internal/fetch"
	"github.com/nao1215/driftscan/internal/model"
)

// listingServer simulates an endpoint with pages 0..limit, one identifier
// per page. Pages past the limit answer an empty listing.
func listingServer(t *testing.T, limit int) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		var n int
		if _, err := fmt.Sscanf(page, "%d", &n); err != nil || n < 0 || n > limit {
			fmt.Fprint(w, "<html><body>no results</body></html>")
			return
		}
		fmt.Fprintf(w, `<html><a href="/files/EFTA%08d.pdf">doc</a></html>`, n+1)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// trackingListingServer is a listingServer that also records every
// requested page number, in arrival order.
func trackingListingServer(t *testing.T, limit int) (*httptest.Server, func() []string) {
	t.Helper()

	var mu sync.Mutex
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		mu.Lock()
		pages = append(pages, page)
		mu.Unlock()

		var n int
		if _, err := fmt.Sscanf(page, "%d", &n); err != nil || n < 0 || n > limit {
			fmt.Fprint(w, "<html><body>no results</body></html>")
			return
		}
		fmt.Fprintf(w, `<html><a href="/files/EFTA%08d.pdf">doc</a></html>`, n+1)
	}))
	t.Cleanup(srv.Close)

	requested := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), pages...)
	}
	return srv, requested
}

func newPipelineFetcher(t *testing.T, endpoint string) *fetch.Client {
	t.Helper()

	client, err := fetch.NewClient(endpoint, fetch.WithDelay(0))
	if err != nil {
		t.Fatalf("new fetch client: %v", err)
	}
	return client
}

// TestCrawlStepDo tests the crawl step end to end against a local server.
func TestCrawlStepDo(t *testing.T) {
	t.Parallel()

	srv := listingServer(t, 9)
	store := checkpoint.NewStore(filepath.Join(t.TempDir(), "cp.json"))
	extractor := extract.New(model.DefaultPattern())

	step := NewCrawlStep(
		newPipelineFetcher(t, srv.URL),
		extractor,
		0, 9,
		WithCrawlCheckpointStore(store),
	)

	report := model.NewCrawlReport(srv.URL, 1)
	if err := step.Do(context.Background(), report); err != nil {
		t.Fatalf("crawl step: %v", err)
	}

	if report.PagesProcessed != 10 {
		t.Errorf("pages processed = %d, want 10", report.PagesProcessed)
	}
	if report.ManifestSize != 10 {
		t.Errorf("manifest size = %d, want 10", report.ManifestSize)
	}
	if report.Resumed {
		t.Error("first run must not be marked resumed")
	}
	if !store.Exists() {
		t.Error("crawl step must leave a checkpoint")
	}

	// A second run over the same range resumes and contributes nothing.
	step2 := NewCrawlStep(
		newPipelineFetcher(t, srv.URL),
		extractor,
		0, 9,
		WithCrawlCheckpointStore(store),
	)
	report2 := model.NewCrawlReport(srv.URL, 1)
	if err := step2.Do(context.Background(), report2); err != nil {
		t.Fatalf("resumed crawl step: %v", err)
	}
	if !report2.Resumed {
		t.Error("second run must be marked resumed")
	}
	if report2.NewIdentifiers != 0 {
		t.Errorf("resumed run contributed %d identifiers, want 0", report2.NewIdentifiers)
	}
	if report2.ManifestSize != 10 {
		t.Errorf("resumed manifest size = %d, want 10", report2.ManifestSize)
	}
}

// TestCrawlStepResumeFastForward tests that a same-epoch resume continues
// past the checkpoint instead of refetching pages it already classified.
func TestCrawlStepResumeFastForward(t *testing.T) {
	t.Parallel()

	t.Run("covered range is not refetched", func(t *testing.T) {
		t.Parallel()

		srv, requested := trackingListingServer(t, 2)
		store := checkpoint.NewStore(filepath.Join(t.TempDir(), "cp.json"))
		extractor := extract.New(model.DefaultPattern())

		first := NewCrawlStep(newPipelineFetcher(t, srv.URL), extractor, 0, 2,
			WithCrawlCheckpointStore(store))
		report := model.NewCrawlReport(srv.URL, 1)
		if err := first.Do(context.Background(), report); err != nil {
			t.Fatalf("first crawl: %v", err)
		}
		if got := report.Counts[model.ClassNew]; got != 3 {
			t.Fatalf("first run NEW count = %d, want 3", got)
		}
		before := len(requested())

		second := NewCrawlStep(newPipelineFetcher(t, srv.URL), extractor, 0, 2,
			WithCrawlCheckpointStore(store))
		report2 := model.NewCrawlReport(srv.URL, 1)
		if err := second.Do(context.Background(), report2); err != nil {
			t.Fatalf("resumed crawl: %v", err)
		}

		if got := len(requested()) - before; got != 0 {
			t.Errorf("resumed run refetched %d pages, want 0", got)
		}
		if got := report2.Counts[model.ClassNew]; got != 3 {
			t.Errorf("NEW count after resume = %d, want 3", got)
		}
		if got := report2.Counts[model.ClassTrueWrap]; got != 0 {
			t.Errorf("TRUE_WRAP count after resume = %d, want 0", got)
		}
		if report2.LastPage != "2" {
			t.Errorf("last page = %s, want 2", report2.LastPage)
		}
	})

	t.Run("only the uncovered tail is fetched", func(t *testing.T) {
		t.Parallel()

		srv, requested := trackingListingServer(t, 3)
		store := checkpoint.NewStore(filepath.Join(t.TempDir(), "cp.json"))
		extractor := extract.New(model.DefaultPattern())

		first := NewCrawlStep(newPipelineFetcher(t, srv.URL), extractor, 0, 1,
			WithCrawlCheckpointStore(store))
		if err := first.Do(context.Background(), model.NewCrawlReport(srv.URL, 1)); err != nil {
			t.Fatalf("first crawl: %v", err)
		}
		before := len(requested())

		second := NewCrawlStep(newPipelineFetcher(t, srv.URL), extractor, 0, 3,
			WithCrawlCheckpointStore(store))
		report := model.NewCrawlReport(srv.URL, 1)
		if err := second.Do(context.Background(), report); err != nil {
			t.Fatalf("resumed crawl: %v", err)
		}

		tail := requested()[before:]
		if len(tail) != 2 || tail[0] != "2" || tail[1] != "3" {
			t.Errorf("resumed run fetched %v, want [2 3]", tail)
		}
		if report.PagesProcessed != 2 {
			t.Errorf("pages processed = %d, want 2", report.PagesProcessed)
		}
		if got := report.Counts[model.ClassNew]; got != 4 {
			t.Errorf("NEW count = %d, want 4", got)
		}
		if report.ManifestSize != 4 {
			t.Errorf("manifest size = %d, want 4", report.ManifestSize)
		}
	})

	t.Run("epoch advance re-crawls the full range", func(t *testing.T) {
		t.Parallel()

		srv, requested := trackingListingServer(t, 2)
		store := checkpoint.NewStore(filepath.Join(t.TempDir(), "cp.json"))
		extractor := extract.New(model.DefaultPattern())

		first := NewCrawlStep(newPipelineFetcher(t, srv.URL), extractor, 0, 2,
			WithCrawlCheckpointStore(store))
		if err := first.Do(context.Background(), model.NewCrawlReport(srv.URL, 1)); err != nil {
			t.Fatalf("first crawl: %v", err)
		}
		before := len(requested())

		// The verify step advanced the epoch: the fingerprint baseline is
		// discarded and every page must be classified again.
		second := NewCrawlStep(newPipelineFetcher(t, srv.URL), extractor, 0, 2,
			WithCrawlCheckpointStore(store))
		report := model.NewCrawlReport(srv.URL, 2)
		if err := second.Do(context.Background(), report); err != nil {
			t.Fatalf("re-crawl: %v", err)
		}

		if got := len(requested()) - before; got != 3 {
			t.Errorf("re-crawl fetched %d pages, want 3", got)
		}
		if got := report.Counts[model.ClassRedundant]; got != 3 {
			t.Errorf("REDUNDANT count = %d, want 3", got)
		}
		if report.ManifestSize != 3 {
			t.Errorf("manifest size = %d, want 3", report.ManifestSize)
		}
	})
}

// TestCrawlStepRejectsForeignCheckpoint tests the endpoint guard.
func TestCrawlStepRejectsForeignCheckpoint(t *testing.T) {
	t.Parallel()

	srv := listingServer(t, 3)
	store := checkpoint.NewStore(filepath.Join(t.TempDir(), "cp.json"))

	cp := &model.Checkpoint{
		Endpoint:     "https://other.example/listing",
		Epoch:        1,
		LastPage:     "3",
		Manifest:     map[model.Identifier]model.PageNumber{},
		Fingerprints: map[string]model.PageNumber{},
	}
	if err := store.Save(cp); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	step := NewCrawlStep(
		newPipelineFetcher(t, srv.URL),
		extract.New(model.DefaultPattern()),
		0, 3,
		WithCrawlCheckpointStore(store),
	)

	report := model.NewCrawlReport(srv.URL, 1)
	err := step.Do(context.Background(), report)
	if err == nil || !strings.Contains(err.Error(), "checkpoint belongs to") {
		t.Errorf("expected foreign-checkpoint error, got %v", err)
	}
}

// TestVerifyStepDo tests drift verification through the pipeline.
func TestVerifyStepDo(t *testing.T) {
	t.Parallel()

	t.Run("missing checkpoint is skipped", func(t *testing.T) {
		t.Parallel()

		srv := listingServer(t, 3)
		store := checkpoint.NewStore(filepath.Join(t.TempDir(), "cp.json"))
		detector := drift.New(newPipelineFetcher(t, srv.URL), extract.New(model.DefaultPattern()))

		step := NewVerifyStep(store, detector)
		report := model.NewCrawlReport(srv.URL, 1)

		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("verify step: %v", err)
		}
		if report.Drift != nil {
			t.Error("no checkpoint means no drift summary")
		}
	})

	t.Run("stable checkpoint keeps the epoch", func(t *testing.T) {
		t.Parallel()

		srv := listingServer(t, 5)
		dir := t.TempDir()
		store := checkpoint.NewStore(filepath.Join(dir, "cp.json"))
		extractor := extract.New(model.DefaultPattern())
		fetcher := newPipelineFetcher(t, srv.URL)

		// First crawl produces the checkpoint to verify.
		crawl := NewCrawlStep(fetcher, extractor, 0, 5, WithCrawlCheckpointStore(store))
		seed := model.NewCrawlReport(srv.URL, 1)
		if err := crawl.Do(context.Background(), seed); err != nil {
			t.Fatalf("seed crawl: %v", err)
		}

		step := NewVerifyStep(store, drift.New(fetcher, extractor))
		report := model.NewCrawlReport(srv.URL, 1)
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("verify step: %v", err)
		}

		if report.Drift == nil {
			t.Fatal("expected a drift summary")
		}
		if report.Drift.Drifted() {
			t.Error("stable server reported drift")
		}
		if report.Epoch != 1 {
			t.Errorf("epoch = %d, want 1", report.Epoch)
		}
	})
}

// TestManifestStepDo tests manifest export from a checkpoint.
func TestManifestStepDo(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := checkpoint.NewStore(filepath.Join(dir, "cp.json"))

	cp := &model.Checkpoint{
		Endpoint: "https://example.gov/listing",
		Epoch:    1,
		LastPage: "1",
		Manifest: map[model.Identifier]model.PageNumber{
			"EFTA00000002": "1",
			"EFTA00000001": "0",
		},
		Fingerprints: map[string]model.PageNumber{"fp": "0"},
	}
	if err := store.Save(cp); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	path := filepath.Join(dir, "out", "manifest.txt")
	step := NewManifestStep(store, path)

	report := model.NewCrawlReport(cp.Endpoint, 1)
	if err := step.Do(context.Background(), report); err != nil {
		t.Fatalf("manifest step: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	want := "EFTA00000001\nEFTA00000002\n"
	if string(data) != want {
		t.Errorf("manifest = %q, want %q", string(data), want)
	}
	if report.ManifestSize != 2 {
		t.Errorf("report manifest size = %d, want 2", report.ManifestSize)
	}
}

// TestProbeStepDo tests boundary probing through the pipeline.
func TestProbeStepDo(t *testing.T) {
	t.Parallel()

	srv := listingServer(t, 7)
	step := NewProbeStep(newPipelineFetcher(t, srv.URL), extract.New(model.DefaultPattern()))

	report := model.NewCrawlReport(srv.URL, 1)
	if err := step.Do(context.Background(), report); err != nil {
		t.Fatalf("probe step: %v", err)
	}

	if report.Boundary == nil {
		t.Fatal("expected a boundary report")
	}
	if got := report.Boundary.Upper.LastGood; got != "7" {
		t.Errorf("upper last good = %s, want 7", got)
	}
}

// TestProbeStepPersistsDiscoveries tests that in-range probes past the
// crawled range merge into the manifest and land in the checkpoint.
func TestProbeStepPersistsDiscoveries(t *testing.T) {
	t.Parallel()

	srv := listingServer(t, 7)
	store := checkpoint.NewStore(filepath.Join(t.TempDir(), "cp.json"))
	extractor := extract.New(model.DefaultPattern())
	fetcher := newPipelineFetcher(t, srv.URL)

	// The crawl stops at page 3; pages 4..7 exist but go uncrawled.
	crawl := NewCrawlStep(fetcher, extractor, 0, 3, WithCrawlCheckpointStore(store))
	seed := model.NewCrawlReport(srv.URL, 1)
	if err := crawl.Do(context.Background(), seed); err != nil {
		t.Fatalf("seed crawl: %v", err)
	}
	if seed.ManifestSize != 4 {
		t.Fatalf("seed manifest size = %d, want 4", seed.ManifestSize)
	}

	step := NewProbeStep(fetcher, extractor, WithProbeCheckpointStore(store))
	report := model.NewCrawlReport(srv.URL, 1)
	if err := step.Do(context.Background(), report); err != nil {
		t.Fatalf("probe step: %v", err)
	}

	cp, err := store.Load()
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	// The upper sweep lands on pages 4, 6, and 7 beyond the crawl.
	if len(cp.Manifest) != 7 {
		t.Errorf("checkpoint manifest size = %d, want 7", len(cp.Manifest))
	}
	if _, ok := cp.Manifest["EFTA00000008"]; !ok {
		t.Error("identifier from the probed tail missing from the checkpoint")
	}
	if got := cp.Counts[model.ClassNew]; got != 7 {
		t.Errorf("NEW count = %d, want 7", got)
	}
	if report.ManifestSize != 7 {
		t.Errorf("report manifest size = %d, want 7", report.ManifestSize)
	}
}

// TestArchiveStepDo tests report archival.
func TestArchiveStepDo(t *testing.T) {
	t.Parallel()

	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	step := NewArchiveStep(db)
	report := model.NewCrawlReport("https://example.gov/listing", 1)
	report.PagesProcessed = 42

	if err := step.Do(context.Background(), report); err != nil {
		t.Fatalf("archive step: %v", err)
	}
	if report.FinishedAt.IsZero() {
		t.Error("archive must stamp FinishedAt")
	}

	stored, err := db.GetLatestCrawlReport(context.Background(), report.Endpoint)
	if err != nil {
		t.Fatalf("load archived report: %v", err)
	}
	if stored == nil || stored.PagesProcessed != 42 {
		t.Errorf("archived report mismatch: %+v", stored)
	}
}
