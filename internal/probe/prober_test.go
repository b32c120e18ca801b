package probe

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/nao1215/driftscan/internal/extract"
	"github.com/nao1215/driftscan/internal/fetch"
	"github.com/nao1215/driftscan/internal/index"
	"github.com/nao1215/driftscan/internal/model"
)

// edgeKind is how the simulated server treats out-of-range pages.
type edgeKind int

const (
	edgeClamp edgeKind = iota // serve page 0's content
	edgeError                 // return 404
	edgeEmpty                 // serve a listing with no identifiers
)

// edgeServer simulates a listing endpoint with pages 0..limit, each
// carrying one distinct identifier. limit < 0 means every page is valid.
type edgeServer struct {
	limit int64
	edge  edgeKind
	calls int
}

func (s *edgeServer) Fetch(_ context.Context, page model.PageNumber) (*fetch.Result, error) {
	s.calls++

	n, ok := new(big.Int).SetString(string(page), 10)
	if !ok {
		return &fetch.Result{Page: page, StatusCode: 400}, nil
	}

	inRange := n.Sign() >= 0 && (s.limit < 0 || n.Cmp(big.NewInt(s.limit)) <= 0)
	if inRange {
		// Identifier index derived from the page, folded into 8 digits
		// so arbitrarily large pages still produce valid identifiers.
		idx := new(big.Int).Mod(n, big.NewInt(90000000))
		body := fmt.Sprintf(`<html><a href="/files/EFTA%08d.pdf">x</a></html>`, idx.Int64()+1)
		return &fetch.Result{Page: page, StatusCode: 200, Body: []byte(body)}, nil
	}

	switch s.edge {
	case edgeError:
		return &fetch.Result{Page: page, StatusCode: 404}, nil
	case edgeEmpty:
		return &fetch.Result{Page: page, StatusCode: 200, Body: []byte("<html><body></body></html>")}, nil
	default:
		body := `<html><a href="/files/EFTA00000001.pdf">x</a></html>`
		return &fetch.Result{Page: page, StatusCode: 200, Body: []byte(body)}, nil
	}
}

func newTestProber(s *edgeServer, opts ...Option) *Prober {
	return New(s, extract.New(model.DefaultPattern()), opts...)
}

func TestRunFindsClampedBoundary(t *testing.T) {
	t.Parallel()

	srv := &edgeServer{limit: 1000, edge: edgeClamp}
	p := newTestProber(srv)

	report, err := p.Run(context.Background(), "0")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := report.Upper.LastGood; got != "1000" {
		t.Errorf("upper last good = %s, want 1000", got)
	}
	if got := report.Upper.FirstBad; got != "1001" {
		t.Errorf("upper first bad = %s, want 1001", got)
	}
	if report.Upper.Unbounded {
		t.Error("bounded server reported unbounded")
	}

	// Negative pages clamp too, so the lower edge sits at zero.
	if got := report.Lower.LastGood; got != "0" {
		t.Errorf("lower last good = %s, want 0", got)
	}
	if got := report.Lower.FirstBad; got != "-1" {
		t.Errorf("lower first bad = %s, want -1", got)
	}

	// Clamped probes must be marked as such.
	var sawClamped bool
	for _, probe := range report.Probes {
		if probe.Clamped {
			sawClamped = true
			if probe.Fingerprint != report.ReferenceFingerprint {
				t.Errorf("clamped probe fingerprint %s != reference %s", probe.Fingerprint, report.ReferenceFingerprint)
			}
		}
	}
	if !sawClamped {
		t.Error("no probe was marked clamped on a clamping server")
	}
}

func TestRunFindsErrorBoundary(t *testing.T) {
	t.Parallel()

	srv := &edgeServer{limit: 50, edge: edgeError}
	p := newTestProber(srv)

	report, err := p.Run(context.Background(), "0")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := report.Upper.LastGood; got != "50" {
		t.Errorf("upper last good = %s, want 50", got)
	}
	if got := report.Upper.FirstBad; got != "51" {
		t.Errorf("upper first bad = %s, want 51", got)
	}

	// Doubling plus bisection stays logarithmic.
	if srv.calls > 40 {
		t.Errorf("boundary search spent %d fetches, want well under 40", srv.calls)
	}
}

func TestRunFindsEmptyBoundary(t *testing.T) {
	t.Parallel()

	srv := &edgeServer{limit: 7, edge: edgeEmpty}
	p := newTestProber(srv)

	report, err := p.Run(context.Background(), "0")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Upper.LastGood; got != "7" {
		t.Errorf("upper last good = %s, want 7", got)
	}
}

func TestRunUnboundedServer(t *testing.T) {
	t.Parallel()

	srv := &edgeServer{limit: -1} // every page answers distinct content
	p := newTestProber(srv, WithSearchCap(big.NewInt(100000)))

	report, err := p.Run(context.Background(), "0")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Upper.Unbounded {
		t.Error("expected the upper search to report unbounded")
	}
	if report.Upper.FirstBad != "" {
		t.Errorf("unbounded search set first bad = %s", report.Upper.FirstBad)
	}
}

func TestRunMergesFreshProbesIntoIndex(t *testing.T) {
	t.Parallel()

	srv := &edgeServer{limit: 100, edge: edgeClamp}
	ix := index.New(1)
	p := newTestProber(srv, WithIndex(ix))

	report, err := p.Run(context.Background(), "0")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var contributed int
	for _, probe := range report.Probes {
		contributed += probe.NewIdentifiers
	}
	if contributed == 0 {
		t.Error("no probe contributed identifiers to an empty index")
	}
	if ix.Size() != contributed {
		t.Errorf("index size = %d, probes contributed %d", ix.Size(), contributed)
	}
}

func TestRunFailingReferencePage(t *testing.T) {
	t.Parallel()

	// Page 5000 is out of range, so using it as reference must fail.
	srv := &edgeServer{limit: 100, edge: edgeError}
	p := newTestProber(srv)

	if _, err := p.Run(context.Background(), "5000"); err == nil {
		t.Error("expected an error for an unfetchable reference page")
	}
}
