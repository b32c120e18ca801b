package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/driftscan/internal/database"
	"github.com/nao1215/driftscan/internal/model"
)

// TestNewHistoryCmd tests the history command creation.
func TestNewHistoryCmd(t *testing.T) {
	t.Parallel()

	cmd := NewHistoryCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if cmd.Use != "history [endpoint-url]" {
			t.Errorf("expected use 'history [endpoint-url]', got %q", cmd.Use)
		}
	})

	t.Run("has short description", func(t *testing.T) {
		t.Parallel()
		if cmd.Short == "" {
			t.Error("expected non-empty short description")
		}
	})

	t.Run("has drift flag", func(t *testing.T) {
		t.Parallel()
		flag := cmd.Flags().Lookup("drift")
		if flag == nil {
			t.Fatal("expected drift flag")
		}
		if flag.Shorthand != "d" {
			t.Errorf("expected shorthand 'd', got %q", flag.Shorthand)
		}
	})
}

// TestRunHistoryCmdDriftWithoutEndpoint tests --drift without an endpoint.
func TestRunHistoryCmdDriftWithoutEndpoint(t *testing.T) {
	t.Parallel()

	rootCmd := NewRootCmd()
	rootCmd.SetArgs([]string{"history", "--drift"})

	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for --drift without endpoint")
	}
	if !strings.Contains(err.Error(), "--drift requires an endpoint URL") {
		t.Errorf("unexpected error: %v", err)
	}
}

// openTestHistoryDB opens a database in a temporary directory.
func openTestHistoryDB(t *testing.T) *database.CrawlDB {
	t.Helper()

	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// TestListArchivedEndpoints tests the endpoint listing output.
func TestListArchivedEndpoints(t *testing.T) {
	t.Run("shows message when database is empty", func(t *testing.T) {
		db := openTestHistoryDB(t)

		output := captureVerifyOutput(t, func() {
			if err := listArchivedEndpoints(context.Background(), db); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})

		if !strings.Contains(output, "No archived runs found") {
			t.Error("expected empty-database message")
		}
	})

	t.Run("lists archived endpoints", func(t *testing.T) {
		db := openTestHistoryDB(t)
		ctx := context.Background()

		for _, endpoint := range []string{
			"https://a.example.com/docs",
			"https://b.example.com/docs",
		} {
			report := model.NewCrawlReport(endpoint, 1)
			report.FinishedAt = report.StartedAt.Add(time.Minute)
			if err := db.SaveCrawlReport(ctx, report); err != nil {
				t.Fatalf("failed to save report: %v", err)
			}
		}

		output := captureVerifyOutput(t, func() {
			if err := listArchivedEndpoints(ctx, db); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})

		if !strings.Contains(output, "Archived endpoints (2):") {
			t.Error("expected endpoint count header")
		}
		if !strings.Contains(output, "https://a.example.com/docs") {
			t.Error("expected first endpoint in listing")
		}
		if !strings.Contains(output, "https://b.example.com/docs") {
			t.Error("expected second endpoint in listing")
		}
	})
}

// TestListRunHistory tests the run history output.
func TestListRunHistory(t *testing.T) {
	t.Run("shows message when endpoint has no runs", func(t *testing.T) {
		db := openTestHistoryDB(t)

		output := captureVerifyOutput(t, func() {
			if err := listRunHistory(context.Background(), db, "https://example.com/listing"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})

		if !strings.Contains(output, "No run history found") {
			t.Error("expected no-history message")
		}
	})

	t.Run("lists archived runs with class summaries", func(t *testing.T) {
		db := openTestHistoryDB(t)
		ctx := context.Background()
		endpoint := "https://example.com/listing"

		report := model.NewCrawlReport(endpoint, 2)
		report.PagesProcessed = 10
		report.Counts = map[model.Class]int{
			model.ClassNew:   8,
			model.ClassEmpty: 2,
		}
		report.FinishedAt = report.StartedAt.Add(time.Minute)
		if err := db.SaveCrawlReport(ctx, report); err != nil {
			t.Fatalf("failed to save report: %v", err)
		}

		output := captureVerifyOutput(t, func() {
			if err := listRunHistory(ctx, db, endpoint); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})

		if !strings.Contains(output, "Run history for "+endpoint) {
			t.Error("expected run history header")
		}
		if !strings.Contains(output, "N:8 E:2") {
			t.Errorf("expected class summary in output, got:\n%s", output)
		}
		if !strings.Contains(output, "driftscan diff") {
			t.Error("expected diff hint")
		}
	})
}

// TestFormatClassSummary tests the compact class summary formatting.
func TestFormatClassSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		summary map[string]int
		want    string
	}{
		{
			name:    "nil summary",
			summary: nil,
			want:    "N/A",
		},
		{
			name:    "empty summary",
			summary: map[string]int{},
			want:    "N/A",
		},
		{
			name:    "all zero counts",
			summary: map[string]int{string(model.ClassNew): 0},
			want:    "N/A",
		},
		{
			name: "single class",
			summary: map[string]int{
				string(model.ClassNew): 12,
			},
			want: "N:12",
		},
		{
			name: "all classes in reporting order",
			summary: map[string]int{
				string(model.ClassNew):       5,
				string(model.ClassTrueWrap):  1,
				string(model.ClassRedundant): 3,
				string(model.ClassEmpty):     2,
				string(model.ClassError):     4,
			},
			want: "N:5 W:1 R:3 E:2 X:4",
		},
		{
			name: "skips zero counts",
			summary: map[string]int{
				string(model.ClassNew):   7,
				string(model.ClassEmpty): 0,
				string(model.ClassError): 1,
			},
			want: "N:7 X:1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := formatClassSummary(tt.summary); got != tt.want {
				t.Errorf("formatClassSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestListDriftHistory tests the drift verdict listing output.
func TestListDriftHistory(t *testing.T) {
	t.Run("shows message when endpoint has no verdicts", func(t *testing.T) {
		db := openTestHistoryDB(t)

		output := captureVerifyOutput(t, func() {
			if err := listDriftHistory(context.Background(), db, "https://example.com/listing"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})

		if !strings.Contains(output, "No drift verdicts found") {
			t.Error("expected no-verdicts message")
		}
	})

	t.Run("lists archived drift verdicts", func(t *testing.T) {
		db := openTestHistoryDB(t)
		ctx := context.Background()
		endpoint := "https://example.com/listing"

		summary := &model.DriftSummary{
			Epoch:     2,
			Matched:   1,
			Changed:   1,
			SampledAt: time.Now(),
			Reports: []model.DriftReport{
				{Page: "0", Verdict: model.VerdictMatch, CheckedAt: time.Now()},
				{Page: "7", Verdict: model.VerdictChanged, Note: "fingerprint mismatch", CheckedAt: time.Now()},
			},
		}
		if err := db.SaveDriftSummary(ctx, endpoint, summary); err != nil {
			t.Fatalf("failed to save drift summary: %v", err)
		}

		output := captureVerifyOutput(t, func() {
			if err := listDriftHistory(ctx, db, endpoint); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})

		if !strings.Contains(output, "Drift verdicts for "+endpoint) {
			t.Error("expected drift history header")
		}
		if !strings.Contains(output, "CHANGED") {
			t.Error("expected changed verdict in listing")
		}
		if !strings.Contains(output, "fingerprint mismatch") {
			t.Error("expected verdict note in listing")
		}
	})
}
