package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func asaCaptureLine(policy string, hits int64) string {
	return fmt.Sprintf("access-list %s extended permit ip any any (hitcnt=%d) 0xcafebabe\n", policy, hits)
}

func writeCapture(t *testing.T, root, folder, file, content string) string {
	t.Helper()
	dir := filepath.Join(root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestCoordinator(t *testing.T, s *Store, root string, mod func(*CoordinatorConfig)) *Coordinator {
	t.Helper()
	cfg := CoordinatorConfig{Root: root, Workers: 2}
	if mod != nil {
		mod(&cfg)
	}
	c, err := NewCoordinator(s, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRun_FoldersApplyInDateOrderNotLexicalOrder(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	// Lexically "01012026" sorts before "12312025"; chronologically it is
	// the newer capture. The streak outcome depends on getting this right.
	writeCapture(t, root, "12312025", "fw1.txt", asaCaptureLine("P", 5))
	writeCapture(t, root, "01012026", "fw1.txt", asaCaptureLine("P", 0))

	stats, err := newTestCoordinator(t, s, root, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Folders != 2 || stats.FilesExtracted != 2 || stats.UpdatesApplied != 2 || stats.FirewallsTouched != 1 {
		t.Fatalf("stats: %+v", stats)
	}

	jan1 := day(2026, 1, 1)
	p := getPolicy(t, s, "fw1", "P")
	if p.CurrentHitCount != 0 {
		t.Fatalf("current hit count = %d", p.CurrentHitCount)
	}
	if p.FirstZeroHit == nil || !p.FirstZeroHit.Equal(jan1) || !p.LastZeroHit.Equal(jan1) {
		t.Fatalf("streak bounds: first=%v last=%v", p.FirstZeroHit, p.LastZeroHit)
	}

	points, err := s.History("fw1", "asa", "P")
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 || points[0].HitCount != 5 || points[1].HitCount != 0 {
		t.Fatalf("history: %+v", points)
	}

	// The same two captures applied newest-first land in a different state,
	// which is why folder ordering is load-bearing.
	s2 := openTestStore(t)
	mustApply(t, s2, PolicyUpdate{Firewall: "fw1", DeviceType: "asa", Policy: "P", HitCount: 0, Date: jan1})
	mustApply(t, s2, PolicyUpdate{Firewall: "fw1", DeviceType: "asa", Policy: "P", HitCount: 5, Date: day(2025, 12, 31)})
	p2 := getPolicy(t, s2, "fw1", "P")
	if p2.CurrentHitCount == p.CurrentHitCount {
		t.Fatal("out-of-order application should diverge from ordered application")
	}
}

func TestRun_SecondRunSkipsProcessedFiles(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	writeCapture(t, root, "06012025", "fw1.txt", asaCaptureLine("P", 5))
	writeCapture(t, root, "06022025", "fw1.txt", asaCaptureLine("P", 0))

	c := newTestCoordinator(t, s, root, nil)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := historyCount(t, s)

	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesSkipped != 2 || stats.FilesExtracted != 0 || stats.UpdatesApplied != 0 {
		t.Fatalf("rerun stats: %+v", stats)
	}
	if after := historyCount(t, s); after != before {
		t.Fatalf("rerun grew history from %d to %d", before, after)
	}
	if n := ledgerCount(t, s); n != 2 {
		t.Fatalf("ledger rows = %d", n)
	}
}

func TestRun_UndatedFolderUsesFileDate(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	writeCapture(t, root, "archive-misc", "fw1.txt", asaCaptureLine("P", 4))

	stats, err := newTestCoordinator(t, s, root, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Folders != 1 || stats.FilesExtracted != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	p := getPolicy(t, s, "fw1", "P")
	if !p.LastSeen.Equal(dateOnly(time.Now())) {
		t.Fatalf("last_seen should fall back to the file date, got %v", p.LastSeen)
	}
}

func TestRun_UnsupportedCaptureCountedNotRecorded(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	writeCapture(t, root, "06012025", "mystery.txt", "nothing any extractor recognizes\n")

	stats, err := newTestCoordinator(t, s, root, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesUnsupported != 1 || stats.FilesExtracted != 0 {
		t.Fatalf("stats: %+v", stats)
	}
	if n := ledgerCount(t, s); n != 0 {
		t.Fatal("unsupported capture must not enter the ledger")
	}
}

func TestRun_OlderCaptureThanTrackedStateSkipped(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	writeCapture(t, root, "06022025", "fw1.txt", asaCaptureLine("P", 3))
	c := newTestCoordinator(t, s, root, nil)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A stray older capture shows up later; applying it would fake a streak.
	writeCapture(t, root, "06012025", "fw1.txt", asaCaptureLine("P", 0))
	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesSkipped != 2 || stats.FilesExtracted != 0 {
		t.Fatalf("stats: %+v", stats)
	}
	p := getPolicy(t, s, "fw1", "P")
	if p.CurrentHitCount != 3 || p.FirstZeroHit != nil {
		t.Fatalf("older capture leaked into state: %+v", p)
	}
	if n := historyCount(t, s); n != 1 {
		t.Fatalf("history rows = %d", n)
	}
}

func TestRun_FailedExtractionQuarantined(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	errorDir := t.TempDir()
	dir := filepath.Join(root, "06012025")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// A dangling symlink makes the read fail without permission tricks.
	broken := filepath.Join(dir, "ghost.txt")
	if err := os.Symlink(filepath.Join(root, "no-such-file"), broken); err != nil {
		t.Fatal(err)
	}
	writeCapture(t, root, "06012025", "fw1.txt", asaCaptureLine("P", 1))

	stats, err := newTestCoordinator(t, s, root, func(cfg *CoordinatorConfig) {
		cfg.ErrorDir = errorDir
	}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesFailed != 1 || stats.FilesExtracted != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if _, err := os.Lstat(broken); !os.IsNotExist(err) {
		t.Fatal("failed capture should have been moved out of the input tree")
	}
	if _, err := os.Lstat(filepath.Join(errorDir, "ghost.txt")); err != nil {
		t.Fatalf("quarantined file missing: %v", err)
	}
}

func TestRun_RuleDetailsDerivedFromPriorCapture(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	writeCapture(t, root, "06012025", "fw1.txt", asaCaptureLine("outside_in", 5))
	c := newTestCoordinator(t, s, root, func(cfg *CoordinatorConfig) {
		cfg.CaptureRuleDetails = true
	})
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	writeCapture(t, root, "06022025", "fw1.txt", asaCaptureLine("outside_in", 0))
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	details := UnpackRuleDetails(getPolicy(t, s, "fw1", "outside_in").RuleDetails)
	if details == nil {
		t.Fatal("expected rule details after second run")
	}
	if details["Action"] != "permit" {
		t.Fatalf("Action = %q", details["Action"])
	}

	// Once details are complete the already-processed captures stay skipped.
	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesSkipped != 2 || stats.FilesExtracted != 0 {
		t.Fatalf("third run stats: %+v", stats)
	}
}

func TestRun_RuleDetailsVendorWithoutDetailsStillDedups(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	writeCapture(t, root, "06012025", "srx1.txt", junosCapture)
	c := newTestCoordinator(t, s, root, func(cfg *CoordinatorConfig) {
		cfg.CaptureRuleDetails = true
	})
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := historyCount(t, s)

	// Juniper captures carry no rule details to backfill, so reruns must
	// treat the processed file as done rather than re-applying it forever.
	for i := 0; i < 3; i++ {
		stats, err := c.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if stats.FilesSkipped != 1 || stats.FilesExtracted != 0 {
			t.Fatalf("rerun %d stats: %+v", i, stats)
		}
	}
	if after := historyCount(t, s); after != before {
		t.Fatalf("reruns grew history from %d to %d", before, after)
	}
	if n := ledgerCount(t, s); n != 1 {
		t.Fatalf("ledger rows = %d", n)
	}
}

func TestRun_CancelledContextStopsIngestion(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	writeCapture(t, root, "06012025", "fw1.txt", asaCaptureLine("P", 5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestCoordinator(t, s, root, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := ledgerCount(t, s); n != 0 {
		t.Fatal("cancelled run must not mark files processed")
	}
}

func TestNewCoordinator_Validation(t *testing.T) {
	s := openTestStore(t)
	if _, err := NewCoordinator(nil, CoordinatorConfig{Root: t.TempDir()}); err == nil {
		t.Fatal("nil store should be rejected")
	}
	if _, err := NewCoordinator(s, CoordinatorConfig{Root: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatal("missing root should be rejected")
	}
	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCoordinator(s, CoordinatorConfig{Root: file}); err == nil {
		t.Fatal("non-directory root should be rejected")
	}

	c, err := NewCoordinator(s, CoordinatorConfig{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if c.cfg.Workers < 1 {
		t.Fatalf("default workers = %d", c.cfg.Workers)
	}
}

func TestParseFolderDate(t *testing.T) {
	if date, ok := parseFolderDate("06012025"); !ok || !date.Equal(day(2025, 6, 1)) {
		t.Fatalf("got %v ok=%v", date, ok)
	}
	for _, name := range []string{"13012025", "0601202", "060120255", "junk", "2025-06-01"} {
		if _, ok := parseFolderDate(name); ok {
			t.Errorf("%q should not parse", name)
		}
	}
}
