package tracker

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

type CoordinatorConfig struct {
	// Root holds dated capture folders (MMDDYYYY) as immediate children.
	Root string
	// Workers sizes the extraction pool. Zero means available
	// parallelism minus one, floored at one.
	Workers            int
	ExcludePatterns    []*regexp.Regexp
	CaptureRuleDetails bool
	// ErrorDir, when set, receives capture files whose extraction failed.
	ErrorDir string
	Debug    bool
}

// Coordinator discovers capture folders, fans extraction out to a worker
// pool, and funnels results into one store transaction per folder. Workers
// never touch the store; all writes happen on the coordinator goroutine
// after the per-folder barrier, so no mutual exclusion is needed.
type Coordinator struct {
	cfg   CoordinatorConfig
	store *Store
}

func NewCoordinator(store *Store, cfg CoordinatorConfig) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("capture root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("capture root %q is not a directory", cfg.Root)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0) - 1
		if cfg.Workers < 1 {
			cfg.Workers = 1
		}
	}
	return &Coordinator{cfg: cfg, store: store}, nil
}

func (c *Coordinator) debugf(format string, args ...any) {
	if c == nil || !c.cfg.Debug {
		return
	}
	log.Printf(format, args...)
}

type RunStats struct {
	Folders             int
	FoldersFailed       int
	FilesExtracted      int
	FilesSkipped        int
	FilesUnsupported    int
	FilesFailed         int
	UpdatesApplied      int
	DuplicatesDiscarded int
	FirewallsTouched    int
}

type captureFolder struct {
	Path  string
	Date  time.Time
	Dated bool
}

type fileTask struct {
	Path     string
	Firewall string
	Date     time.Time
	// ConfigText is the most recently processed capture for the same
	// firewall, loaded by the coordinator so workers stay store-free.
	ConfigText string
}

type fileResult struct {
	Task        fileTask
	DeviceType  string
	Updates     []PolicyUpdate
	Unsupported bool
	Err         error
}

// Run ingests every pending capture under Root, oldest folder first, and
// returns accumulated statistics. A failing folder is logged and skipped;
// prior folders stay committed.
func (c *Coordinator) Run(ctx context.Context) (RunStats, error) {
	var stats RunStats
	firewalls := make(map[string]struct{})

	folders, err := discoverFolders(c.cfg.Root)
	if err != nil {
		return stats, err
	}
	c.debugf("run start: root=%q folders=%d workers=%d ruleDetails=%v", c.cfg.Root, len(folders), c.cfg.Workers, c.cfg.CaptureRuleDetails)

	for _, folder := range folders {
		if err := c.processFolder(ctx, folder, &stats, firewalls); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			log.Printf("folder %s failed: %v", folder.Path, err)
			stats.FoldersFailed++
			continue
		}
		stats.Folders++
	}
	stats.FirewallsTouched = len(firewalls)
	c.debugf("run done: folders=%d failed=%d extracted=%d skipped=%d updates=%d firewalls=%d",
		stats.Folders, stats.FoldersFailed, stats.FilesExtracted, stats.FilesSkipped, stats.UpdatesApplied, stats.FirewallsTouched)
	return stats, nil
}

var folderDateRe = regexp.MustCompile(`^\d{8}$`)

// parseFolderDate reads the strict MMDDYYYY folder naming convention.
func parseFolderDate(name string) (time.Time, bool) {
	if !folderDateRe.MatchString(name) {
		return time.Time{}, false
	}
	t, err := time.Parse("01022006", name)
	if err != nil {
		return time.Time{}, false
	}
	return dateOnly(t), true
}

// discoverFolders lists the immediate subdirectories of root. Dated
// folders come back sorted oldest first, because hit-count streaks are
// only meaningful when older captures apply before newer ones.
// Folders that fail the date pattern are processed after all dated ones;
// their files fall back to per-file creation dates.
func discoverFolders(root string) ([]captureFolder, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dated, undated []captureFolder
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name())
		if date, ok := parseFolderDate(e.Name()); ok {
			dated = append(dated, captureFolder{Path: path, Date: date, Dated: true})
		} else {
			log.Printf("warning: folder %q is not in MMDDYYYY format; using file creation dates", e.Name())
			undated = append(undated, captureFolder{Path: path})
		}
	}
	sort.Slice(dated, func(i, j int) bool {
		if !dated[i].Date.Equal(dated[j].Date) {
			return dated[i].Date.Before(dated[j].Date)
		}
		return dated[i].Path < dated[j].Path
	})
	sort.Slice(undated, func(i, j int) bool { return undated[i].Path < undated[j].Path })
	return append(dated, undated...), nil
}

func (c *Coordinator) processFolder(ctx context.Context, folder captureFolder, stats *RunStats, firewalls map[string]struct{}) error {
	entries, err := os.ReadDir(folder.Path)
	if err != nil {
		return err
	}
	c.debugf("folder %s: date=%s dated=%v files=%d", folder.Path, folder.Date.Format("2006-01-02"), folder.Dated, len(entries))

	var tasks []fileTask
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(folder.Path, e.Name())
		fw := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if fw == "" {
			continue
		}
		date := folder.Date
		if !folder.Dated {
			info, err := e.Info()
			if err != nil {
				stats.FilesFailed++
				log.Printf("stat %s: %v", path, err)
				continue
			}
			date = dateOnly(info.ModTime())
			c.debugf("file %s: using creation date %s", path, date.Format("2006-01-02"))
		}

		skip, err := c.shouldSkip(fw, path, date)
		if err != nil {
			return err
		}
		if skip {
			stats.FilesSkipped++
			continue
		}

		task := fileTask{Path: path, Firewall: fw, Date: date}
		if c.cfg.CaptureRuleDetails {
			if pf, ok, err := c.store.LatestProcessedFile(fw); err != nil {
				return err
			} else if ok {
				// The previous capture may have been rotated away; rule
				// details are then simply not derived this round.
				if b, readErr := os.ReadFile(pf.Filename); readErr == nil {
					task.ConfigText = string(b)
				}
			}
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil
	}

	results := c.extractAll(ctx, tasks)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Stable order keeps the streak logic deterministic when two files in
	// one folder map to the same firewall.
	sort.Slice(results, func(i, j int) bool { return results[i].Task.Path < results[j].Task.Path })

	var batch []PolicyUpdate
	var done []fileResult
	for _, res := range results {
		switch {
		case res.Err != nil:
			stats.FilesFailed++
			log.Printf("extract %s: %v", res.Task.Path, res.Err)
			if c.cfg.ErrorDir != "" {
				if dst, mvErr := QuarantineFile(res.Task.Path, c.cfg.ErrorDir); mvErr != nil {
					log.Printf("quarantine %s: %v", res.Task.Path, mvErr)
				} else {
					c.debugf("quarantined %s -> %s", res.Task.Path, dst)
				}
			}
		case res.Unsupported:
			stats.FilesUnsupported++
			log.Printf("unsupported device type for %s (%s)", res.Task.Firewall, res.Task.Path)
		default:
			batch = append(batch, res.Updates...)
			done = append(done, res)
		}
	}
	if len(done) == 0 {
		return nil
	}

	bres, err := c.store.ApplyBatchRetry(ctx, batch)
	if err != nil {
		// Folder-local abort: nothing was committed and nothing is marked
		// processed, so the next run picks the folder up again.
		return err
	}
	stats.UpdatesApplied += bres.Applied
	stats.DuplicatesDiscarded += bres.Discarded

	for _, res := range done {
		firewalls[res.Task.Firewall] = struct{}{}
		if err := c.store.MarkFileProcessedRetry(ctx, res.Task.Firewall, res.DeviceType, res.Task.Path, res.Task.Date); err != nil {
			log.Printf("mark processed %s: %v", res.Task.Path, err)
			continue
		}
		stats.FilesExtracted++
	}
	c.debugf("folder %s committed: files=%d updates=%d discarded=%d firewalls=%d",
		folder.Path, len(done), bres.Applied, bres.Discarded, bres.Firewalls)
	return nil
}

// shouldSkip applies the dedup ledger and the older-import guard before a
// file is handed to a worker. Store access stays on the coordinator side.
func (c *Coordinator) shouldSkip(firewall, path string, date time.Time) (bool, error) {
	processed, err := c.store.IsFileProcessed(firewall, path)
	if err != nil {
		return false, err
	}
	if processed {
		if !c.cfg.CaptureRuleDetails {
			return true, nil
		}
		// Re-extract an already-processed capture only while its rule
		// details are still incomplete.
		complete, err := c.store.HasCompleteRuleDetails(firewall)
		if err != nil {
			return false, err
		}
		return complete, nil
	}
	newer, err := c.store.HasNewerImport(firewall, date)
	if err != nil {
		return false, err
	}
	if newer {
		log.Printf("skipping %s: capture dated %s is not newer than tracked state for %s",
			path, date.Format("2006-01-02"), firewall)
		return true, nil
	}
	return false, nil
}

// extractAll runs extraction-only workers over the folder's tasks and
// blocks until all of them finish (the batch-after-barrier point).
func (c *Coordinator) extractAll(ctx context.Context, tasks []fileTask) []fileResult {
	jobs := make(chan fileTask)
	out := make(chan fileResult, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				out <- extractFile(task, c.cfg.ExcludePatterns)
			}
		}()
	}

feed:
	for _, task := range tasks {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- task:
		}
	}
	close(jobs)
	wg.Wait()
	close(out)

	results := make([]fileResult, 0, len(tasks))
	for res := range out {
		results = append(results, res)
	}
	return results
}

// extractFile is the worker body: read, filter, detect, extract. Pure and
// side-effect-free, so the pool needs no locking.
func extractFile(task fileTask, exclude []*regexp.Regexp) fileResult {
	res := fileResult{Task: task}
	content, err := os.ReadFile(task.Path)
	if err != nil {
		res.Err = err
		return res
	}
	raw := FilterLines(string(content), exclude)
	device, extractor, ok := DetectDeviceType(raw)
	if !ok {
		res.Unsupported = true
		return res
	}
	res.DeviceType = device
	detailer, _ := extractor.(RuleDetailer)

	clean := extractor.PreProcess(raw)
	for _, hit := range extractor.Extract(clean) {
		u := PolicyUpdate{
			Firewall:   task.Firewall,
			DeviceType: device,
			Policy:     hit.Policy,
			HitCount:   hit.Count,
			Date:       task.Date,
		}
		if task.ConfigText != "" && detailer != nil {
			u.RuleDetails = detailer.RuleDetails(hit.Policy, task.ConfigText)
		}
		res.Updates = append(res.Updates, u)
	}
	return res
}
