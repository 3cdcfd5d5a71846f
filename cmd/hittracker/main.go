package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"hittracker/tracker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var configPath string
	var root string
	var days int
	var rxpPath string
	var dbPath string
	var workers int
	var ruleDetails bool
	var errorDir string
	var csvPath string
	var debug bool

	flag.StringVar(&configPath, "config", "", "YAML config file path.")
	flag.StringVar(&root, "folder", "", "Capture root folder containing dated (MMDDYYYY) subfolders.")
	flag.IntVar(&days, "days", 90, "Zero-hit threshold in days for flagging a policy.")
	flag.StringVar(&rxpPath, "rxp", "filter.rxp", "Exclusion-pattern file, one regex per line.")
	flag.StringVar(&dbPath, "db", "firewall_policies.db", "Tracking database path.")
	flag.IntVar(&workers, "workers", 0, "Extraction worker count (0 = available parallelism - 1).")
	flag.BoolVar(&ruleDetails, "rule-details", false, "Capture vendor rule details from prior configs.")
	flag.StringVar(&errorDir, "error-dir", "", "Quarantine directory for files that failed extraction.")
	flag.StringVar(&csvPath, "csv", "", "Write the unused-policy CSV report here ('-' for stdout).")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	// Base config from file (optional), CLI flags override.
	fileCfg := &tracker.FileConfig{}
	if configPath != "" {
		cfg, err := tracker.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		fileCfg = cfg
	}

	finalRoot := fileCfg.Root
	if visited["folder"] {
		finalRoot = root
	}
	finalDays := fileCfg.Days
	if finalDays == 0 {
		finalDays = 90
	}
	if visited["days"] {
		finalDays = days
	}
	finalDB := fileCfg.DB
	if finalDB == "" {
		finalDB = "firewall_policies.db"
	}
	if visited["db"] {
		finalDB = dbPath
	}
	finalRxp := fileCfg.RegexFile
	if finalRxp == "" {
		finalRxp = "filter.rxp"
	}
	if visited["rxp"] {
		finalRxp = rxpPath
	}
	finalWorkers := fileCfg.Workers
	if visited["workers"] {
		finalWorkers = workers
	}
	finalRuleDetails := fileCfg.RuleDetails
	if visited["rule-details"] {
		finalRuleDetails = ruleDetails
	}
	finalErrorDir := fileCfg.ErrorDir
	if visited["error-dir"] {
		finalErrorDir = errorDir
	}
	finalCSV := fileCfg.CSV
	if visited["csv"] {
		finalCSV = csvPath
	}
	finalDebug := fileCfg.Debug
	if visited["debug"] {
		finalDebug = debug
	}

	if finalRoot == "" {
		fmt.Fprintln(os.Stderr, "missing capture folder (use --folder or config.yaml root)")
		os.Exit(2)
	}

	store, err := tracker.Open(finalDB, tracker.StoreOptions{})
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	coord, err := tracker.NewCoordinator(store, tracker.CoordinatorConfig{
		Root:               finalRoot,
		Workers:            finalWorkers,
		ExcludePatterns:    tracker.LoadExclusionPatterns(finalRxp),
		CaptureRuleDetails: finalRuleDetails,
		ErrorDir:           finalErrorDir,
		Debug:              finalDebug,
	})
	if err != nil {
		log.Fatalf("init coordinator: %v", err)
	}

	stats, err := coord.Run(context.Background())
	if err != nil {
		log.Fatalf("ingest: %v", err)
	}
	log.Printf("ingest done: folders=%d failed=%d files=%d skipped=%d unsupported=%d updates=%d firewalls=%d",
		stats.Folders, stats.FoldersFailed, stats.FilesExtracted, stats.FilesSkipped,
		stats.FilesUnsupported, stats.UpdatesApplied, stats.FirewallsTouched)

	if finalCSV == "" {
		return
	}
	rows, err := tracker.BuildUnusedReport(store, finalDays, time.Now())
	if err != nil {
		log.Fatalf("build report: %v", err)
	}
	out := os.Stdout
	if finalCSV != "-" {
		f, err := os.Create(finalCSV)
		if err != nil {
			log.Fatalf("create report file: %v", err)
		}
		defer f.Close()
		out = f
	}
	if err := tracker.WriteCSV(out, rows); err != nil {
		log.Fatalf("write report: %v", err)
	}
	log.Printf("report written: %d policies flagged (threshold %d days)", len(rows), finalDays)
}
