package tracker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `root: /captures
days: 120
db: /var/lib/tracker/policies.db
regex_file: /etc/tracker/filter.rxp
workers: 4
rule_details: true
error_dir: /captures/errors
csv: report.csv
debug: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Root != "/captures" || cfg.Days != 120 || cfg.DB != "/var/lib/tracker/policies.db" {
		t.Fatalf("cfg: %+v", cfg)
	}
	if cfg.RegexFile != "/etc/tracker/filter.rxp" || cfg.Workers != 4 {
		t.Fatalf("cfg: %+v", cfg)
	}
	if !cfg.RuleDetails || cfg.ErrorDir != "/captures/errors" || cfg.CSV != "report.csv" || !cfg.Debug {
		t.Fatalf("cfg: %+v", cfg)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("root: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}
