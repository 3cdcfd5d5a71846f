package tracker

import (
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration. CLI flags override any field.
type FileConfig struct {
	// Root is the capture folder containing dated subfolders.
	Root string `yaml:"root"`
	// Days is the zero-hit threshold for flagging a policy.
	Days int `yaml:"days"`
	// DB is the tracking database path.
	DB string `yaml:"db"`
	// RegexFile points to the exclusion-pattern list (.rxp, one regex per
	// line) applied to capture lines before extraction.
	RegexFile string `yaml:"regex_file"`
	// Workers sizes the extraction pool; zero picks a default from the
	// available parallelism.
	Workers int `yaml:"workers"`
	// RuleDetails enables vendor rule-detail capture.
	RuleDetails bool `yaml:"rule_details"`
	// ErrorDir receives capture files that failed extraction.
	ErrorDir string `yaml:"error_dir"`
	// CSV is the report output path ("-" for stdout, empty for no report).
	CSV string `yaml:"csv"`

	Debug bool `yaml:"debug"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
