// Package config handles jdeobf.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"jdeobf/internal/vm"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "jdeobf.toml"

// Config represents the configuration for the jdeobf tool
type Config struct {
	Debug     bool     `toml:"debug" json:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
	DataDir   string   `toml:"data-dir" json:"dataDir" jsonschema:"title=Data Directory,description=Directory for exported graphs and reports"`
	LogFile   string   `toml:"log-file" json:"logFile,omitempty" jsonschema:"title=Log File,description=Write logs to this file instead of stderr"`
	Classpath []string `toml:"classpath" json:"classpath,omitempty" jsonschema:"title=Classpath,description=Extra class files jars or directories loaded with every input"`

	Execution Execution `toml:"execution" json:"execution"`
	Detectors Detectors `toml:"detectors" json:"detectors"`

	// Dir is the directory containing the loaded file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Execution bounds every interpreted call site.
type Execution struct {
	MaxSteps       int `toml:"max-steps" json:"maxSteps" jsonschema:"title=Max Steps,description=Instruction budget per call site (0 disables),minimum=0"`
	MaxDepth       int `toml:"max-depth" json:"maxDepth" jsonschema:"title=Max Depth,description=Nested call budget per call site (0 means the interpreter ceiling of 4096),minimum=0"`
	ConstantBudget int `toml:"constant-budget" json:"constantBudget" jsonschema:"title=Constant Budget,description=Constant load budget per call site (0 disables),minimum=0"`
}

// Detectors toggles the detector chain.
type Detectors struct {
	Strings   bool `toml:"strings" json:"strings" jsonschema:"title=String Decryption,description=Run string decryption call sites"`
	Printable bool `toml:"printable" json:"printable" jsonschema:"title=Printable,description=Annotate recovered strings and flag unprintable ones"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: ".jdeobf",
		Execution: Execution{
			MaxSteps: vm.DefaultMaxSteps,
			MaxDepth: vm.DefaultMaxDepth,
		},
		Detectors: Detectors{Strings: true, Printable: true},
	}
}

// Load parses a configuration file over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	for i, p := range c.Classpath {
		if !filepath.IsAbs(p) {
			c.Classpath[i] = filepath.Join(c.Dir, p)
		}
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// FindAndLoad walks up from startDir to find a jdeobf.toml file. Without
// one it returns the defaults with environment overrides applied.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	c := Default()
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// ApplyEnv overrides fields from JDEOBF_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("JDEOBF_DEBUG"); ok {
		c.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("JDEOBF_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("JDEOBF_CLASSPATH"); v != "" {
		c.Classpath = append(c.Classpath, filepath.SplitList(v)...)
	}
	ints := []struct {
		env string
		dst *int
	}{
		{"JDEOBF_MAX_STEPS", &c.Execution.MaxSteps},
		{"JDEOBF_MAX_DEPTH", &c.Execution.MaxDepth},
		{"JDEOBF_CONSTANT_BUDGET", &c.Execution.ConstantBudget},
	}
	for _, e := range ints {
		v := os.Getenv(e.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.env, err)
		}
		*e.dst = n
	}
	return nil
}

// Validate rejects negative budgets.
func (c *Config) Validate() error {
	if c.Execution.MaxSteps < 0 || c.Execution.MaxDepth < 0 || c.Execution.ConstantBudget < 0 {
		return fmt.Errorf("execution budgets must not be negative: %+v", c.Execution)
	}
	return nil
}

// ContextOptions returns the interpreter options for the execution budgets.
func (c *Config) ContextOptions() []vm.Option {
	return []vm.Option{
		vm.WithMaxSteps(c.Execution.MaxSteps),
		vm.WithMaxDepth(c.Execution.MaxDepth),
		vm.WithConstantBudget(c.Execution.ConstantBudget),
	}
}
