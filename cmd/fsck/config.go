package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/mit-pdos/go-fsck/checker"
)

const envVarPrefix = "FSCK"

type Config struct {
	Preen         bool   `split_words:"true" yaml:"preen"`
	Force         bool   `split_words:"true" yaml:"force"`
	Yes           bool   `split_words:"true" yaml:"yes"`
	No            bool   `split_words:"true" yaml:"no"`
	AltSuperblock int64  `split_words:"true" yaml:"altSuperblock"`
	MaxParallel   int    `split_words:"true" yaml:"maxParallel"`
	LostFoundMode string `split_words:"true" yaml:"lostFoundMode"`
	Convert       int    `split_words:"true" yaml:"convert"`
	Debug         uint64 `split_words:"true" yaml:"debug"`
	Fstab         string `split_words:"true" yaml:"fstab"`
	Stats         bool   `split_words:"true" yaml:"stats"`
	MinBuffers    int    `split_words:"true" yaml:"minBuffers"`
	BufferBudget  int64  `split_words:"true" yaml:"bufferBudget"`
	Pass1b        string `split_words:"true" yaml:"pass1b"`
}

func defaultConfig() Config {
	return Config{
		LostFoundMode: "0700",
		Fstab:         "/etc/fstab",
		Pass1b:        "auto",
	}
}

// LoadConfig reads the optional YAML file at path, or at
// $FSCK_CONFIG_FILE, then applies FSCK_* environment variables.
func LoadConfig(path string) (*Config, error) {
	c := defaultConfig()
	if path == "" {
		path = os.Getenv(envVarPrefix + "_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}
	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.Yes && c.No {
		return fmt.Errorf("yes and no are mutually exclusive")
	}
	if c.Convert < 0 || c.Convert > 2 {
		return fmt.Errorf("convert level %d: want 1 or 2", c.Convert)
	}
	if _, err := c.lfmode(); err != nil {
		return err
	}
	if _, err := c.pass1b(); err != nil {
		return err
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("max parallel %d is negative", c.MaxParallel)
	}
	return nil
}

func (c *Config) lfmode() (uint16, error) {
	m, err := strconv.ParseUint(c.LostFoundMode, 8, 16)
	if err != nil || m&^07777 != 0 {
		return 0, fmt.Errorf("bad mode to -m: %s", c.LostFoundMode)
	}
	return uint16(m), nil
}

func (c *Config) pass1b() (checker.Pass1bPolicy, error) {
	switch c.Pass1b {
	case "", "auto":
		return checker.Pass1bAuto, nil
	case "always":
		return checker.Pass1bAlways, nil
	case "never":
		return checker.Pass1bNever, nil
	}
	return 0, fmt.Errorf("pass1b %q: want auto, always or never", c.Pass1b)
}

// Options is the checker configuration for one device.
func (c *Config) Options(hotroot bool) checker.Options {
	mode, _ := c.lfmode()
	p1b, _ := c.pass1b()
	return checker.Options{
		Preen:         c.Preen,
		Yes:           c.Yes,
		No:            c.No,
		Force:         c.Force,
		Hotroot:       hotroot,
		AltSuperblock: c.AltSuperblock,
		Convert:       c.Convert,
		LostFoundMode: mode,
		Pass1b:        p1b,
		MinBuffers:    c.MinBuffers,
		BufferBudget:  c.BufferBudget,
	}
}
