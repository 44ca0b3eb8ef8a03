package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/mit-pdos/go-fsck/checker"
)

func writeConfig(t *testing.T, data string) string {
	path := filepath.Join(t.TempDir(), "fsck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	type testCase struct {
		name    string
		yaml    string
		viaEnv  bool
		env     map[string]string
		wanted  func() Config
		wantErr string
	}

	testCases := []testCase{{
		name:   "defaults",
		wanted: defaultConfig,
	}, {
		name: "file",
		yaml: "preen: true\nmaxParallel: 3\nlostFoundMode: \"0755\"\npass1b: never\n",
		wanted: func() Config {
			c := defaultConfig()
			c.Preen = true
			c.MaxParallel = 3
			c.LostFoundMode = "0755"
			c.Pass1b = "never"
			return c
		},
	}, {
		name:   "file named by the environment",
		yaml:   "fstab: /etc/fstab.test\nstats: true\n",
		viaEnv: true,
		wanted: func() Config {
			c := defaultConfig()
			c.Fstab = "/etc/fstab.test"
			c.Stats = true
			return c
		},
	}, {
		name: "environment over file",
		yaml: "maxParallel: 3\nconvert: 1\n",
		env: map[string]string{
			"FSCK_MAX_PARALLEL":    "8",
			"FSCK_LOST_FOUND_MODE": "0750",
			"FSCK_ALT_SUPERBLOCK":  "32",
			"FSCK_PASS1B":          "always",
		},
		wanted: func() Config {
			c := defaultConfig()
			c.MaxParallel = 8
			c.Convert = 1
			c.LostFoundMode = "0750"
			c.AltSuperblock = 32
			c.Pass1b = "always"
			return c
		},
	}, {
		name:    "unknown key",
		yaml:    "preen: true\nparallel: 2\n",
		wantErr: "unmarshaling config file",
	}, {
		name:    "bad environment value",
		env:     map[string]string{"FSCK_MAX_PARALLEL": "many"},
		wantErr: "parsing environment variables",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("FSCK_CONFIG_FILE", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.yaml != "" {
				path = writeConfig(t, tc.yaml)
			}
			if tc.viaEnv {
				t.Setenv("FSCK_CONFIG_FILE", path)
				path = ""
			}

			c, err := LoadConfig(path)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wanted(), *c)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	type testCase struct {
		name    string
		edit    func(c *Config)
		wantErr string
	}

	testCases := []testCase{
		{name: "defaults", edit: func(c *Config) {}},
		{name: "yes and no", edit: func(c *Config) { c.Yes, c.No = true, true }, wantErr: "mutually exclusive"},
		{name: "convert too high", edit: func(c *Config) { c.Convert = 3 }, wantErr: "convert level 3"},
		{name: "convert negative", edit: func(c *Config) { c.Convert = -1 }, wantErr: "convert level -1"},
		{name: "mode not octal", edit: func(c *Config) { c.LostFoundMode = "0799" }, wantErr: "bad mode to -m: 0799"},
		{name: "mode too wide", edit: func(c *Config) { c.LostFoundMode = "17777" }, wantErr: "bad mode to -m"},
		{name: "pass1b", edit: func(c *Config) { c.Pass1b = "sometimes" }, wantErr: `pass1b "sometimes"`},
		{name: "max parallel", edit: func(c *Config) { c.MaxParallel = -2 }, wantErr: "negative"},
		{name: "empty pass1b", edit: func(c *Config) { c.Pass1b = "" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := defaultConfig()
			tc.edit(&c)
			err := c.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestOptions(t *testing.T) {
	c := defaultConfig()
	c.Yes = true
	c.Convert = 2
	c.LostFoundMode = "0755"
	c.Pass1b = "never"
	c.BufferBudget = 1 << 20
	require.NoError(t, c.Validate())

	opts := c.Options(true)
	assert.Equal(t, checker.Options{
		Yes:           true,
		Hotroot:       true,
		Convert:       2,
		LostFoundMode: 0755,
		Pass1b:        checker.Pass1bNever,
		BufferBudget:  1 << 20,
	}, opts)

	def := defaultConfig()
	opts = def.Options(false)
	assert.Equal(t, uint16(0700), opts.LostFoundMode)
	assert.Equal(t, checker.Pass1bAuto, opts.Pass1b)
}

// parseArgs runs the fsck command line up to the point where the
// configuration is settled.
func parseArgs(t *testing.T, args ...string) *Config {
	var cfg *Config
	app := newApp()
	app.Action = func(c *cli.Context) error {
		var err error
		cfg, err = LoadConfig(c.String("config"))
		if err != nil {
			return err
		}
		applyFlags(c, cfg)
		return nil
	}
	require.NoError(t, app.Run(append([]string{"fsck"}, args...)))
	require.NotNil(t, cfg)
	return cfg
}

func TestFlagsOverride(t *testing.T) {
	path := writeConfig(t, "yes: true\nmaxParallel: 3\nlostFoundMode: \"0755\"\ndebug: 1\n")
	t.Setenv("FSCK_CONFIG_FILE", "")
	t.Setenv("FSCK_MAX_PARALLEL", "5")
	t.Setenv("FSCK_FSTAB", "/etc/fstab.env")

	cfg := parseArgs(t, "--config", path)
	assert.True(t, cfg.Yes)
	assert.Equal(t, 5, cfg.MaxParallel)
	assert.Equal(t, "0755", cfg.LostFoundMode)
	assert.Equal(t, "/etc/fstab.env", cfg.Fstab)

	cfg = parseArgs(t, "--config", path, "--yes=false", "--max-parallel", "2",
		"--lost-found-mode", "0700", "--fstab", "/etc/fstab.flag", "--pass1b", "always")
	assert.False(t, cfg.Yes)
	assert.Equal(t, 2, cfg.MaxParallel)
	assert.Equal(t, "0700", cfg.LostFoundMode)
	assert.Equal(t, "/etc/fstab.flag", cfg.Fstab)
	assert.Equal(t, "always", cfg.Pass1b)
	assert.Equal(t, uint64(1), cfg.Debug, "flags left unset keep the file's value")
}
