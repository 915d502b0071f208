// Package config loads the optional YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvVar names the configuration file when --config is not given.
const EnvVar = "CROSSDEPS_CONFIG"

// Config holds defaults for command line flags. Zero values mean "not set".
type Config struct {
	Root            string            `yaml:"root"`
	Cache           string            `yaml:"cache"`
	Plan            string            `yaml:"plan"` // built-in plan name or file
	Jobs            int               `yaml:"jobs"`
	Extra           string            `yaml:"extra"`
	Output          string            `yaml:"output"`
	KeepTempOnError bool              `yaml:"keep_temp_on_error"`
	EnvFile         string            `yaml:"env_file"`
	MetricsFile     string            `yaml:"metrics_file"`
	Vars            map[string]string `yaml:"vars,omitempty"`
	S3              S3                `yaml:"s3"`
}

// S3 configures s3:// sources. Credentials come from the usual AWS
// environment and shared config files.
type S3 struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // S3-compatible service, addressed path-style
}

// Path returns the configuration file to load: flag if set, otherwise
// $CROSSDEPS_CONFIG. There is no discovery; "" means no file.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(EnvVar)
}

// Load reads the file at path. An empty path yields an empty Config.
// ${VAR} references are expanded from the environment before parsing, and
// relative paths are taken relative to the file's directory.
func Load(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	c.resolve(filepath.Dir(abs))
	return c, nil
}

// Parse decodes a configuration document. Unknown fields are an error.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	var c Config
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.Jobs < 0 {
		return fmt.Errorf("jobs must not be negative, got %d", c.Jobs)
	}
	if c.S3.Endpoint != "" && !strings.Contains(c.S3.Endpoint, "://") {
		return fmt.Errorf("s3.endpoint %q must be a URL", c.S3.Endpoint)
	}
	return nil
}

func (c *Config) resolve(dir string) {
	for _, p := range []*string{&c.Root, &c.Cache, &c.Extra, &c.Output, &c.EnvFile, &c.MetricsFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	// a plan is a file only if it looks like one; otherwise it names a
	// built-in plan
	if p := c.Plan; p != "" && !filepath.IsAbs(p) && (strings.ContainsRune(p, '/') || strings.HasSuffix(p, ".jsonc")) {
		c.Plan = filepath.Join(dir, p)
	}
}

// Env reads the dotenv file named by EnvFile. The variables are meant for
// the environment of build steps; the process environment is not touched.
func (c *Config) Env() (map[string]string, error) {
	if c.EnvFile == "" {
		return nil, nil
	}
	env, err := godotenv.Read(c.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("env file: %w", err)
	}
	return env, nil
}
