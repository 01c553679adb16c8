package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvTestConfig names the properties file read by LoadTestConfiguration.
const EnvTestConfig = "S3VERIFY_CONFIG"

// Load reads TOML property files in order; later files override earlier
// ones. Keys may be quoted ("fs.s3a.endpoint" = "...") or written as dotted
// tables, both flatten to the same property name. A property that is also
// the prefix of other properties, like fs.s3a.s3guard.ddb.table and its
// fs.s3a.s3guard.ddb.table.tag.* keys, must be quoted: TOML does not let a
// bare dotted key be both a value and a table.
//
// Values are not validated here; see LoadTestConfiguration.
func Load(paths ...string) (*Configuration, error) {
	conf := New()
	for _, p := range paths {
		if err := conf.loadFile(p); err != nil {
			return nil, err
		}
	}
	return conf, nil
}

// LoadOptional behaves like Load but silently skips files that do not exist.
func LoadOptional(paths ...string) (*Configuration, error) {
	conf := New()
	for _, p := range paths {
		err := conf.loadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("Skipping missing config file", "path", p)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return conf, nil
}

// LoadTestConfiguration loads the file named by S3VERIFY_CONFIG and checks
// it with Settings, so a bad algorithm, delay, bucket URI or customer key
// fails at load time. When the variable is unset an empty configuration is
// returned.
func LoadTestConfiguration() (*Configuration, error) {
	path := os.Getenv(EnvTestConfig)
	if path == "" {
		return New(), nil
	}

	conf, err := Load(path)
	if err != nil {
		return nil, err
	}
	if _, err := conf.Settings(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return conf, nil
}

func (c *Configuration) loadFile(path string) error {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	if err := c.merge("", raw); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	return nil
}

func (c *Configuration) merge(prefix string, tree map[string]any) error {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		if sub, ok := v.(map[string]any); ok {
			if err := c.merge(key, sub); err != nil {
				return err
			}
			continue
		}

		s, err := stringify(v)
		if err != nil {
			return &ValidationError{Key: key, Value: fmt.Sprint(v), Reason: "unsupported value", Err: err}
		}
		c.Set(key, s)
	}
	return nil
}

func stringify(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case time.Time:
		return val.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		return "", fmt.Errorf("type %T is not a scalar", v)
	}
}
