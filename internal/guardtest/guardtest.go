// Package guardtest derives the configuration of tests that create, tag
// and destroy a DynamoDB metadata table. The derived configuration always
// names a dedicated test table and is refused when that table could be the
// production one.
package guardtest

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"s3verify/internal/config"
)

var (
	// ErrNotDynamoMetadataStore means the metadata store is not backed by
	// DynamoDB. Drivers report it as a skip.
	ErrNotDynamoMetadataStore = errors.New("metadata store is not dynamodb")

	ErrTestTableNameUnset = errors.New("test table name must be set")
	ErrTableNamesEqual    = errors.New("test table name must differ from the production table name")
)

// ConfigError is a configuration that cannot be isolated from production.
type ConfigError struct {
	Key   string
	Table TableIdentity
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s (%s=%q, production table %q)", e.Err, e.Key, e.Table.Test, e.Table.Production)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// TableIdentity names the test table and the production table it must not
// be confused with. Production may be empty.
type TableIdentity struct {
	Test       string
	Production string
}

// Validate checks that the test table is set and distinct from production.
func (id TableIdentity) Validate() error {
	switch {
	case id.Test == "":
		return &ConfigError{Key: config.KeyTestTableName, Table: id, Err: ErrTestTableNameUnset}
	case id.Test == id.Production:
		return &ConfigError{Key: config.KeyTestTableName, Table: id, Err: ErrTableNamesEqual}
	}
	return nil
}

// TagMap returns the tags every test table carries.
func TagMap() map[string]string {
	return map[string]string{
		"hello": "dynamo",
		"tag":   "youre it",
	}
}

// PrepareTestConfiguration returns a copy of base pointing at the test
// table with background delays disabled and exactly the TagMap tags.
// base is never modified and nothing remote is contacted.
func PrepareTestConfiguration(base *config.Configuration) (*config.Configuration, error) {
	conf := base.Clone()
	conf.SetBool(config.KeyDisableCache, true)

	if impl := conf.GetTrimmed(config.KeyMetadataStoreImpl); !strings.EqualFold(impl, config.MetadataStoreDynamo) {
		slog.Info("Skipping metadata table test", "reason", "metadata store is not dynamodb", "impl", impl)
		return nil, fmt.Errorf("%w: %q", ErrNotDynamoMetadataStore, impl)
	}

	id := TableIdentity{
		Test:       conf.GetTrimmed(config.KeyTestTableName),
		Production: conf.GetTrimmed(config.KeyTableName),
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	conf.Set(config.KeyTableName, id.Test)
	conf.Set(config.KeyBackgroundSleep, "0")

	for key := range conf.PropsWithPrefix(config.PrefixTableTag) {
		conf.Unset(config.PrefixTableTag + key)
	}
	for k, v := range TagMap() {
		conf.Set(config.PrefixTableTag+k, v)
	}

	slog.Debug("Derived metadata table test configuration", "table", id.Test, "production", id.Production, "tags", len(TagMap()))
	return conf, nil
}
