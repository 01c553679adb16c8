package guardtest_test

import (
	"errors"
	"fmt"
	"runtime"
	"testing"

	"s3verify/internal/config"
	"s3verify/internal/guardtest"
	"s3verify/internal/metastore"
	"s3verify/internal/metastore/metastoretest"

	"github.com/stretchr/testify/require"
)

func baseConfiguration() *config.Configuration {
	return config.FromMap(map[string]string{
		config.KeyMetadataStoreImpl:        config.MetadataStoreDynamo,
		config.KeyTableName:                "prod-meta",
		config.KeyTestTableName:            "test-meta",
		config.KeyBackgroundSleep:          "250",
		config.KeyDisableCache:             "false",
		config.PrefixTableTag + "hello":    "world",
		config.PrefixTableTag + "leftover": "from a previous run",
	})
}

func TestPrepareTestConfiguration(t *testing.T) {
	t.Parallel()

	base := baseConfiguration()
	snapshot := base.Clone()

	conf, err := guardtest.PrepareTestConfiguration(base)
	require.NoError(t, err)

	require.True(t, snapshot.Equal(base), "base is not mutated")
	require.Equal(t, "test-meta", conf.Get(config.KeyTableName))
	require.Equal(t, "test-meta", conf.Get(config.KeyTestTableName))
	require.Equal(t, "0", conf.Get(config.KeyBackgroundSleep))
	require.Equal(t, guardtest.TagMap(), conf.PropsWithPrefix(config.PrefixTableTag))

	settings, err := conf.Settings()
	require.NoError(t, err)
	require.Zero(t, settings.BackgroundSleep)
	require.True(t, settings.DisableCache)
	require.Equal(t, map[string]string{"hello": "dynamo", "tag": "youre it"}, settings.TableTags)
}

func TestPrepareWithoutProductionTable(t *testing.T) {
	t.Parallel()

	base := baseConfiguration()
	base.Unset(config.KeyTableName)

	conf, err := guardtest.PrepareTestConfiguration(base)
	require.NoError(t, err)
	require.Equal(t, "test-meta", conf.Get(config.KeyTableName))
}

func TestPrepareTestConfigurationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		patch   map[string]string
		unset   []string
		wantErr error
		hard    bool
	}{
		{name: "test table unset", unset: []string{config.KeyTestTableName}, wantErr: guardtest.ErrTestTableNameUnset, hard: true},
		{name: "test table blank", patch: map[string]string{config.KeyTestTableName: "  "}, wantErr: guardtest.ErrTestTableNameUnset, hard: true},
		{name: "same table", patch: map[string]string{config.KeyTestTableName: "prod-meta"}, wantErr: guardtest.ErrTableNamesEqual, hard: true},
		{name: "same table after trimming", patch: map[string]string{config.KeyTestTableName: " prod-meta\t"}, wantErr: guardtest.ErrTableNamesEqual, hard: true},
		{name: "local store", patch: map[string]string{config.KeyMetadataStoreImpl: config.MetadataStoreLocal}, wantErr: guardtest.ErrNotDynamoMetadataStore},
		{name: "null store", patch: map[string]string{config.KeyMetadataStoreImpl: config.MetadataStoreNull}, wantErr: guardtest.ErrNotDynamoMetadataStore},
		{name: "no store", unset: []string{config.KeyMetadataStoreImpl}, wantErr: guardtest.ErrNotDynamoMetadataStore},
		{name: "gate before table check", patch: map[string]string{config.KeyMetadataStoreImpl: config.MetadataStoreLocal}, unset: []string{config.KeyTestTableName}, wantErr: guardtest.ErrNotDynamoMetadataStore},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			base := baseConfiguration()
			for k, v := range tc.patch {
				base.Set(k, v)
			}
			for _, k := range tc.unset {
				base.Unset(k)
			}
			snapshot := base.Clone()

			conf, err := guardtest.PrepareTestConfiguration(base)
			require.Nil(t, conf)
			require.ErrorIs(t, err, tc.wantErr)
			require.True(t, snapshot.Equal(base), "base is not mutated")

			var cerr *guardtest.ConfigError
			require.Equal(t, tc.hard, errors.As(err, &cerr))
			if tc.hard {
				require.Equal(t, config.KeyTestTableName, cerr.Key)
			}
		})
	}
}

func TestTableIdentityValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, guardtest.TableIdentity{Test: "a", Production: "b"}.Validate())
	require.NoError(t, guardtest.TableIdentity{Test: "a"}.Validate())
	require.ErrorIs(t, guardtest.TableIdentity{Production: "b"}.Validate(), guardtest.ErrTestTableNameUnset)
	require.ErrorIs(t, guardtest.TableIdentity{Test: "a", Production: "a"}.Validate(), guardtest.ErrTableNamesEqual)
}

func TestTagMapIsFresh(t *testing.T) {
	t.Parallel()

	tags := guardtest.TagMap()
	tags["hello"] = "changed"
	require.Equal(t, "dynamo", guardtest.TagMap()["hello"])
}

// recordingTB captures Fatal and Skip instead of ending the real test.
type recordingTB struct {
	testing.TB

	failed, skipped bool
	msg             string
	cleanups        []func()
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Fatal(args ...any) {
	r.failed, r.msg = true, fmt.Sprint(args...)
	runtime.Goexit()
}

func (r *recordingTB) Fatalf(format string, args ...any) {
	r.failed, r.msg = true, fmt.Sprintf(format, args...)
	runtime.Goexit()
}

func (r *recordingTB) Skip(args ...any) {
	r.skipped, r.msg = true, fmt.Sprint(args...)
	runtime.Goexit()
}

func (r *recordingTB) Cleanup(fn func()) {
	r.cleanups = append(r.cleanups, fn)
}

func record(t *testing.T, fn func(tb testing.TB)) *recordingTB {
	tb := &recordingTB{TB: t}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(tb)
	}()
	<-done
	return tb
}

func TestUnsetTestTableMakesNoTableCalls(t *testing.T) {
	t.Parallel()

	base := baseConfiguration()
	base.Unset(config.KeyTestTableName)

	db := metastoretest.New()
	p := metastore.NewProvisioner(db)

	tb := record(t, func(tb testing.TB) {
		guardtest.OpenTestTable(tb, base, p)
	})

	require.True(t, tb.failed)
	require.Contains(t, tb.msg, "test table name must be set")
	require.Empty(t, db.Calls(), "no table or tagging calls")
	require.Empty(t, tb.cleanups)
}

func TestNonDynamoStoreSkips(t *testing.T) {
	t.Parallel()

	base := baseConfiguration()
	base.Set(config.KeyMetadataStoreImpl, config.MetadataStoreLocal)

	db := metastoretest.New()
	tb := record(t, func(tb testing.TB) {
		guardtest.OpenTestTable(tb, base, metastore.NewProvisioner(db))
	})

	require.True(t, tb.skipped)
	require.False(t, tb.failed)
	require.Empty(t, db.Calls())
}

func TestOpenTestTable(t *testing.T) {
	t.Parallel()

	db := metastoretest.New()
	db.AddTable("prod-meta", map[string]string{"env": "production"})
	p := metastore.NewProvisioner(db)

	t.Run("open", func(t *testing.T) {
		conf, table := guardtest.OpenTestTable(t, baseConfiguration(), p)

		require.Equal(t, "test-meta", table.Name)
		require.True(t, table.Created)
		require.Zero(t, table.BackgroundSleep)
		require.Equal(t, "test-meta", conf.Get(config.KeyTableName))
		require.Equal(t, guardtest.TagMap(), db.Tags("test-meta"))
		require.Equal(t, map[string]string{"env": "production"}, db.Tags("prod-meta"), "production table untouched")
	})

	require.Equal(t, []string{"prod-meta"}, db.Tables(), "test table destroyed at cleanup")
}

func TestTestConfiguration(t *testing.T) {
	t.Parallel()

	conf := guardtest.TestConfiguration(t, baseConfiguration())
	require.Equal(t, "test-meta", conf.Get(config.KeyTableName))
}
