package metastore_test

import (
	"context"
	"errors"
	"testing"

	"s3verify/internal/config"
	"s3verify/internal/metastore"
	"s3verify/internal/metastore/metastoretest"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

var testTags = map[string]string{"hello": "dynamo", "tag": "youre it"}

func tableConfiguration(name string, tags map[string]string) *config.Configuration {
	conf := config.FromMap(map[string]string{
		config.KeyMetadataStoreImpl: config.MetadataStoreDynamo,
		config.KeyTableName:         name,
		config.KeyTableRegion:       "eu-west-1",
		config.KeyBackgroundSleep:   "0",
	})
	for k, v := range tags {
		conf.Set(config.PrefixTableTag+k, v)
	}
	return conf
}

func TestOpenCreatesTaggedTable(t *testing.T) {
	t.Parallel()

	db := metastoretest.New()
	p := metastore.NewProvisioner(db)

	table, err := p.Open(context.Background(), tableConfiguration("s3verify-test", testTags))
	require.NoError(t, err)

	require.True(t, table.Created)
	require.Equal(t, "s3verify-test", table.Name)
	require.Equal(t, "eu-west-1", table.Region)
	require.Equal(t, metastoretest.ARN("s3verify-test"), table.ARN)
	require.Zero(t, table.BackgroundSleep)
	require.Equal(t, testTags, db.Tags("s3verify-test"))
	require.Zero(t, db.CallCount("TagResource"), "tags are applied at creation")
}

func TestOpenTagsExistingTable(t *testing.T) {
	t.Parallel()

	db := metastoretest.New()
	db.AddTable("existing", map[string]string{"hello": "world", "owner": "ops"})
	p := metastore.NewProvisioner(db)

	table, err := p.Open(context.Background(), tableConfiguration("existing", testTags))
	require.NoError(t, err)

	require.False(t, table.Created)
	require.Zero(t, db.CallCount("CreateTable"))
	require.Equal(t, 1, db.CallCount("TagResource"))
	require.Equal(t, map[string]string{"hello": "dynamo", "tag": "youre it", "owner": "ops"}, db.Tags("existing"))

	// Tags already in place are not written again.
	_, err = p.Open(context.Background(), tableConfiguration("existing", testTags))
	require.NoError(t, err)
	require.Equal(t, 1, db.CallCount("TagResource"))
}

func TestOpenRejectsConfiguration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		conf *config.Configuration
		want error
	}{
		{
			name: "local store",
			conf: config.FromMap(map[string]string{config.KeyMetadataStoreImpl: config.MetadataStoreLocal, config.KeyTableName: "t"}),
			want: metastore.ErrNotDynamoMetadataStore,
		},
		{
			name: "no table",
			conf: config.FromMap(map[string]string{config.KeyMetadataStoreImpl: config.MetadataStoreDynamo, config.KeyTableName: " "}),
			want: metastore.ErrNoTableName,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			db := metastoretest.New()
			_, err := metastore.NewProvisioner(db).Open(context.Background(), tc.conf)
			require.ErrorIs(t, err, tc.want)
			require.Empty(t, db.Calls(), "no remote calls")
		})
	}
}

func TestOpenInvalidDelay(t *testing.T) {
	t.Parallel()

	conf := tableConfiguration("t", testTags)
	conf.Set(config.KeyBackgroundSleep, "soon")

	db := metastoretest.New()
	_, err := metastore.NewProvisioner(db).Open(context.Background(), conf)

	var invalid *config.ValidationError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, config.KeyBackgroundSleep, invalid.Key)
	require.Empty(t, db.Calls())
}

// creatingDynamoDB never reports a table as active.
type creatingDynamoDB struct {
	*metastoretest.DynamoDB
}

func (c creatingDynamoDB) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	out, err := c.DynamoDB.DescribeTable(ctx, params, optFns...)
	if err == nil {
		out.Table.TableStatus = types.TableStatusCreating
	}
	return out, err
}

func TestOpenWaitsForActiveTable(t *testing.T) {
	t.Parallel()

	db := creatingDynamoDB{metastoretest.New()}
	p := metastore.NewProvisioner(db)
	p.PollAttempts = 3

	_, err := p.Open(context.Background(), tableConfiguration("slow", testTags))
	require.ErrorIs(t, err, metastore.ErrTableNotReady)
	require.Equal(t, 4, db.CallCount("DescribeTable"), "one lookup then three polls")
}

func TestOpenPropagatesClientErrors(t *testing.T) {
	t.Parallel()

	db := metastoretest.New()
	db.Err = errors.New("throttled")

	_, err := metastore.NewProvisioner(db).Open(context.Background(), tableConfiguration("t", testTags))
	require.ErrorIs(t, err, db.Err)
}

func TestDestroy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		tableTags map[string]string
		confTags  map[string]string
		wantErr   error
		remaining []string
	}{
		{name: "tagged", tableTags: testTags, confTags: testTags, remaining: nil},
		{name: "extra tags on table", tableTags: map[string]string{"hello": "dynamo", "tag": "youre it", "x": "y"}, confTags: testTags, remaining: nil},
		{name: "untagged table", tableTags: nil, confTags: testTags, wantErr: metastore.ErrUntaggedTable, remaining: []string{"meta"}},
		{name: "different value", tableTags: map[string]string{"hello": "prod", "tag": "youre it"}, confTags: testTags, wantErr: metastore.ErrUntaggedTable, remaining: []string{"meta"}},
		{name: "no tags configured", tableTags: testTags, confTags: nil, wantErr: metastore.ErrUntaggedTable, remaining: []string{"meta"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			db := metastoretest.New()
			db.AddTable("meta", tc.tableTags)

			err := metastore.NewProvisioner(db).Destroy(context.Background(), tableConfiguration("meta", tc.confTags))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.Zero(t, db.CallCount("DeleteTable"))
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.remaining, db.Tables())
		})
	}
}

func TestDestroyMissingTable(t *testing.T) {
	t.Parallel()

	db := metastoretest.New()
	require.NoError(t, metastore.NewProvisioner(db).Destroy(context.Background(), tableConfiguration("gone", testTags)))
	require.Zero(t, db.CallCount("DeleteTable"))
}

func TestNewClientRegion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings config.Settings
		want     string
	}{
		{name: "table region", settings: config.Settings{TableRegion: "eu-west-1", Region: "us-west-2"}, want: "eu-west-1"},
		{name: "store region", settings: config.Settings{Region: "us-west-2"}, want: "us-west-2"},
		{name: "default", settings: config.Settings{}, want: "us-east-1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, metastore.NewClient(tc.settings).Options().Region)
		})
	}
}
