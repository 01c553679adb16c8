// Package metastore opens the DynamoDB table that backs the metadata
// store. Tables are created on first use and tagged from the configuration;
// only tables carrying every configured tag may be destroyed.
package metastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"s3verify/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrNotDynamoMetadataStore = errors.New("metadata store is not dynamodb")
	ErrNoTableName            = errors.New("metadata table name is not set")
	ErrTableNotReady          = errors.New("metadata table did not become active")

	// ErrUntaggedTable is returned by Destroy for a table missing one of the
	// configured tags, or when no tags are configured at all.
	ErrUntaggedTable = errors.New("refusing to destroy a table without the configured tags")
)

// DynamoDBAPI is the part of the DynamoDB client the provisioner uses.
type DynamoDBAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	TagResource(ctx context.Context, params *dynamodb.TagResourceInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TagResourceOutput, error)
	ListTagsOfResource(ctx context.Context, params *dynamodb.ListTagsOfResourceInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTagsOfResourceOutput, error)
}

// Key attributes of the metadata table: one item per path, keyed by
// parent directory and child name.
const (
	AttrParent = "parent"
	AttrChild  = "child"
)

// DefaultPollAttempts bounds the DescribeTable polls while waiting for a
// table to become active.
const DefaultPollAttempts = 60

// Table describes an opened metadata table.
type Table struct {
	Name    string
	ARN     string
	Region  string
	Tags    map[string]string
	Created bool

	// BackgroundSleep is the pause between background table operations.
	BackgroundSleep time.Duration
}

// Provisioner opens and destroys metadata tables.
type Provisioner struct {
	client DynamoDBAPI

	// PollAttempts bounds the wait for a table to become active.
	PollAttempts int
}

func NewProvisioner(client DynamoDBAPI) *Provisioner {
	return &Provisioner{client: client, PollAttempts: DefaultPollAttempts}
}

// NewClient builds a DynamoDB client for the table region in settings,
// falling back to the store region.
func NewClient(settings config.Settings, optFns ...func(*dynamodb.Options)) *dynamodb.Client {
	opts := dynamodb.Options{Region: tableRegion(settings)}
	if settings.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(settings.AccessKey, settings.SecretKey, "")
	}
	return dynamodb.New(opts, optFns...)
}

func tableRegion(settings config.Settings) string {
	switch {
	case settings.TableRegion != "":
		return settings.TableRegion
	case settings.Region != "":
		return settings.Region
	}
	return "us-east-1"
}

func tableSettings(conf *config.Configuration) (config.Settings, error) {
	settings, err := conf.Settings()
	if err != nil {
		return settings, err
	}
	if settings.MetadataStore != config.MetadataStoreDynamo {
		return settings, fmt.Errorf("%w: %q", ErrNotDynamoMetadataStore, settings.MetadataStore)
	}
	if settings.TableName == "" {
		return settings, ErrNoTableName
	}
	return settings, nil
}

// Open returns the table named by conf, creating it with the configured
// tags when it does not exist and adding missing tags when it does.
func (p *Provisioner) Open(ctx context.Context, conf *config.Configuration) (*Table, error) {
	settings, err := tableSettings(conf)
	if err != nil {
		return nil, err
	}

	table := &Table{
		Name:            settings.TableName,
		Region:          tableRegion(settings),
		Tags:            settings.TableTags,
		BackgroundSleep: settings.BackgroundSleep,
	}

	desc, err := p.describe(ctx, table.Name)
	if err != nil {
		return nil, err
	}

	if desc == nil {
		slog.Info("Creating metadata table", "table", table.Name, "region", table.Region, "tags", len(table.Tags))
		if err := p.create(ctx, table); err != nil {
			return nil, err
		}
		table.Created = true
	} else {
		table.ARN = aws.ToString(desc.TableArn)
		if err := p.tag(ctx, table); err != nil {
			return nil, err
		}
	}

	if err := p.waitActive(ctx, table); err != nil {
		return nil, err
	}
	return table, nil
}

// Destroy deletes the table named by conf. A table that does not exist is
// not an error.
func (p *Provisioner) Destroy(ctx context.Context, conf *config.Configuration) error {
	settings, err := tableSettings(conf)
	if err != nil {
		return err
	}

	name := settings.TableName
	desc, err := p.describe(ctx, name)
	if err != nil {
		return err
	}
	if desc == nil {
		slog.Debug("Metadata table already absent", "table", name)
		return nil
	}

	if len(settings.TableTags) == 0 {
		return fmt.Errorf("%w: %s: no tags configured", ErrUntaggedTable, name)
	}
	actual, err := p.tags(ctx, aws.ToString(desc.TableArn))
	if err != nil {
		return err
	}
	for k, v := range settings.TableTags {
		if got, ok := actual[k]; !ok || got != v {
			return fmt.Errorf("%w: %s: tag %q is %q, want %q", ErrUntaggedTable, name, k, got, v)
		}
	}

	slog.Info("Deleting metadata table", "table", name)
	if _, err := p.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(name)}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete table %s: %w", name, err)
	}
	return nil
}

// describe returns nil when the table does not exist.
func (p *Provisioner) describe(ctx context.Context, name string) (*types.TableDescription, error) {
	out, err := p.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe table %s: %w", name, err)
	}
	return out.Table, nil
}

func (p *Provisioner) create(ctx context.Context, table *Table) error {
	out, err := p.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table.Name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(AttrParent), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(AttrChild), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(AttrParent), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(AttrChild), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
		Tags:        toTags(table.Tags),
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			// Created concurrently; tag it like an existing table.
			desc, derr := p.describe(ctx, table.Name)
			if derr != nil || desc == nil {
				return fmt.Errorf("create table %s: %w", table.Name, err)
			}
			table.ARN = aws.ToString(desc.TableArn)
			return p.tag(ctx, table)
		}
		return fmt.Errorf("create table %s: %w", table.Name, err)
	}
	if out.TableDescription != nil {
		table.ARN = aws.ToString(out.TableDescription.TableArn)
	}
	return nil
}

// tag adds configured tags the table lacks or carries with another value.
func (p *Provisioner) tag(ctx context.Context, table *Table) error {
	if len(table.Tags) == 0 {
		return nil
	}

	actual, err := p.tags(ctx, table.ARN)
	if err != nil {
		return err
	}

	missing := make(map[string]string)
	for k, v := range table.Tags {
		if got, ok := actual[k]; !ok || got != v {
			missing[k] = v
		}
	}
	if len(missing) == 0 {
		return nil
	}

	slog.Info("Tagging metadata table", "table", table.Name, "tags", slices.Sorted(maps.Keys(missing)))
	_, err = p.client.TagResource(ctx, &dynamodb.TagResourceInput{
		ResourceArn: aws.String(table.ARN),
		Tags:        toTags(missing),
	})
	if err != nil {
		return fmt.Errorf("tag table %s: %w", table.Name, err)
	}
	return nil
}

func (p *Provisioner) tags(ctx context.Context, arn string) (map[string]string, error) {
	tags := make(map[string]string)

	input := &dynamodb.ListTagsOfResourceInput{ResourceArn: aws.String(arn)}
	for {
		out, err := p.client.ListTagsOfResource(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list tags of %s: %w", arn, err)
		}
		for _, tag := range out.Tags {
			tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}
		if out.NextToken == nil {
			return tags, nil
		}
		input.NextToken = out.NextToken
	}
}

// waitActive polls the table status, pausing BackgroundSleep between polls.
func (p *Provisioner) waitActive(ctx context.Context, table *Table) error {
	attempts := p.PollAttempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}

	for range attempts {
		desc, err := p.describe(ctx, table.Name)
		if err != nil {
			return err
		}
		if desc != nil && desc.TableStatus == types.TableStatusActive {
			if table.ARN == "" {
				table.ARN = aws.ToString(desc.TableArn)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(table.BackgroundSleep):
		}
	}
	return fmt.Errorf("%w: %s", ErrTableNotReady, table.Name)
}

func toTags(m map[string]string) []types.Tag {
	tags := make([]types.Tag, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		tags = append(tags, types.Tag{Key: aws.String(k), Value: aws.String(m[k])})
	}
	return tags
}

func isNotFound(err error) bool {
	var notFound *types.ResourceNotFoundException
	return errors.As(err, &notFound)
}
