// Package metastoretest provides an in-memory DynamoDB for table
// provisioning tests.
package metastoretest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type table struct {
	desc types.TableDescription
	tags map[string]string
}

// DynamoDB keeps tables and tags in memory and records every call. A
// created table reports CREATING once, then ACTIVE.
type DynamoDB struct {
	mu     sync.Mutex
	tables map[string]*table
	calls  []string

	// Err, when set, fails every call.
	Err error
}

func New() *DynamoDB {
	return &DynamoDB{tables: make(map[string]*table)}
}

// ARN returns the ARN the fake assigns to name.
func ARN(name string) string {
	return "arn:aws:dynamodb:us-east-1:123456789012:table/" + name
}

// AddTable registers an active table with tags.
func (d *DynamoDB) AddTable(name string, tags map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tables[name] = &table{
		desc: types.TableDescription{
			TableName:   aws.String(name),
			TableArn:    aws.String(ARN(name)),
			TableStatus: types.TableStatusActive,
		},
		tags: maps.Clone(tags),
	}
	if d.tables[name].tags == nil {
		d.tables[name].tags = make(map[string]string)
	}
}

// Tables lists existing table names.
func (d *DynamoDB) Tables() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Sorted(maps.Keys(d.tables))
}

// Tags returns the tags of name.
func (d *DynamoDB) Tags(name string) map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.tables[name]; ok {
		return maps.Clone(t.tags)
	}
	return nil
}

// Calls returns the operation names called so far, in order.
func (d *DynamoDB) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

// CallCount counts calls of one operation.
func (d *DynamoDB) CallCount(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, c := range d.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (d *DynamoDB) record(op string) error {
	d.calls = append(d.calls, op)
	return d.Err
}

func (d *DynamoDB) CreateTable(_ context.Context, params *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("CreateTable"); err != nil {
		return nil, err
	}

	name := aws.ToString(params.TableName)
	if _, ok := d.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists: " + name)}
	}

	t := &table{
		desc: types.TableDescription{
			TableName:            aws.String(name),
			TableArn:             aws.String(ARN(name)),
			TableStatus:          types.TableStatusCreating,
			KeySchema:            params.KeySchema,
			AttributeDefinitions: params.AttributeDefinitions,
		},
		tags: make(map[string]string),
	}
	for _, tag := range params.Tags {
		t.tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	d.tables[name] = t

	desc := t.desc
	return &dynamodb.CreateTableOutput{TableDescription: &desc}, nil
}

func (d *DynamoDB) DescribeTable(_ context.Context, params *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("DescribeTable"); err != nil {
		return nil, err
	}

	t, ok := d.tables[aws.ToString(params.TableName)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("no table " + aws.ToString(params.TableName))}
	}
	desc := t.desc
	t.desc.TableStatus = types.TableStatusActive
	return &dynamodb.DescribeTableOutput{Table: &desc}, nil
}

func (d *DynamoDB) DeleteTable(_ context.Context, params *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("DeleteTable"); err != nil {
		return nil, err
	}

	name := aws.ToString(params.TableName)
	t, ok := d.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("no table " + name)}
	}
	delete(d.tables, name)

	desc := t.desc
	desc.TableStatus = types.TableStatusDeleting
	return &dynamodb.DeleteTableOutput{TableDescription: &desc}, nil
}

func (d *DynamoDB) TagResource(_ context.Context, params *dynamodb.TagResourceInput, _ ...func(*dynamodb.Options)) (*dynamodb.TagResourceOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("TagResource"); err != nil {
		return nil, err
	}

	t, err := d.byARN(aws.ToString(params.ResourceArn))
	if err != nil {
		return nil, err
	}
	for _, tag := range params.Tags {
		t.tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return &dynamodb.TagResourceOutput{}, nil
}

func (d *DynamoDB) ListTagsOfResource(_ context.Context, params *dynamodb.ListTagsOfResourceInput, _ ...func(*dynamodb.Options)) (*dynamodb.ListTagsOfResourceOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("ListTagsOfResource"); err != nil {
		return nil, err
	}

	t, err := d.byARN(aws.ToString(params.ResourceArn))
	if err != nil {
		return nil, err
	}

	out := &dynamodb.ListTagsOfResourceOutput{}
	for _, k := range slices.Sorted(maps.Keys(t.tags)) {
		out.Tags = append(out.Tags, types.Tag{Key: aws.String(k), Value: aws.String(t.tags[k])})
	}
	return out, nil
}

func (d *DynamoDB) byARN(arn string) (*table, error) {
	for _, t := range d.tables {
		if aws.ToString(t.desc.TableArn) == arn {
			return t, nil
		}
	}
	return nil, &types.ResourceNotFoundException{Message: aws.String(fmt.Sprintf("no resource %s", arn))}
}
