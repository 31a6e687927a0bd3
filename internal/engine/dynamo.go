package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/celerix-dev/rungodb/pkg/docstore"
)

// containerMarker is the sort key of the item recording that a container exists,
// so empty containers survive a round trip.
const containerMarker = "#container"

// DynamoAPI is the subset of *dynamodb.Client used by DynamoPersister.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoItem is one row of the table: partition key "container", sort key "uid".
// Data holds the JSON-encoded entity and is empty for container markers.
type dynamoItem struct {
	Container string `dynamodbav:"container"`
	UID       string `dynamodbav:"uid"`
	Data      string `dynamodbav:"data,omitempty"`
}

// DynamoPersister stores one item per entity in an existing DynamoDB table.
type DynamoPersister struct {
	client DynamoAPI
	table  string
	mu     sync.Mutex
}

// NewDynamoPersister wraps an existing client.
func NewDynamoPersister(client DynamoAPI, table string) *DynamoPersister {
	return &DynamoPersister{client: client, table: table}
}

// DialDynamo builds a client from the default AWS configuration chain.
// endpoint overrides the service URL, e.g. for DynamoDB Local.
func DialDynamo(ctx context.Context, table, region, endpoint string) (*DynamoPersister, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewDynamoPersister(client, table), nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (d *DynamoPersister) Close() error {
	return nil
}

// Load scans the whole table.
func (d *DynamoPersister) Load(ctx context.Context) (docstore.Tree, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	items, err := d.scan(ctx)
	if err != nil {
		return nil, err
	}
	tree := make(docstore.Tree)
	for _, it := range items {
		c, ok := tree[it.Container]
		if !ok {
			c = make(docstore.Container)
			tree[it.Container] = c
		}
		if it.Data == "" {
			continue
		}
		var e map[string]any
		if err := json.Unmarshal([]byte(it.Data), &e); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", it.Container, it.UID, err)
		}
		c[it.UID] = e
	}
	return tree, nil
}

// Save upserts every container marker and entity, then deletes items that are
// no longer part of tree.
func (d *DynamoPersister) Save(ctx context.Context, tree docstore.Tree) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.scan(ctx)
	if err != nil {
		return err
	}
	type key struct{ container, uid string }
	keep := make(map[key]bool)

	put := func(it dynamoItem) error {
		av, err := attributevalue.MarshalMap(it)
		if err != nil {
			return fmt.Errorf("marshal item: %w", err)
		}
		_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(d.table),
			Item:      av,
		})
		if err != nil {
			return fmt.Errorf("put %s/%s: %w", it.Container, it.UID, err)
		}
		keep[key{it.Container, it.UID}] = true
		return nil
	}

	for name, c := range tree {
		if _, ok := c[containerMarker]; !ok {
			if err := put(dynamoItem{Container: name, UID: containerMarker}); err != nil {
				return err
			}
		}
		for uid, e := range c {
			b, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal %s/%s: %w", name, uid, err)
			}
			if err := put(dynamoItem{Container: name, UID: uid, Data: string(b)}); err != nil {
				return err
			}
		}
	}

	for _, it := range existing {
		if keep[key{it.Container, it.UID}] {
			continue
		}
		_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(d.table),
			Key: map[string]types.AttributeValue{
				"container": &types.AttributeValueMemberS{Value: it.Container},
				"uid":       &types.AttributeValueMemberS{Value: it.UID},
			},
		})
		if err != nil {
			return fmt.Errorf("delete %s/%s: %w", it.Container, it.UID, err)
		}
	}
	return nil
}

func (d *DynamoPersister) scan(ctx context.Context) ([]dynamoItem, error) {
	var items []dynamoItem
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName: aws.String(d.table),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", d.table, err)
		}
		var batch []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
		items = append(items, batch...)
	}
	return items, nil
}
