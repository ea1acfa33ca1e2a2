package storage

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/goforj/geostate/geoerr"
)

// DynamoAPI is the part of *dynamodb.Client the store needs.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Item attributes.
const (
	dynamoKeyAttr     = "entry_key"
	dynamoPayloadAttr = "payload"
	dynamoExpiresAttr = "expires_at"
)

const (
	dynamoTableAttempts   = 20
	dynamoTableRetryDelay = 150 * time.Millisecond
	// BatchWriteItem accepts at most 25 requests.
	dynamoBatchSize = 25
)

type dynamoStore struct {
	client   DynamoAPI
	table    *string
	ns       keyspace
	lifetime time.Duration
}

func newDynamoStore(ctx context.Context, cfg Config) (*dynamoStore, error) {
	client := cfg.DynamoClient
	if client == nil {
		built, err := dialDynamo(ctx, cfg)
		if err != nil {
			return nil, geoerr.Wrap(geoerr.Unavailable, opName(DriverDynamo, "open"), err)
		}
		client = built
	}
	s := &dynamoStore{
		client:   client,
		table:    aws.String(cfg.DynamoTable),
		ns:       keyspace(cfg.Prefix),
		lifetime: cfg.DefaultTTL,
	}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func dialDynamo(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.DynamoRegion)}
	if cfg.DynamoEndpoint != "" {
		// DynamoDB Local accepts any static credentials.
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("geostate", "geostate", "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
		}
	}), nil
}

func (s *dynamoStore) Driver() Driver { return DriverDynamo }

func (s *dynamoStore) keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr: &types.AttributeValueMemberS{Value: s.ns.wrap(key)},
	}
}

func (s *dynamoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := checkKeys(DriverDynamo, "get", key); err != nil {
		return nil, false, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      s.table,
		Key:            s.keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, backendErr(DriverDynamo, "get", err)
	}
	if out.Item == nil {
		return nil, false, nil
	}
	if itemExpiry(out.Item).passed() {
		_ = s.DeleteMany(ctx, key)
		return nil, false, nil
	}
	payload, ok := out.Item[dynamoPayloadAttr].(*types.AttributeValueMemberB)
	if !ok {
		return nil, false, geoerr.New(geoerr.Storage, opName(DriverDynamo, "get"), "item has no binary payload")
	}
	return cloneBytes(payload.Value), true, nil
}

func (s *dynamoStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkKeys(DriverDynamo, "set", key); err != nil {
		return err
	}
	item := s.keyOf(key)
	item[dynamoPayloadAttr] = &types.AttributeValueMemberB{Value: append([]byte{}, value...)}
	item[dynamoExpiresAttr] = &types.AttributeValueMemberN{
		Value: strconv.FormatInt(int64(deadlineFor(ttl, s.lifetime)), 10),
	}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: s.table, Item: item})
	return backendErr(DriverDynamo, "set", err)
}

func (s *dynamoStore) Delete(ctx context.Context, key string) error {
	if err := checkKeys(DriverDynamo, "delete", key); err != nil {
		return err
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: s.table, Key: s.keyOf(key)})
	return backendErr(DriverDynamo, "delete", err)
}

// DeleteMany removes keys in BatchWriteItem-sized chunks.
func (s *dynamoStore) DeleteMany(ctx context.Context, keys ...string) error {
	if err := checkKeys(DriverDynamo, "delete", keys...); err != nil {
		return err
	}
	for len(keys) > 0 {
		n := min(len(keys), dynamoBatchSize)
		writes := make([]types.WriteRequest, n)
		for i, key := range keys[:n] {
			writes[i] = types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: s.keyOf(key)}}
		}
		_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{*s.table: writes},
		})
		if err != nil {
			return backendErr(DriverDynamo, "delete", err)
		}
		keys = keys[n:]
	}
	return nil
}

func (s *dynamoStore) Flush(ctx context.Context) error {
	return flushListed(ctx, s)
}

// Keys implements Lister with a filtered scan over the store's prefix.
func (s *dynamoStore) Keys(ctx context.Context) ([]string, error) {
	var (
		keys  []string
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                s.table,
			ProjectionExpression:     aws.String("#k"),
			FilterExpression:         aws.String("begins_with(#k, :scope)"),
			ExpressionAttributeNames: map[string]string{"#k": dynamoKeyAttr},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":scope": &types.AttributeValueMemberS{Value: s.ns.wrap("")},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, backendErr(DriverDynamo, "keys", err)
		}
		for _, item := range out.Items {
			stored, ok := item[dynamoKeyAttr].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if key, ok := s.ns.unwrap(stored.Value); ok {
				keys = append(keys, key)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return sortedKeys(keys), nil
		}
		start = out.LastEvaluatedKey
	}
}

func itemExpiry(item map[string]types.AttributeValue) deadline {
	n, ok := item[dynamoExpiresAttr].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	ms, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0
	}
	return deadline(ms)
}

// ensureTable creates the table on first use, retrying while a local
// endpoint is still starting.
func (s *dynamoStore) ensureTable(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < dynamoTableAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return geoerr.Wrap(geoerr.Timeout, opName(DriverDynamo, "ensure_table"), ctx.Err())
			case <-time.After(dynamoTableRetryDelay):
			}
		}
		if err = s.describeOrCreate(ctx); err == nil || !dynamoStarting(err) {
			break
		}
	}
	if err != nil {
		return geoerr.Wrapf(geoerr.Unavailable, opName(DriverDynamo, "ensure_table"), err, "table %q", *s.table)
	}
	return nil
}

func (s *dynamoStore) describeOrCreate(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: s.table})
	var missing *types.ResourceNotFoundException
	if !errors.As(err, &missing) {
		return err
	}
	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: s.table,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(dynamoKeyAttr), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(dynamoKeyAttr), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	return err
}

// dynamoStarting reports connection-level failures seen while a local
// endpoint boots.
func dynamoStarting(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET)
}
