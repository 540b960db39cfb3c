package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI captures the subset of DynamoDB client methods used by the store.
// There is deliberately no Scan or BatchWriteItem: the store never enumerates
// the table, and Flush is a hard error.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// dynamoStore keeps every entry in one table: a string hash key, a value
// attribute holding N for numbers, B for opaque payloads or S for lock
// owner tokens, and a unix-seconds expiry attribute. All attribute names
// are configurable and are aliased in expressions because the defaults
// ("key", "value") are DynamoDB reserved words.
type dynamoStore struct {
	client     DynamoAPI
	table      string
	prefix     string
	names      AttributeNames
	consistent bool
	log        Logger

	// now is swapped by tests that walk the clock across expiry boundaries.
	now func() time.Time
}

const (
	dynamoEnsureTableMaxAttempts = 20
	dynamoEnsureTableRetryDelay  = 150 * time.Millisecond
)

func newDynamoStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	if cfg.DynamoClient == nil {
		client, err := newDynamoClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		cfg.DynamoClient = client
	}
	names := cfg.Attributes.withDefaults()
	log := cfg.Logger
	if log == nil {
		log = NopLogger{}
	}
	if err := ensureDynamoTable(ctx, cfg.DynamoClient, cfg.Table, names.Key, log); err != nil {
		return nil, err
	}
	return &dynamoStore{
		client:     cfg.DynamoClient,
		table:      cfg.Table,
		prefix:     cfg.Prefix,
		names:      names,
		consistent: cfg.consistentReads(),
		log:        log,
		now:        time.Now,
	}, nil
}

// newDynamoClient builds the client from the default AWS chain. An endpoint
// override (DynamoDB Local, LocalStack) switches to throwaway static
// credentials so the store runs without an AWS account.
func newDynamoClient(ctx context.Context, cfg StoreConfig) (*dynamodb.Client, error) {
	region := cfg.DynamoRegion
	if region == "" {
		region = defaultDynamoRegion
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.DynamoEndpoint != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	if cfg.DynamoEndpoint != "" {
		endpoint := cfg.DynamoEndpoint
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: endpoint, HostnameImmutable: true}, nil
		})
		if _, err := resolver.ResolveEndpoint("dynamodb", region); err != nil {
			return nil, err
		}
		awsCfg.EndpointResolverWithOptions = resolver
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

func (s *dynamoStore) Driver() Driver { return DriverDynamo }

func (s *dynamoStore) Prefix() string { return s.prefix }

func (s *dynamoStore) WithPrefix(prefix string) Store {
	clone := *s
	clone.prefix = prefix
	return &clone
}

func (s *dynamoStore) Ready(ctx context.Context) error {
	if s.client == nil {
		return errors.New("dynamodb cache client unavailable")
	}
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	return err
}

func (s *dynamoStore) Get(ctx context.Context, key string) (Value, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(s.consistent),
	})
	if err != nil {
		return Value{}, false, err
	}
	if out.Item == nil {
		return Value{}, false, nil
	}
	if s.expired(out.Item) {
		// Reads clean up dead records opportunistically. The delete is
		// conditioned on the record still being expired so a fresh write
		// racing in after the read survives; losing that race surfaces as
		// a swallowed condition failure.
		if _, derr := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:           aws.String(s.table),
			Key:                 s.itemKey(key),
			ConditionExpression: aws.String("#expires_at <= :now"),
			ExpressionAttributeNames: map[string]string{
				"#expires_at": s.names.ExpiresAt,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
			},
		}); derr != nil && !isConditionFailure(derr) {
			s.log.Debug("dynamodb expired record cleanup failed", Fields{"key": key, "error": derr.Error()})
		}
		return Value{}, false, nil
	}
	attr, ok := out.Item[s.names.Value]
	if !ok {
		return Value{}, false, fmt.Errorf("dynamodb item missing value attribute %q", s.names.Value)
	}
	v, err := decodeDynamoValue(attr)
	if err != nil {
		return Value{}, false, err
	}
	return v, true, nil
}

func (s *dynamoStore) Set(ctx context.Context, key string, value Value, ttl time.Duration) error {
	attr, err := dynamoValue(value)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			s.names.Key:       &types.AttributeValueMemberS{Value: s.cacheKey(key)},
			s.names.Value:     attr,
			s.names.ExpiresAt: &types.AttributeValueMemberN{Value: strconv.FormatInt(s.expiryAt(s.now(), ttl), 10)},
		},
	})
	return err
}

// Add stores the value only when no live record holds the key. The check and
// the write are one conditional put, so concurrent adders race safely: one
// wins, the rest observe the condition failure as a plain false.
func (s *dynamoStore) Add(ctx context.Context, key string, value Value, ttl time.Duration) (bool, error) {
	attr, err := dynamoValue(value)
	if err != nil {
		return false, err
	}
	now := s.now()
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			s.names.Key:       &types.AttributeValueMemberS{Value: s.cacheKey(key)},
			s.names.Value:     attr,
			s.names.ExpiresAt: &types.AttributeValueMemberN{Value: strconv.FormatInt(s.expiryAt(now, ttl), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(#key) OR #expires_at < :now"),
		ExpressionAttributeNames: map[string]string{
			"#key":        s.names.Key,
			"#expires_at": s.names.ExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *dynamoStore) Increment(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.adjust(ctx, key, delta, "SET #value = #value + :amount")
}

func (s *dynamoStore) Decrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.adjust(ctx, key, delta, "SET #value = #value - :amount")
}

// adjust runs server-side arithmetic on a live record. The condition refuses
// missing and stale keys, so an expired counter never resurrects from zero;
// callers see ok=false and decide for themselves whether to seed a new one.
func (s *dynamoStore) adjust(ctx context.Context, key string, delta int64, update string) (int64, bool, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.itemKey(key),
		ConditionExpression: aws.String("attribute_exists(#key) AND #expires_at > :now"),
		UpdateExpression:    aws.String(update),
		ExpressionAttributeNames: map[string]string{
			"#key":        s.names.Key,
			"#expires_at": s.names.ExpiresAt,
			"#value":      s.names.Value,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
			":amount": &types.AttributeValueMemberN{Value: strconv.FormatInt(delta, 10)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionFailure(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	attr, ok := out.Attributes[s.names.Value].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false, fmt.Errorf("cache key %q: %w", key, ErrNotNumeric)
	}
	n, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("cache key %q: %w", key, ErrNotNumeric)
	}
	return n, true, nil
}

func (s *dynamoStore) Forever(ctx context.Context, key string, value Value) error {
	return s.Set(ctx, key, value, foreverTTL)
}

func (s *dynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.itemKey(key),
	})
	return err
}

func (s *dynamoStore) DeleteMany(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Flush always fails. The single-table layout has no affordable table-wide
// clear and the table may be shared with other applications; dropping and
// recreating the table is the operational alternative.
func (s *dynamoStore) Flush(ctx context.Context) error {
	return fmt.Errorf("%w: recreate dynamodb table %q instead", ErrFlushUnsupported, s.table)
}

// Lock returns a handle for a distributed mutex living in the same table.
// An empty owner is replaced with a random token.
func (s *dynamoStore) Lock(name string, ttl time.Duration, owner string) *Lock {
	return newLock(s, name, ttl, owner)
}

// RestoreLock rebuilds a handle around an owner token captured from a
// previous Lock call, typically in another process.
func (s *dynamoStore) RestoreLock(name, owner string) *Lock {
	return restoreLock(s, name, owner)
}

// acquireLock reuses the add condition. A lock row is a record whose value
// is the owner token stored as a string attribute, which keeps it apart
// from cache payloads (always N or B).
func (s *dynamoStore) acquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	if ttl <= 0 {
		ttl = foreverTTL
	}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			s.names.Key:       &types.AttributeValueMemberS{Value: s.cacheKey(name)},
			s.names.Value:     &types.AttributeValueMemberS{Value: owner},
			s.names.ExpiresAt: &types.AttributeValueMemberN{Value: strconv.FormatInt(s.expiryAt(now, ttl), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(#key) OR #expires_at < :now"),
		ExpressionAttributeNames: map[string]string{
			"#key":        s.names.Key,
			"#expires_at": s.names.ExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// releaseLock deletes the lock record only while the caller still owns it.
// A lost race, where the lock expired and someone else re-acquired it,
// reports false instead of deleting the new holder's record.
func (s *dynamoStore) releaseLock(ctx context.Context, name, owner string) (bool, error) {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.itemKey(name),
		ConditionExpression: aws.String("#value = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#value": s.names.Value,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *dynamoStore) forceReleaseLock(ctx context.Context, name string) error {
	return s.Delete(ctx, name)
}

// lockOwner reads the current owner token, or "" when the lock is free,
// expired, or the record is not a lock.
func (s *dynamoStore) lockOwner(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.itemKey(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", err
	}
	if out.Item == nil || s.expired(out.Item) {
		return "", nil
	}
	attr, ok := out.Item[s.names.Value].(*types.AttributeValueMemberS)
	if !ok {
		return "", nil
	}
	return attr.Value, nil
}

func (s *dynamoStore) cacheKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *dynamoStore) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		s.names.Key: &types.AttributeValueMemberS{Value: s.cacheKey(key)},
	}
}

// expiryAt converts a ttl into an absolute unix-seconds deadline. Anything
// non-positive lands exactly on now, an already-dead record. Positive
// sub-second ttls round up so the record lives at least one second.
func (s *dynamoStore) expiryAt(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return now.Unix()
	}
	exp := now.Add(ttl).Unix()
	if exp <= now.Unix() {
		exp = now.Unix() + 1
	}
	return exp
}

// expired reports whether an item read back is stale. The boundary is
// asymmetric on purpose: a reader treats expires_at == now as dead, while
// the write conditions only steal records with expires_at strictly below
// now. Items without the attribute never expire, which keeps reads
// compatible with foreign rows in a shared table.
func (s *dynamoStore) expired(item map[string]types.AttributeValue) bool {
	attr, ok := item[s.names.ExpiresAt].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	exp, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return false
	}
	return s.now().Unix() >= exp
}

// dynamoValue maps a Value onto the native scalar: numbers become N so the
// server can run increment arithmetic on them, opaque payloads become B.
func dynamoValue(v Value) (types.AttributeValue, error) {
	switch v.Kind() {
	case KindInt:
		n, _ := v.Int()
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}, nil
	case KindFloat:
		f, _ := v.Float()
		return &types.AttributeValueMemberN{Value: formatFloat(f)}, nil
	case KindBytes:
		return &types.AttributeValueMemberB{Value: v.Bytes()}, nil
	default:
		return nil, errAbsentValue
	}
}

// decodeDynamoValue reverses dynamoValue. String attributes appear when a
// lock record or a foreign writer shares the table; their text surfaces as
// opaque bytes.
func decodeDynamoValue(attr types.AttributeValue) (Value, error) {
	switch av := attr.(type) {
	case *types.AttributeValueMemberN:
		return numericOrBytes(av.Value, []byte(av.Value)), nil
	case *types.AttributeValueMemberB:
		return BytesValue(av.Value), nil
	case *types.AttributeValueMemberS:
		return StringValue(av.Value), nil
	default:
		return Value{}, fmt.Errorf("dynamodb item has unsupported value attribute type %T", attr)
	}
}

func isConditionFailure(err error) bool {
	var cce *types.ConditionalCheckFailedException
	return errors.As(err, &cce)
}

func ensureDynamoTable(ctx context.Context, client DynamoAPI, table, keyAttr string, log Logger) error {
	var lastErr error
	for attempt := 1; attempt <= dynamoEnsureTableMaxAttempts; attempt++ {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err == nil {
			return nil
		}

		var rnfe *types.ResourceNotFoundException
		if errors.As(err, &rnfe) {
			_, createErr := client.CreateTable(ctx, &dynamodb.CreateTableInput{
				TableName: aws.String(table),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String(keyAttr), KeyType: types.KeyTypeHash},
				},
				AttributeDefinitions: []types.AttributeDefinition{
					{AttributeName: aws.String(keyAttr), AttributeType: types.ScalarAttributeTypeS},
				},
				BillingMode: types.BillingModePayPerRequest,
			})
			if createErr == nil {
				return nil
			}
			var inUse *types.ResourceInUseException
			if errors.As(createErr, &inUse) {
				return nil
			}
			if !isDynamoStartupRetryable(createErr) {
				return createErr
			}
			lastErr = createErr
		} else {
			if !isDynamoStartupRetryable(err) {
				return err
			}
			lastErr = err
		}

		log.Debug("dynamodb table ensure retry", Fields{"table": table, "attempt": attempt, "error": lastErr.Error()})
		if attempt == dynamoEnsureTableMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dynamoEnsureTableRetryDelay):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("dynamo table ensure failed")
	}
	return fmt.Errorf("ensure dynamo table %q: %w", table, lastErr)
}

func isDynamoStartupRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "request send failed") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "eof")
}
