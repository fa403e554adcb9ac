package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/aws"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

const (
	condOrderNew   = "attribute_not_exists(id)"
	condIdemNew    = "attribute_not_exists(idempotency_key)"
	condRevisionEq = "revision = :expected"
)

// idemItem maps an idempotency key to the order it created.
type idemItem struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"`
	OrderID        string    `dynamodbav:"order_id"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
}

// Dynamo stores orders in one table keyed by id and idempotency keys in a
// second table. Revision CAS is a condition expression on every put.
type Dynamo struct {
	client    aws.DynamoDBAPI
	ordersTbl string
	idemTbl   string
}

func NewDynamo(client aws.DynamoDBAPI, ordersTable, idempotencyTable string) *Dynamo {
	return &Dynamo{client: client, ordersTbl: ordersTable, idemTbl: idempotencyTable}
}

func marshalOrder(o *orders.Order) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMapWithOptions(o, func(eo *attributevalue.EncoderOptions) { eo.TagKey = "json" })
}

func unmarshalOrder(item map[string]types.AttributeValue) (*orders.Order, error) {
	var o orders.Order
	if err := attributevalue.UnmarshalMapWithOptions(item, &o, func(do *attributevalue.DecoderOptions) { do.TagKey = "json" }); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

func (s *Dynamo) Put(ctx context.Context, o *orders.Order, expectedRevision int64) error {
	next := o.Clone()
	next.Revision = expectedRevision + 1
	item, err := marshalOrder(next)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	if expectedRevision == 0 && next.IdempotencyKey != "" {
		if err := s.createWithIdempotency(ctx, next, item); err != nil {
			return err
		}
		o.Revision = next.Revision
		return nil
	}

	in := &dyn.PutItemInput{TableName: &s.ordersTbl, Item: item}
	if expectedRevision == 0 {
		in.ConditionExpression = sdkaws.String(condOrderNew)
	} else {
		in.ConditionExpression = sdkaws.String(condRevisionEq)
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprint(expectedRevision)},
		}
	}
	if _, err := s.client.PutItem(ctx, in); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return orders.ErrRevisionConflict
		}
		return dynamoUnavailable("put item", err)
	}
	o.Revision = next.Revision
	return nil
}

// createWithIdempotency writes the idempotency record and the order in one
// transaction so neither can exist without the other.
func (s *Dynamo) createWithIdempotency(ctx context.Context, o *orders.Order, item map[string]types.AttributeValue) error {
	idem, err := attributevalue.MarshalMap(idemItem{IdempotencyKey: o.IdempotencyKey, OrderID: o.ID, CreatedAt: o.CreatedAt})
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: &s.idemTbl, Item: idem, ConditionExpression: sdkaws.String(condIdemNew)}},
			{Put: &types.Put{TableName: &s.ordersTbl, Item: item, ConditionExpression: sdkaws.String(condOrderNew)}},
		},
	})
	if err == nil {
		return nil
	}
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return dynamoUnavailable("transact write", err)
	}
	for i, r := range tce.CancellationReasons {
		if sdkaws.ToString(r.Code) != "ConditionalCheckFailed" {
			continue
		}
		if i == 0 {
			return orders.ErrDuplicateIdempotencyKey
		}
		return orders.ErrRevisionConflict
	}
	return dynamoUnavailable("transact write", err)
}

func (s *Dynamo) Get(ctx context.Context, id string) (*orders.Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.ordersTbl,
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, dynamoUnavailable("get item", err)
	}
	if len(out.Item) == 0 {
		return nil, orders.NotFoundf("order", id)
	}
	return unmarshalOrder(out.Item)
}

func (s *Dynamo) FindByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.idemTbl,
		Key:            map[string]types.AttributeValue{"idempotency_key": &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, dynamoUnavailable("get idempotency item", err)
	}
	if len(out.Item) == 0 {
		return nil, orders.NotFoundf("idempotency key", key)
	}
	var rec idemItem
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal idempotency item: %w", err)
	}
	return s.Get(ctx, rec.OrderID)
}

// Patch reads, applies and writes back under the revision condition.
func (s *Dynamo) Patch(ctx context.Context, id string, expectedRevision int64, p Patch) (*orders.Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Revision != expectedRevision {
		return nil, orders.ErrRevisionConflict
	}
	p.Apply(o)
	o.Revision = expectedRevision
	if err := s.Put(ctx, o, expectedRevision); err != nil {
		return nil, err
	}
	return o, nil
}

// Query scans the table. Customer, vendor and status are pushed down as a
// filter expression; the date range is applied after decoding.
func (s *Dynamo) Query(ctx context.Context, f Filter) ([]*orders.Order, error) {
	in := &dyn.ScanInput{TableName: &s.ordersTbl, ConsistentRead: sdkaws.Bool(true)}
	var (
		conds  []string
		values = map[string]types.AttributeValue{}
		names  = map[string]string{}
	)
	if f.CustomerID != "" {
		conds = append(conds, "customer_id = :c")
		values[":c"] = &types.AttributeValueMemberS{Value: f.CustomerID}
	}
	if f.VendorID != "" {
		conds = append(conds, "contains(vendor_ids, :v)")
		values[":v"] = &types.AttributeValueMemberS{Value: f.VendorID}
	}
	if f.Status != "" {
		conds = append(conds, "#s = :s")
		names["#s"] = "status"
		values[":s"] = &types.AttributeValueMemberS{Value: string(f.Status)}
	}
	if len(conds) > 0 {
		in.FilterExpression = sdkaws.String(strings.Join(conds, " AND "))
		in.ExpressionAttributeValues = values
	}
	if len(names) > 0 {
		in.ExpressionAttributeNames = names
	}

	out := make([]*orders.Order, 0)
	for {
		page, err := s.client.Scan(ctx, in)
		if err != nil {
			return nil, dynamoUnavailable("scan", err)
		}
		for _, item := range page.Items {
			o, err := unmarshalOrder(item)
			if err != nil {
				return nil, err
			}
			if f.Match(o) {
				out = append(out, o)
			}
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
	return SortNewestFirst(out, f.Limit), nil
}

func dynamoUnavailable(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w: %s: %s", op, orders.ErrStoreUnavailable, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("%s: %w: %v", op, orders.ErrStoreUnavailable, err)
}
