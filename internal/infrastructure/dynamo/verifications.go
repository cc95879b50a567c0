package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/otp-gateway/internal/domain"
)

// VerificationRepo provides typed DynamoDB operations for the
// verification_records table. It is the durable store of record; the
// in-memory store only substitutes for it in degraded mode.
type VerificationRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewVerificationRepo(client *dynamodb.Client, tableName string) *VerificationRepo {
	return &VerificationRepo{client: client, tableName: tableName}
}

func (r *VerificationRepo) Put(ctx context.Context, rec *domain.VerificationRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal verification record: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *VerificationRepo) Get(ctx context.Context, id string) (*domain.VerificationRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("verification_id", id),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("verification record %s: %w", id, domain.ErrNotFound)
	}
	var rec domain.VerificationRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByIdentifier returns all records for a contact address and purpose,
// newest first. The caller filters for used/expired state; legacy flows can
// return several rows per pair.
func (r *VerificationRepo) GetByIdentifier(ctx context.Context, identifier string, purpose domain.Purpose) ([]domain.VerificationRecord, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("identifier-index"),
		KeyConditionExpression: aws.String("#id = :id"),
		FilterExpression:       aws.String("#p = :p"),
		ExpressionAttributeNames: map[string]string{
			"#id": "identifier",
			"#p":  "purpose",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: identifier},
			":p":  &types.AttributeValueMemberS{Value: string(purpose)},
		},
		ScanIndexForward: aws.Bool(false), // newest first
	})
	if err != nil {
		return nil, err
	}
	var recs []domain.VerificationRecord
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Update applies a SET update to an existing record. The attribute_exists
// condition keeps an UpdateItem from upserting a phantom item when the
// record lives only in the degraded-mode store; a missing item maps to
// domain.ErrNotFound so the layered store can fall through to it.
func (r *VerificationRepo) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	ue, err := buildUpdateExpr(withUpdatedAt(updates))
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("verification_id", id),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(verification_id)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("verification record %s: %w", id, domain.ErrNotFound)
		}
		return err
	}
	return nil
}

// IncrementAttempts atomically bumps the attempt counter and returns the new
// value. The conditional expression caps the counter at max_attempts so
// parallel wrong-code submissions cannot race past the ceiling; once the
// ceiling is reached the call fails with domain.ErrMaxAttempts. A missing
// item fails the same condition, so the old item is requested on failure to
// tell the two apart: no item means domain.ErrNotFound, not exhaustion.
func (r *VerificationRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("verification_id", id),
		UpdateExpression:    aws.String("SET attempts = attempts + :one, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(verification_id) AND attempts < max_attempts"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ReturnValues:                        types.ReturnValueUpdatedNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		return 0, condFailErr(err, id, domain.ErrMaxAttempts)
	}
	n, ok := out.Attributes["attempts"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attempts attribute missing from update response")
	}
	attempts, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("parse attempts: %w", err)
	}
	return attempts, nil
}

// MarkUsed flips the used flag with a conditional update so two concurrent
// verifies with the correct code cannot both succeed. Returns
// domain.ErrAlreadyUsed when the flag was already set, and
// domain.ErrNotFound when the item does not exist here at all.
func (r *VerificationRepo) MarkUsed(ctx context.Context, id string, verifiedAt time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("verification_id", id),
		UpdateExpression:    aws.String("SET used = :t, verified_at = :at, updated_at = :at"),
		ConditionExpression: aws.String("attribute_exists(verification_id) AND used = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":  &types.AttributeValueMemberBOOL{Value: true},
			":f":  &types.AttributeValueMemberBOOL{Value: false},
			":at": &types.AttributeValueMemberS{Value: verifiedAt.UTC().Format(time.RFC3339Nano)},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		return condFailErr(err, id, domain.ErrAlreadyUsed)
	}
	return nil
}

// withUpdatedAt copies the update set and stamps updated_at on the copy;
// the caller's map is left alone.
func withUpdatedAt(updates map[string]interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		fields[k] = v
	}
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	return fields
}

// condFailErr resolves a conditional-update failure to the right domain
// error. DynamoDB raises the same ConditionalCheckFailedException whether
// the item is missing or the state condition failed; the old item attached
// to the exception disambiguates: an empty item means the record was never
// in this table, which matters when it lives in the degraded-mode store.
func condFailErr(err error, id string, conflict error) error {
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return err
	}
	if len(ccf.Item) == 0 {
		return fmt.Errorf("verification record %s: %w", id, domain.ErrNotFound)
	}
	return conflict
}

func (r *VerificationRepo) Delete(ctx context.Context, id string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("verification_id", id),
	})
	return err
}

// DeleteExpired best-effort removes records whose purge deadline has passed.
// The table TTL does the same job asynchronously; this sweep just tightens
// the bound. Returns the number of records removed.
func (r *VerificationRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:            aws.String(r.tableName),
		FilterExpression:     aws.String("purge_at < :now"),
		ProjectionExpression: aws.String("verification_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, item := range out.Items {
		idAttr, ok := item["verification_id"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		if err := r.Delete(ctx, idAttr.Value); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
