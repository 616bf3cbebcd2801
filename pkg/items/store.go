// Package items is a small document store over a DynamoDB table. Each item
// keeps its JSON body as text under "data", keyed by "id".
package items

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("not found")

// DynamoDBAPI is the subset of the DynamoDB client used by Store.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Item is one stored record.
type Item struct {
	ID   string `dynamodbav:"id"`
	Data string `dynamodbav:"data"`
}

type Store struct {
	client DynamoDBAPI
	table  string
}

func NewStore(client DynamoDBAPI, table string) *Store {
	return &Store{client: client, table: table}
}

func (s *Store) key(id string) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{
		"id": &dbtypes.AttributeValueMemberS{Value: id},
	}
}

// Put writes item, replacing any item with the same id.
func (s *Store) Put(ctx context.Context, item Item) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to DynamoDB marshal item, %v", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	return err
}

// Get returns the item stored under id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Item, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(id),
	})
	if err != nil {
		return Item{}, err
	}
	if len(resp.Item) == 0 {
		return Item{}, ErrNotFound
	}

	var item Item
	if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
		return Item{}, fmt.Errorf("failed to DynamoDB unmarshal item, %v", err)
	}
	return item, nil
}

// Update overwrites the data of the item stored under id. An absent item
// is created.
func (s *Store) Update(ctx context.Context, id, data string) error {
	eb, err := expression.NewBuilder().
		WithUpdate(expression.Set(expression.Name("data"), expression.Value(data))).
		Build()
	if err != nil {
		return err
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(id),
		UpdateExpression:          eb.Update(),
		ExpressionAttributeNames:  eb.Names(),
		ExpressionAttributeValues: eb.Values(),
	})
	return err
}

// Delete removes the item stored under id. Deleting an absent item is not
// an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(id),
	})
	return err
}
