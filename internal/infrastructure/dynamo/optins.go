package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/pkg/id"
	"github.com/go-doubleoptin/internal/pkg/token"
)

// API is the subset of the DynamoDB client the repositories call.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Attribute names shared by expressions below.
const (
	fieldID          = "id"
	fieldHash        = "hash"
	fieldEmail       = "email"
	fieldFormID      = "cf_form_id"
	fieldCategory    = "category"
	fieldConfirmed   = "doubleoptin"
	fieldIPConfirm   = "ipaddr_confirmation"
	fieldUpdateTime  = "updatetime"
	batchWriteLimit  = 25
	unprocessedRetry = 3
)

// optInRow is the stored item. Column names follow the optins table layout
// shared with the Postgres store.
type optInRow struct {
	ID             string   `dynamodbav:"id"`
	FormID         string   `dynamodbav:"cf_form_id"`
	FormType       string   `dynamodbav:"form_type"`
	Confirmed      int      `dynamodbav:"doubleoptin"`
	Content        string   `dynamodbav:"content"`
	Files          []string `dynamodbav:"files"`
	Hash           string   `dynamodbav:"hash"`
	IPRegister     string   `dynamodbav:"ipaddr_register"`
	IPConfirmation string   `dynamodbav:"ipaddr_confirmation"`
	IPOptOut       string   `dynamodbav:"ipaddr_optout"`
	CreateTime     string   `dynamodbav:"createtime"`
	UpdateTime     string   `dynamodbav:"updatetime"`
	OptOutTime     string   `dynamodbav:"optouttime"`
	// Index key attributes may not be empty strings.
	Category       string `dynamodbav:"category,omitempty"`
	Email          string `dynamodbav:"email,omitempty"`
	Form           string `dynamodbav:"form"`
	MailOptIn      string `dynamodbav:"mail_optin"`
	ConsentText    string `dynamodbav:"consent_text"`
	ReminderSentAt string `dynamodbav:"reminder_sent_at"`
	MailReminder   string `dynamodbav:"mail_reminder"`
}

func toRow(o *domain.OptIn) optInRow {
	r := optInRow{
		ID: o.ID, FormID: o.FormID, FormType: o.FormType, Content: o.Content, Files: o.Files,
		Hash: o.Hash, IPRegister: o.IPRegister, IPConfirmation: o.IPConfirmation, IPOptOut: o.IPOptOut,
		CreateTime: formatTime(o.CreateTime), UpdateTime: formatTime(o.UpdateTime),
		OptOutTime: formatTime(o.OptOutTime), Category: o.Category, Email: o.Email, Form: o.Form,
		MailOptIn: o.MailOptIn, ConsentText: o.ConsentText,
		ReminderSentAt: formatTime(o.ReminderSentAt), MailReminder: o.MailReminder,
	}
	if o.Confirmed {
		r.Confirmed = 1
	}
	if r.Files == nil {
		r.Files = []string{}
	}
	return r
}

func (r optInRow) toDomain() domain.OptIn {
	return domain.OptIn{
		ID: r.ID, FormID: r.FormID, FormType: r.FormType, Category: r.Category,
		Confirmed: r.Confirmed == 1, Content: r.Content, Files: r.Files, Hash: r.Hash,
		IPRegister: r.IPRegister, IPConfirmation: r.IPConfirmation, IPOptOut: r.IPOptOut,
		Email: r.Email, Form: r.Form, MailOptIn: r.MailOptIn, MailReminder: r.MailReminder,
		ConsentText: r.ConsentText, CreateTime: parseTime(r.CreateTime), UpdateTime: parseTime(r.UpdateTime),
		OptOutTime: parseTime(r.OptOutTime), ReminderSentAt: parseTime(r.ReminderSentAt),
	}
}

// OptInRepo stores opt-in records in a single DynamoDB table keyed by ULID,
// with hash-index, email-index, category-index and form-index GSIs.
type OptInRepo struct {
	client    API
	tableName string
	now       func() time.Time
}

func NewOptInRepo(client API, tableName string) *OptInRepo {
	return &OptInRepo{client: client, tableName: tableName, now: time.Now}
}

func (r *OptInRepo) FindByID(ctx context.Context, optInID string) (*domain.OptIn, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldID, optInID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("opt-in %s: %w", optInID, domain.ErrNotFound)
	}
	return unmarshalOne(out.Item)
}

func (r *OptInRepo) FindByHash(ctx context.Context, hash string) (*domain.OptIn, error) {
	items, err := r.queryIndex(ctx, "hash-index", fieldHash, hash, nil)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("opt-in hash: %w", domain.ErrNotFound)
	}
	return &items[0], nil
}

func (r *OptInRepo) FindByEmail(ctx context.Context, email string) ([]domain.OptIn, error) {
	return r.queryIndex(ctx, "email-index", fieldEmail, email, nil)
}

func (r *OptInRepo) FindConfirmedByEmail(ctx context.Context, email string) ([]domain.OptIn, error) {
	return r.queryIndex(ctx, "email-index", fieldEmail, email, func(o *domain.OptIn) bool { return o.Confirmed })
}

func (r *OptInRepo) FindUnconfirmedByEmail(ctx context.Context, email string) ([]domain.OptIn, error) {
	return r.queryIndex(ctx, "email-index", fieldEmail, email, func(o *domain.OptIn) bool { return !o.Confirmed })
}

// FindByCategory pages through a category, newest first. An empty category
// lists every record.
func (r *OptInRepo) FindByCategory(ctx context.Context, category string, page, perPage int) (*domain.OptInPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	var (
		items []domain.OptIn
		err   error
	)
	if category == "" {
		items, err = r.scanAll(ctx, nil)
	} else {
		items, err = r.queryIndex(ctx, "category-index", fieldCategory, category, nil)
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreateTime.After(items[j].CreateTime) })

	res := &domain.OptInPage{Items: []domain.OptIn{}, Total: len(items), Page: page, PerPage: perPage}
	start := (page - 1) * perPage
	if start < len(items) {
		end := start + perPage
		if end > len(items) {
			end = len(items)
		}
		res.Items = items[start:end]
	}
	return res, nil
}

func (r *OptInRepo) CountByCategory(ctx context.Context, category string) (int, error) {
	if category == "" {
		items, err := r.scanAll(ctx, nil)
		return len(items), err
	}
	return r.countIndex(ctx, "category-index", fieldCategory, category)
}

func (r *OptInRepo) CountByFormID(ctx context.Context, formID string) (int, error) {
	return r.countIndex(ctx, "form-index", fieldFormID, formID)
}

// Save inserts a record without an ID, assigning ID then hash, or replaces an
// existing one. Replacement never clears the confirmed flag or changes the hash.
func (r *OptInRepo) Save(ctx context.Context, o *domain.OptIn) error {
	now := r.now().UTC()
	if o.IsNew() {
		return r.insert(ctx, o, now)
	}
	row := toRow(o)
	row.UpdateTime = formatTime(now)
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return fmt.Errorf("marshal opt-in: %w", errors.Join(domain.ErrPersistence, err))
	}
	newConfirmed := 0
	if o.Confirmed {
		newConfirmed = 1
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("#h = :h AND (#c = :zero OR :new = :one)"),
		ExpressionAttributeNames: map[string]string{
			"#h": fieldHash, "#c": fieldConfirmed,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": strVal(o.Hash), ":zero": numVal(0), ":one": numVal(1), ":new": numVal(newConfirmed),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("update opt-in %s: %w", o.ID, errors.Join(domain.ErrPersistence, domain.ErrConflict))
		}
		return fmt.Errorf("update opt-in %s: %w", o.ID, errors.Join(domain.ErrPersistence, err))
	}
	o.UpdateTime = now
	return nil
}

func (r *OptInRepo) insert(ctx context.Context, o *domain.OptIn, now time.Time) error {
	newID := id.NewAt(now)
	hash, err := token.NewOptInHash(newID)
	if err != nil {
		return fmt.Errorf("insert opt-in: %w", errors.Join(domain.ErrPersistence, err))
	}
	row := toRow(o)
	row.ID, row.Hash = newID, hash
	if o.CreateTime.IsZero() {
		row.CreateTime = formatTime(now)
	}
	row.UpdateTime = formatTime(now)

	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return fmt.Errorf("marshal opt-in: %w", errors.Join(domain.ErrPersistence, err))
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": fieldID},
	})
	if err != nil {
		return fmt.Errorf("insert opt-in: %w", errors.Join(domain.ErrPersistence, err))
	}
	o.ID, o.Hash = newID, hash
	o.CreateTime, o.UpdateTime = parseTime(row.CreateTime), now
	return nil
}

// Confirm flips doubleoptin from 0 to 1. Losing the race yields ErrAlreadyConfirmed.
func (r *OptInRepo) Confirm(ctx context.Context, optInID, ip string, at time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldConfirmed:  1,
		fieldIPConfirm:  ip,
		fieldUpdateTime: formatTime(at),
	})
	if err != nil {
		return err
	}
	ue.Names["#id"] = fieldID
	ue.Names["#cond"] = fieldConfirmed
	ue.Values[":zero"] = numVal(0)
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldID, optInID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#id) AND #cond = :zero"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("confirm opt-in %s: %w", optInID, domain.ErrAlreadyConfirmed)
		}
		return fmt.Errorf("confirm opt-in %s: %w", optInID, errors.Join(domain.ErrPersistence, err))
	}
	return nil
}

func (r *OptInRepo) Delete(ctx context.Context, optInID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldID, optInID),
	})
	if err != nil {
		return fmt.Errorf("delete opt-in %s: %w", optInID, errors.Join(domain.ErrPersistence, err))
	}
	return nil
}

func (r *OptInRepo) DeleteByHash(ctx context.Context, hash string) error {
	o, err := r.FindByHash(ctx, hash)
	if err != nil {
		return err
	}
	return r.Delete(ctx, o.ID)
}

// BulkUpdateCategory moves every record of one category to another and
// returns how many were moved.
func (r *OptInRepo) BulkUpdateCategory(ctx context.Context, from, to string) (int, error) {
	var (
		items []domain.OptIn
		err   error
	)
	if from == "" {
		items, err = r.scanAll(ctx, func(o *domain.OptIn) bool { return o.Category == "" })
	} else {
		items, err = r.queryIndex(ctx, "category-index", fieldCategory, from, nil)
	}
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, o := range items {
		in := &dynamodb.UpdateItemInput{
			TableName:                aws.String(r.tableName),
			Key:                      strKey(fieldID, o.ID),
			ExpressionAttributeNames: map[string]string{"#cat": fieldCategory},
		}
		if to == "" {
			in.UpdateExpression = aws.String("REMOVE #cat")
		} else {
			in.UpdateExpression = aws.String("SET #cat = :cat")
			in.ExpressionAttributeValues = map[string]types.AttributeValue{":cat": strVal(to)}
		}
		if _, err := r.client.UpdateItem(ctx, in); err != nil {
			return moved, fmt.Errorf("move category of %s: %w", o.ID, errors.Join(domain.ErrPersistence, err))
		}
		moved++
	}
	return moved, nil
}

// DeleteOlderThan removes records of the given confirmation state created
// before the cutoff. It returns how many were deleted and the file keys of
// the batches that went through.
func (r *OptInRepo) DeleteOlderThan(ctx context.Context, before time.Time, confirmed bool) (int, []string, error) {
	items, err := r.scanAll(ctx, func(o *domain.OptIn) bool {
		return o.Confirmed == confirmed && !o.CreateTime.IsZero() && o.CreateTime.Before(before)
	})
	if err != nil {
		return 0, nil, err
	}
	deleted := 0
	var files []string
	for start := 0; start < len(items); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(items) {
			end = len(items)
		}
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, o := range items[start:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: strKey(fieldID, o.ID)}})
		}
		n, err := r.batchDelete(ctx, reqs)
		deleted += n
		if err != nil {
			return deleted, files, err
		}
		if n == len(reqs) {
			for _, o := range items[start:end] {
				files = append(files, o.Files...)
			}
		}
	}
	return deleted, files, nil
}

func (r *OptInRepo) batchDelete(ctx context.Context, reqs []types.WriteRequest) (int, error) {
	pending := reqs
	for attempt := 0; attempt < unprocessedRetry && len(pending) > 0; attempt++ {
		out, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{r.tableName: pending},
		})
		if err != nil {
			return len(reqs) - len(pending), fmt.Errorf("batch delete: %w", errors.Join(domain.ErrPersistence, err))
		}
		pending = out.UnprocessedItems[r.tableName]
	}
	return len(reqs) - len(pending), nil
}

// FindEligibleForReminder returns unconfirmed, not opted-out records without a
// reminder whose age lies between delay and safetyFloor, oldest first.
func (r *OptInRepo) FindEligibleForReminder(ctx context.Context, now time.Time, delay, safetyFloor time.Duration, limit int) ([]domain.OptIn, error) {
	latest := now.Add(-delay)
	earliest := now.Add(-safetyFloor)
	items, err := r.scanAll(ctx, func(o *domain.OptIn) bool {
		return !o.Confirmed && !o.IsOptedOut() && !o.HasReminder() &&
			!o.CreateTime.Before(earliest) && !o.CreateTime.After(latest)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreateTime.Before(items[j].CreateTime) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// ExistsByEmailAndFormID ignores opted-out records.
func (r *OptInRepo) ExistsByEmailAndFormID(ctx context.Context, email, formID string, confirmedOnly bool) (bool, error) {
	items, err := r.queryIndex(ctx, "email-index", fieldEmail, email, func(o *domain.OptIn) bool {
		return o.FormID == formID && !o.IsOptedOut() && (!confirmedOnly || o.Confirmed)
	})
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

func (r *OptInRepo) queryIndex(ctx context.Context, index, attr, value string, keep func(*domain.OptIn) bool) ([]domain.OptIn, error) {
	if strings.TrimSpace(value) == "" {
		return []domain.OptIn{}, nil
	}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#a = :v"),
		ExpressionAttributeNames:  map[string]string{"#a": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": strVal(value)},
	}
	res := []domain.OptIn{}
	for {
		out, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		if res, err = appendRows(res, out.Items, keep); err != nil {
			return nil, err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return res, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (r *OptInRepo) countIndex(ctx context.Context, index, attr, value string) (int, error) {
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#a = :v"),
		ExpressionAttributeNames:  map[string]string{"#a": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": strVal(value)},
		Select:                    types.SelectCount,
	}
	total := 0
	for {
		out, err := r.client.Query(ctx, input)
		if err != nil {
			return 0, err
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (r *OptInRepo) scanAll(ctx context.Context, keep func(*domain.OptIn) bool) ([]domain.OptIn, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(r.tableName)}
	res := []domain.OptIn{}
	for {
		out, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, err
		}
		if res, err = appendRows(res, out.Items, keep); err != nil {
			return nil, err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return res, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func appendRows(dst []domain.OptIn, items []map[string]types.AttributeValue, keep func(*domain.OptIn) bool) ([]domain.OptIn, error) {
	var rows []optInRow
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		o := row.toDomain()
		if keep == nil || keep(&o) {
			dst = append(dst, o)
		}
	}
	return dst, nil
}

func unmarshalOne(item map[string]types.AttributeValue) (*domain.OptIn, error) {
	var row optInRow
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return nil, err
	}
	o := row.toDomain()
	return &o, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
