package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	firestorepb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
)

const countAlias = "total"

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Encoder serialises the strongly typed entity prior to persistence.
type Encoder[T any] func(value T) (any, error)

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository provides typed helpers over one collection. Every method transparently joins the
// transaction carried by ctx (see RunTransaction) when there is one.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
	encode     Encoder[T]
	decode     Decoder[T]
}

// NewBaseRepository constructs a BaseRepository bound to a collection.
func NewBaseRepository[T any](provider *Provider, collection string, encode Encoder[T], decode Decoder[T]) *BaseRepository[T] {
	if encode == nil {
		encode = func(value T) (any, error) { return value, nil }
	}
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &BaseRepository[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
		encode:     encode,
		decode:     decode,
	}
}

// Create writes a new document and fails with a conflict when the ID is taken.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value T) error {
	doc, payload, err := r.prepare(ctx, id, value)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		return WrapError(r.op("create"), tx.Create(doc, payload))
	}
	_, err = doc.Create(ctx, payload)
	return WrapError(r.op("create"), err)
}

// Set upserts the given value under the provided document ID.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value T) error {
	doc, payload, err := r.prepare(ctx, id, value)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		return WrapError(r.op("set"), tx.Set(doc, payload))
	}
	_, err = doc.Set(ctx, payload)
	return WrapError(r.op("set"), err)
}

// Get fetches the document by ID and decodes it into the strongly typed entity.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}

	var snapshot *firestore.DocumentSnapshot
	if tx, ok := TxFromContext(ctx); ok {
		snapshot, err = tx.Get(doc)
	} else {
		snapshot, err = doc.Get(ctx)
	}
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	return r.decodeDocument(snapshot)
}

// Query executes a collection query and returns the decoded documents.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	query, err := r.query(ctx, build)
	if err != nil {
		return nil, err
	}

	var iter *firestore.DocumentIterator
	if tx, ok := TxFromContext(ctx); ok {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var docs []Document[T]
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		decoded, err := r.decodeDocument(snapshot)
		if err != nil {
			return nil, fmt.Errorf("firestore: decode document %s: %w", snapshot.Ref.ID, err)
		}
		docs = append(docs, decoded)
	}
	return docs, nil
}

// Count runs a count aggregation over the filtered query.
func (r *BaseRepository[T]) Count(ctx context.Context, build QueryBuilder) (int, error) {
	query, err := r.query(ctx, build)
	if err != nil {
		return 0, err
	}
	result, err := query.NewAggregationQuery().WithCount(countAlias).Get(ctx)
	if err != nil {
		return 0, WrapError(r.op("count"), err)
	}
	raw, ok := result[countAlias]
	if !ok {
		return 0, fmt.Errorf("firestore: %s count missing from aggregation result", r.collection)
	}
	value, ok := raw.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("firestore: %s count has unexpected type %T", r.collection, raw)
	}
	return int(value.GetIntegerValue()), nil
}

// DocumentRef exposes the underlying document reference for advanced scenarios such as transactions.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *BaseRepository[T]) prepare(ctx context.Context, id string, value T) (*firestore.DocumentRef, any, error) {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	payload, err := r.encode(value)
	if err != nil {
		return nil, nil, fmt.Errorf("firestore: encode document %s: %w", id, err)
	}
	return doc, payload, nil
}

func (r *BaseRepository[T]) query(ctx context.Context, build QueryBuilder) (firestore.Query, error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return firestore.Query{}, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	return query, nil
}

func (r *BaseRepository[T]) decodeDocument(snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := r.decode(snapshot)
	if err != nil {
		return Document[T]{}, err
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       entity,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}

func (r *BaseRepository[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, WrapError(r.op("collection"), errors.New("firestore: provider is nil"))
	}
	if r.collection == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) op(action string) string {
	name := "firestore"
	if r != nil && r.collection != "" {
		name = r.collection
	}
	return name + "." + action
}

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		if err := snap.DataTo(&target); err != nil {
			return target, err
		}
		return target, nil
	}
}
