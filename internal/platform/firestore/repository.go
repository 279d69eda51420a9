package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot with its id.
type Document[T any] struct {
	ID   string
	Data T
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository gives typed access to one collection. Every method joins the
// transaction carried by ctx when there is one.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
}

// NewBaseRepository binds T, a struct with firestore tags, to collection.
func NewBaseRepository[T any](provider *Provider, collection string) *BaseRepository[T] {
	return &BaseRepository[T]{provider: provider, collection: strings.TrimSpace(collection)}
}

// Get loads one document.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	ref, err := r.ref(ctx, id)
	if err != nil {
		return zero, err
	}
	if state, ok := stateFrom(ctx); ok {
		if entry, hit := state.lookup(ref); hit {
			if entry.deleted {
				return zero, NotFound(r.op("get"), id)
			}
			return entry.value.(T), nil
		}
		snap, err := state.tx.Get(ref)
		if err != nil {
			return zero, WrapError(r.op("get"), err)
		}
		return decode[T](snap)
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return zero, WrapError(r.op("get"), err)
	}
	return decode[T](snap)
}

// GetAll loads the documents that exist among ids.
func (r *BaseRepository[T]) GetAll(ctx context.Context, ids []string) (map[string]T, error) {
	out := make(map[string]T, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	client, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	state, inTx := stateFrom(ctx)
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		ref := client.Collection(r.collection).Doc(id)
		if inTx {
			if entry, hit := state.lookup(ref); hit {
				if !entry.deleted {
					out[id] = entry.value.(T)
				}
				continue
			}
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return out, nil
	}
	var snaps []*firestore.DocumentSnapshot
	if inTx {
		snaps, err = state.tx.GetAll(refs)
	} else {
		snaps, err = client.GetAll(ctx, refs)
	}
	if err != nil {
		return nil, WrapError(r.op("get_all"), err)
	}
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		value, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		out[snap.Ref.ID] = value
	}
	return out, nil
}

// Set upserts a document.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value T) error {
	return r.write(ctx, writeSet, id, value)
}

// Create writes a document that must not exist yet.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value T) error {
	return r.write(ctx, writeCreate, id, value)
}

// Delete removes a document; deleting a missing document succeeds.
func (r *BaseRepository[T]) Delete(ctx context.Context, id string) error {
	var zero T
	return r.write(ctx, writeDelete, id, zero)
}

func (r *BaseRepository[T]) write(ctx context.Context, kind writeKind, id string, value T) error {
	ref, err := r.ref(ctx, id)
	if err != nil {
		return err
	}
	if state, ok := stateFrom(ctx); ok {
		if kind == writeDelete {
			state.queue(kind, ref, nil)
		} else {
			state.queue(kind, ref, value)
		}
		return nil
	}
	switch kind {
	case writeCreate:
		_, err = ref.Create(ctx, value)
	case writeDelete:
		_, err = ref.Delete(ctx)
	default:
		_, err = ref.Set(ctx, value)
	}
	return WrapError(r.op("write"), err)
}

// Query runs a query over the collection. Inside a transaction the query
// reads committed data only, so callers query before they write.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	client, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(r.collection).Query
	if build != nil {
		query = build(query)
	}

	var iter *firestore.DocumentIterator
	if state, ok := stateFrom(ctx); ok {
		iter = state.tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		value, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document[T]{ID: snap.Ref.ID, Data: value})
	}
}

func (r *BaseRepository[T]) client(ctx context.Context) (*firestore.Client, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	if r.collection == "" {
		return nil, errors.New("firestore: collection name is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, WrapError(r.op("client"), err)
	}
	return client, nil
}

func (r *BaseRepository[T]) ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%s: document id is required", r.op("ref"))
	}
	client, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection).Doc(id), nil
}

func (r *BaseRepository[T]) op(action string) string {
	return r.collection + "." + action
}

func decode[T any](snap *firestore.DocumentSnapshot) (T, error) {
	var target T
	if err := snap.DataTo(&target); err != nil {
		return target, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return target, nil
}
