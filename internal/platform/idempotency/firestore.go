package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/vinuvisthara/api/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore keeps keys in a Firestore collection. Configure a TTL policy
// on expires_at so expired documents are purged server side.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore binds the store to provider.
func NewFirestoreStore(provider *pfirestore.Provider) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	return &FirestoreStore{provider: provider, collection: defaultCollection}, nil
}

type keyDocument struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Completed   bool                `firestore:"completed"`
	Status      int                 `firestore:"status"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	ExpiresAt   time.Time           `firestore:"expires_at"`
}

func (d keyDocument) toRecord() Record {
	return Record{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		Completed:   d.Completed,
		Status:      d.Status,
		Header:      d.Header,
		Body:        d.Body,
		ExpiresAt:   d.ExpiresAt,
	}
}

// Reserve implements Store inside a Firestore transaction.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return StatePending, Record{}, err
	}
	ref := client.Collection(s.collection).Doc(documentID(key))
	state, record := StateNew, Record{}
	err = client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var doc keyDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if now.Before(doc.ExpiresAt) {
				if doc.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				state, record = StatePending, doc.toRecord()
				if doc.Completed {
					state = StateCompleted
				}
				return nil
			}
		}
		doc := keyDocument{Key: key, Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}
		state, record = StateNew, doc.toRecord()
		return tx.Set(ref, doc)
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return StatePending, Record{}, err
	}
	if err != nil {
		return StatePending, Record{}, pfirestore.WrapError("idempotency.reserve", err)
	}
	return state, record, nil
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, record Record) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	doc := keyDocument{
		Key:         record.Key,
		Fingerprint: record.Fingerprint,
		Completed:   true,
		Status:      record.Status,
		Header:      record.Header,
		Body:        record.Body,
		ExpiresAt:   record.ExpiresAt,
	}
	_, err = client.Collection(s.collection).Doc(documentID(record.Key)).Set(ctx, doc)
	return pfirestore.WrapError("idempotency.complete", err)
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(s.collection).Doc(documentID(key)).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return pfirestore.WrapError("idempotency.release", err)
}
