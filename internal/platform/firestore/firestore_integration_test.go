//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/vinuvisthara/api/internal/platform/firestore"
	"github.com/vinuvisthara/api/internal/platform/firestore/firestoretest"
)

type sampleEntity struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func TestBaseRepositoryIntegration(t *testing.T) {
	provider := firestoretest.StartEmulator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[sampleEntity](provider, "samples")
	if err := repo.Set(ctx, "sample-1", sampleEntity{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := repo.Get(ctx, "sample-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "alpha" || got.Count != 1 {
		t.Fatalf("unexpected data: %#v", got)
	}
	if err := repo.Create(ctx, "sample-1", sampleEntity{}); err == nil {
		t.Fatalf("expected create of existing document to fail")
	}

	docs, err := repo.Query(ctx, func(q firestore.Query) firestore.Query { return q.Where("name", "==", "alpha") })
	if err != nil || len(docs) != 1 || docs[0].ID != "sample-1" {
		t.Fatalf("unexpected query result %v %#v", err, docs)
	}

	many, err := repo.GetAll(ctx, []string{"sample-1", "missing"})
	if err != nil || len(many) != 1 {
		t.Fatalf("unexpected GetAll result %v %#v", err, many)
	}

	_, err = repo.Get(ctx, "missing")
	type repoClassifier interface{ IsNotFound() bool }
	var cls repoClassifier
	if !errors.As(err, &cls) || !cls.IsNotFound() {
		t.Fatalf("expected not found classification, got %v", err)
	}
}

func TestUnitOfWorkIntegration(t *testing.T) {
	provider := firestoretest.StartEmulator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[sampleEntity](provider, "samples")
	uow := pfirestore.NewUnitOfWork(provider)
	if err := repo.Set(ctx, "counter", sampleEntity{Name: "counter", Count: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := uow.RunInTx(ctx, func(ctx context.Context) error {
		entity, err := repo.Get(ctx, "counter")
		if err != nil {
			return err
		}
		entity.Count++
		if err := repo.Set(ctx, "counter", entity); err != nil {
			return err
		}
		// read after write sees the buffered value
		again, err := repo.Get(ctx, "counter")
		if err != nil {
			return err
		}
		if again.Count != 2 {
			return fmt.Errorf("expected buffered count 2, got %d", again.Count)
		}
		if _, err := repo.Get(ctx, "other"); err == nil {
			return errors.New("expected other to be missing")
		}
		return repo.Create(ctx, "other", sampleEntity{Name: "other"})
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if got, _ := repo.Get(ctx, "counter"); got.Count != 2 {
		t.Fatalf("expected committed count 2, got %d", got.Count)
	}

	sentinel := errors.New("abort")
	err = uow.RunInTx(ctx, func(ctx context.Context) error {
		if err := repo.Delete(ctx, "other"); err != nil {
			return err
		}
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected fn error returned unchanged, got %v", err)
	}
	if _, err := repo.Get(ctx, "other"); err != nil {
		t.Fatalf("expected rolled back delete, got %v", err)
	}
}

