package firestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

var tracer = otel.Tracer("github.com/vinuvisthara/api/internal/platform/firestore")

type txKey struct{}

// txState is the per-attempt transaction scope. Firestore rejects reads
// issued after a write, so writes are buffered and applied when fn returns;
// reads of a document written earlier in the same attempt see the buffered
// value.
type txState struct {
	tx *firestore.Transaction

	mu      sync.Mutex
	overlay map[string]overlayEntry
	writes  []pendingWrite
}

type overlayEntry struct {
	value   any
	deleted bool
}

type writeKind int

const (
	writeSet writeKind = iota
	writeCreate
	writeDelete
)

type pendingWrite struct {
	kind  writeKind
	ref   *firestore.DocumentRef
	value any
}

func (s *txState) lookup(ref *firestore.DocumentRef) (overlayEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.overlay[ref.Path]
	return entry, ok
}

func (s *txState) queue(kind writeKind, ref *firestore.DocumentRef, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, pendingWrite{kind: kind, ref: ref, value: value})
	s.overlay[ref.Path] = overlayEntry{value: value, deleted: kind == writeDelete}
}

func (s *txState) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.writes {
		var err error
		switch w.kind {
		case writeSet:
			err = s.tx.Set(w.ref, w.value)
		case writeCreate:
			err = s.tx.Create(w.ref, w.value)
		case writeDelete:
			err = s.tx.Delete(w.ref)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func stateFrom(ctx context.Context) (*txState, bool) {
	state, ok := ctx.Value(txKey{}).(*txState)
	return state, ok && state != nil
}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := stateFrom(ctx)
	return ok
}

// UnitOfWork runs repository calls inside one Firestore transaction. It
// implements repositories.UnitOfWork.
type UnitOfWork struct {
	provider *Provider
	attempts int
	timeout  time.Duration
}

// TxOption customises transaction behaviour.
type TxOption func(*UnitOfWork)

// WithTxAttempts overrides how many times a contended transaction is retried.
func WithTxAttempts(attempts int) TxOption {
	return func(u *UnitOfWork) {
		if attempts > 0 {
			u.attempts = attempts
		}
	}
}

// WithTxTimeout bounds each transaction.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(u *UnitOfWork) {
		if timeout > 0 {
			u.timeout = timeout
		}
	}
}

// NewUnitOfWork binds a unit of work to provider.
func NewUnitOfWork(provider *Provider, opts ...TxOption) *UnitOfWork {
	u := &UnitOfWork{provider: provider, attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u
}

// RunInTx executes fn in a transaction. Nested calls join the outer one.
// Errors returned by fn are returned unchanged; Firestore failures are
// classified with WrapError.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore: transaction function is nil")
	}
	if InTransaction(ctx) {
		return fn(ctx)
	}
	client, err := u.provider.Client(ctx)
	if err != nil {
		return WrapError("transaction", err)
	}

	ctx, span := tracer.Start(ctx, "firestore.transaction", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline || time.Until(deadline) > u.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	attempts := 0
	var fnErr error
	err = client.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		attempts++
		state := &txState{tx: tx, overlay: map[string]overlayEntry{}}
		fnErr = fn(context.WithValue(txCtx, txKey{}, state))
		if fnErr != nil {
			return fnErr
		}
		return state.flush()
	}, firestore.MaxAttempts(u.attempts))

	span.SetAttributes(attribute.Int("firestore.tx.attempts", attempts))
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "transaction failed")
	if fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return WrapError("transaction", err)
}
