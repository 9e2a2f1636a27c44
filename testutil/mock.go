package testutil

import (
	"context"
	"sync"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/record"
	"github.com/c360/citystreams/schema"
	"github.com/c360/citystreams/storage"
)

// AppendCall is one successful Append on a MockAppender.
type AppendCall struct {
	Kind    schema.StreamKind
	Records []record.Record
	Offset  int64
}

// MockAppender records appended batches and can be told to fail.
// Thread-safe for concurrent use.
type MockAppender struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	batches  []AppendCall

	// AppendFunc, when set, runs before the call is recorded. A non-nil
	// error fails the call.
	AppendFunc func(ctx context.Context, kind schema.StreamKind, offset int64) error
}

// NewMockAppender creates a MockAppender that accepts everything.
func NewMockAppender() *MockAppender {
	return &MockAppender{}
}

// FailNext makes the next n Append calls return err. A nil err fails with
// a transient sink error.
func (m *MockAppender) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = errors.SinkFailure(errors.ErrStorageUnavailable, "MockAppender", "Append", "write batch")
	}
	m.failures = n
	m.err = err
}

// Append implements sink.Appender.
func (m *MockAppender) Append(ctx context.Context, kind schema.StreamKind, batch []record.Record, offset int64) error {
	m.mu.Lock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		err := m.err
		m.mu.Unlock()
		return err
	}
	hook := m.AppendFunc
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, kind, offset); err != nil {
			return err
		}
	}
	if len(batch) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	recs := make([]record.Record, len(batch))
	copy(recs, batch)
	m.batches = append(m.batches, AppendCall{Kind: kind, Records: recs, Offset: offset})
	return nil
}

// Calls returns the number of Append calls, failed ones included.
func (m *MockAppender) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Batches returns the recorded non-empty batches in order.
func (m *MockAppender) Batches() []AppendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AppendCall, len(m.batches))
	copy(out, m.batches)
	return out
}

// Records returns every recorded record across batches.
func (m *MockAppender) Records() []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []record.Record
	for _, b := range m.batches {
		out = append(out, b.Records...)
	}
	return out
}

// FlakyStore wraps a storage.Store and fails a configured number of
// Put or Get calls with errors.ErrStorageUnavailable.
type FlakyStore struct {
	storage.Store

	mu      sync.Mutex
	putErrs int
	getErrs int
	puts    int
}

// NewFlakyStore wraps inner. A nil inner uses a fresh memory store.
func NewFlakyStore(inner storage.Store) *FlakyStore {
	if inner == nil {
		inner = storage.NewMemoryStore()
	}
	return &FlakyStore{Store: inner}
}

// FailPuts makes the next n Put calls fail.
func (f *FlakyStore) FailPuts(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErrs = n
}

// FailGets makes the next n Get calls fail.
func (f *FlakyStore) FailGets(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErrs = n
}

// Puts returns the number of Put calls, failed ones included.
func (f *FlakyStore) Puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

// Put implements storage.Store.
func (f *FlakyStore) Put(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	f.puts++
	fail := f.putErrs > 0
	if fail {
		f.putErrs--
	}
	f.mu.Unlock()

	if fail {
		return errors.WrapTransient(errors.ErrStorageUnavailable, "FlakyStore", "Put", "write "+key)
	}
	return f.Store.Put(ctx, key, data)
}

// Get implements storage.Store.
func (f *FlakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	fail := f.getErrs > 0
	if fail {
		f.getErrs--
	}
	f.mu.Unlock()

	if fail {
		return nil, errors.WrapTransient(errors.ErrStorageUnavailable, "FlakyStore", "Get", "read "+key)
	}
	return f.Store.Get(ctx, key)
}
