package mocks

import (
	"context"
	"io"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/types"
)

// MockTransport is a mock implementation of core.Transport.
type MockTransport struct {
	mock.Mock
}

// Open returns the connection configured with On("Open", ...)
func (m *MockTransport) Open(ctx context.Context) (core.Conn, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(core.Conn), args.Error(1)
}

// MockConn is a mock implementation of core.Conn.
type MockConn struct {
	mock.Mock
}

// Exchange sends a key or batch request
func (m *MockConn) Exchange(ctx context.Context, req *core.Request) (*core.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.Response), args.Error(1)
}

// Stream sends a query or scan request
func (m *MockConn) Stream(ctx context.Context, req *core.Request) (core.RecordStream, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(core.RecordStream), args.Error(1)
}

// Drain discards an in-flight response
func (m *MockConn) Drain(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Close closes the connection
func (m *MockConn) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockRecordStream is a mock implementation of core.RecordStream.
type MockRecordStream struct {
	mock.Mock
}

// Next returns the next record
func (m *MockRecordStream) Next(ctx context.Context) (*types.Record, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Record), args.Error(1)
}

// Close closes the stream
func (m *MockRecordStream) Close() error {
	args := m.Called()
	return args.Error(0)
}

// SliceStream is a core.RecordStream over a fixed set of records.
type SliceStream struct {
	mu      sync.Mutex
	records []*types.Record
	pos     int
	err     error
	closed  bool
}

// NewRecordStream serves records in order and then io.EOF.
func NewRecordStream(records ...*types.Record) *SliceStream {
	return &SliceStream{records: records}
}

// NewFailingStream serves records in order and then err.
func NewFailingStream(err error, records ...*types.Record) *SliceStream {
	return &SliceStream{records: records, err: err}
}

// Next returns the next record, io.EOF when done
func (s *SliceStream) Next(ctx context.Context) (*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, io.EOF
	}
	if s.pos >= len(s.records) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

// Close marks the stream done
func (s *SliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called
func (s *SliceStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Delivered returns how many records Next has returned
func (s *SliceStream) Delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}
