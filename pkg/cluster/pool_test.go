package cluster

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/logging"
	"github.com/pay-theory/aerokit/pkg/mocks"
	"github.com/pay-theory/aerokit/pkg/protection"
)

func newTestPool(transport *mocks.MockTransport, limits protection.Limits) *Pool {
	cfg := DefaultPoolConfig()
	cfg.Limits = limits
	return NewPool(transport, cfg, logging.Discard())
}

func TestPoolReusesConnections(t *testing.T) {
	transport := new(mocks.MockTransport)
	conn := new(mocks.MockConn)
	transport.On("Open", mock.Anything).Return(conn, nil).Once()
	conn.On("Close").Return(nil)

	p := newTestPool(transport, protection.Limits{MaxConcurrentCommands: 4})

	lease, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, conn, lease.Conn())
	assert.Equal(t, PoolStats{Open: 1, Idle: 0, InUse: 1}, p.Stats())

	lease.Release()
	lease.Release()
	assert.Equal(t, PoolStats{Open: 1, Idle: 1, InUse: 0}, p.Stats())

	again, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, conn, again.Conn())
	again.Release()

	require.NoError(t, p.Close())
	assert.Equal(t, 0, p.Stats().Open)
	transport.AssertExpectations(t)
	conn.AssertExpectations(t)
}

func TestPoolDiscard(t *testing.T) {
	transport := new(mocks.MockTransport)
	first, second := new(mocks.MockConn), new(mocks.MockConn)
	transport.On("Open", mock.Anything).Return(first, nil).Once()
	transport.On("Open", mock.Anything).Return(second, nil).Once()
	first.On("Close").Return(nil).Once()

	p := newTestPool(transport, protection.Limits{})

	lease, err := p.Get(context.Background())
	require.NoError(t, err)
	lease.Discard()
	assert.Equal(t, 0, p.Stats().Open)

	lease, err = p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, second, lease.Conn())
	first.AssertExpectations(t)
}

func TestPoolOpenFailure(t *testing.T) {
	transport := new(mocks.MockTransport)
	transport.On("Open", mock.Anything).Return(nil, stderrors.New("refused"))

	p := newTestPool(transport, protection.Limits{MaxConcurrentCommands: 1})

	_, err := p.Get(context.Background())
	assert.ErrorIs(t, err, errors.ErrConnection)
	assert.Equal(t, 0, p.Stats().Open)
	assert.Equal(t, int64(0), p.Protector().Stats().ConcurrentCommands)
}

func TestPoolClosed(t *testing.T) {
	p := newTestPool(new(mocks.MockTransport), protection.Limits{})
	require.NoError(t, p.Close())

	_, err := p.Get(context.Background())
	assert.ErrorIs(t, err, errors.ErrClientClosed)
}

func TestLeaseAbandonDrain(t *testing.T) {
	transport := new(mocks.MockTransport)
	conn := new(mocks.MockConn)
	transport.On("Open", mock.Anything).Return(conn, nil).Once()
	conn.On("Drain", mock.Anything).Return(nil).Once()
	conn.On("Close").Return(nil)

	p := newTestPool(transport, protection.Limits{MaxConcurrentCommands: 1})

	lease, err := p.Get(context.Background())
	require.NoError(t, err)

	inflight := make(chan struct{})
	lease.Abandon(true, inflight)

	// the slot is free before the connection settles
	next, err := p.Protector().Acquire(context.Background())
	require.NoError(t, err)
	next()

	close(inflight)
	require.Eventually(t, func() bool { return p.Stats().Idle == 1 }, time.Second, 5*time.Millisecond)
	conn.AssertCalled(t, "Drain", mock.Anything)
	require.NoError(t, p.Close())
}

func TestLeaseAbandonDrainFailureDiscards(t *testing.T) {
	transport := new(mocks.MockTransport)
	conn := new(mocks.MockConn)
	transport.On("Open", mock.Anything).Return(conn, nil).Once()
	conn.On("Drain", mock.Anything).Return(stderrors.New("garbled")).Once()
	conn.On("Close").Return(nil).Once()

	p := newTestPool(transport, protection.Limits{})
	lease, err := p.Get(context.Background())
	require.NoError(t, err)

	inflight := make(chan struct{})
	close(inflight)
	lease.Abandon(true, inflight)

	require.NoError(t, p.Close())
	assert.Equal(t, 0, p.Stats().Open)
	conn.AssertExpectations(t)
}

func TestLeaseAbandonDiscard(t *testing.T) {
	transport := new(mocks.MockTransport)
	conn := new(mocks.MockConn)
	transport.On("Open", mock.Anything).Return(conn, nil).Once()
	conn.On("Close").Return(nil).Once()

	p := newTestPool(transport, protection.Limits{})
	lease, err := p.Get(context.Background())
	require.NoError(t, err)

	lease.Abandon(false, make(chan struct{}))
	assert.Equal(t, 0, p.Stats().Open)
	conn.AssertNotCalled(t, "Drain", mock.Anything)
	conn.AssertExpectations(t)
}

func TestIdleTimeout(t *testing.T) {
	transport := new(mocks.MockTransport)
	stale, fresh := new(mocks.MockConn), new(mocks.MockConn)
	transport.On("Open", mock.Anything).Return(stale, nil).Once()
	transport.On("Open", mock.Anything).Return(fresh, nil).Once()
	stale.On("Close").Return(nil).Once()

	p := newTestPool(transport, protection.Limits{})
	now := time.Unix(1000, 0)
	p.now = func() time.Time { return now }

	lease, err := p.Get(context.Background())
	require.NoError(t, err)
	lease.Release()

	now = now.Add(time.Hour)
	lease, err = p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, fresh, lease.Conn())
	assert.Equal(t, 1, p.Stats().Open)
	stale.AssertExpectations(t)
}
