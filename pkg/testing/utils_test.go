package testing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerotesting "github.com/pay-theory/aerokit/pkg/testing"
	"github.com/pay-theory/aerokit/pkg/types"
)

func TestNewEnvSeeds(t *testing.T) {
	env := aerotesting.NewEnv(t)
	keys := env.Seed(t, "users", 3, func(i int) types.BinMap {
		return types.BinMap{"i": types.IntValue(int64(i))}
	})

	require.Len(t, keys, 3)
	assert.Equal(t, 3, env.Cluster.Len(aerotesting.Namespace, "users"))

	rec, err := env.Client.Get(context.Background(), nil, keys[2])
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Bin("i").AsInt())
}

func TestTrackingLock(t *testing.T) {
	var l aerotesting.TrackingLock
	l.Lock()
	assert.True(t, l.Held())
	assert.False(t, l.TryLock())
	l.Unlock()
	assert.False(t, l.Held())
	assert.Equal(t, int64(1), l.Releases())
	assert.True(t, l.TryLock())
	l.Unlock()
}
