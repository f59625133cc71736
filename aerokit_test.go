package aerokit_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/aerokit"
	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/exp"
	"github.com/pay-theory/aerokit/pkg/memcluster"
	"github.com/pay-theory/aerokit/pkg/policy"
	"github.com/pay-theory/aerokit/pkg/query"
	"github.com/pay-theory/aerokit/pkg/session"
	aerotesting "github.com/pay-theory/aerokit/pkg/testing"
	"github.com/pay-theory/aerokit/pkg/types"
)

func userBins(i int) types.BinMap {
	return types.BinMap{
		"name": types.StringValue(fmt.Sprintf("user-%d", i)),
		"age":  types.IntValue(int64(i * 10)),
	}
}

func ages(recs []*types.Record) []int64 {
	out := make([]int64, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Bin("age").AsInt())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := aerokit.New(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestPutGet(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	k := aerotesting.Key(t, "users", "alice")

	require.NoError(t, env.Client.Put(ctx, nil, k, types.BinMap{
		"name": types.StringValue("alice"),
		"age":  types.IntValue(31),
	}))

	rec, err := env.Client.Get(ctx, nil, k)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Bin("name").AsString())
	assert.Equal(t, int64(31), rec.Bin("age").AsInt())
	assert.Equal(t, uint32(1), rec.Generation)

	rec, err = env.Client.Get(ctx, nil, k, "age")
	require.NoError(t, err)
	assert.Len(t, rec.Bins, 1)

	head, err := env.Client.GetHeader(ctx, nil, k)
	require.NoError(t, err)
	assert.Empty(t, head.Bins)
	assert.Equal(t, uint32(1), head.Generation)

	ok, err := env.Client.Exists(ctx, nil, k)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMissingRecord(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	k := aerotesting.Key(t, "users", "nobody")

	_, err := env.Client.Get(ctx, nil, k)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	var ae *errors.AerokitError
	require.True(t, stderrors.As(err, &ae))
	assert.Equal(t, "test", ae.Namespace)
	assert.NotEmpty(t, ae.Context["request_id"])

	ok, err := env.Client.Exists(ctx, nil, k)
	require.NoError(t, err)
	assert.False(t, ok)

	existed, err := env.Client.Delete(ctx, nil, k)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestWriteOperations(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	c := env.Client
	k := aerotesting.Key(t, "users", "bob")

	require.NoError(t, c.Put(ctx, nil, k, types.BinMap{"name": types.StringValue("bob"), "visits": types.IntValue(1)}))
	require.NoError(t, c.Append(ctx, nil, k, types.BinMap{"name": types.StringValue("by")}))
	require.NoError(t, c.Prepend(ctx, nil, k, types.BinMap{"name": types.StringValue("mr ")}))
	require.NoError(t, c.Add(ctx, nil, k, types.BinMap{"visits": types.IntValue(4)}))

	rec, err := c.Operate(ctx, nil, k,
		core.BinOp{Type: core.OpAdd, Bin: "visits", Value: types.IntValue(1)},
		core.BinOp{Type: core.OpRead, Bin: "visits"},
		core.BinOp{Type: core.OpRead, Bin: "name"},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(6), rec.Bin("visits").AsInt())
	assert.Equal(t, "mr bobby", rec.Bin("name").AsString())

	require.NoError(t, c.Touch(ctx, nil, k))
	head, err := c.GetHeader(ctx, nil, k)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), head.Generation)

	create := *c.DefaultPolicies().Write
	create.RecordExistsAction = policy.CreateOnly
	err = c.Put(ctx, &create, k, types.BinMap{"name": types.StringValue("other")})
	assert.ErrorIs(t, err, errors.ErrRecordExists)

	gen := *c.DefaultPolicies().Write
	gen.GenerationPolicy = policy.GenerationExpectEqual
	gen.Generation = 1
	err = c.Put(ctx, &gen, k, types.BinMap{"name": types.StringValue("stale")})
	assert.ErrorIs(t, err, errors.ErrGeneration)

	existed, err := c.Delete(ctx, nil, k)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, 0, env.Cluster.Len(aerotesting.Namespace, "users"))
}

func TestFilterPolicy(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	c := env.Client
	k := aerotesting.Key(t, "users", "carol")
	require.NoError(t, c.Put(ctx, nil, k, types.BinMap{"age": types.IntValue(17)}))

	adults, err := c.BuildFilter(exp.GE(exp.IntBin("age"), exp.IntVal(18)))
	require.NoError(t, err)

	p := *c.DefaultPolicies().Read
	p.FilterExpression = adults
	_, err = c.Get(ctx, &p, k)
	require.Error(t, err)
	assert.True(t, errors.IsFilteredOut(err))

	wp := *c.DefaultPolicies().Write
	wp.FilterExpression = adults
	err = c.Put(ctx, &wp, k, types.BinMap{"age": types.IntValue(40)})
	assert.True(t, errors.IsFilteredOut(err))

	rec, err := c.Get(ctx, nil, k)
	require.NoError(t, err)
	assert.Equal(t, int64(17), rec.Bin("age").AsInt())
}

func TestInvalidArgumentsNeverReachTransport(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	c := env.Client
	k := aerotesting.Key(t, "users", "dave")

	_, err := c.Get(ctx, nil, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	err = c.Put(ctx, nil, k, types.BinMap{})
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	err = c.Put(ctx, nil, k, types.BinMap{"a_bin_name_that_is_too_long": types.IntValue(1)})
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	_, err = c.Operate(ctx, nil, k)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	bad := *c.DefaultPolicies().Read
	bad.MaxRetries = -1
	_, err = c.Get(ctx, &bad, k)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	f := c.Async().Get(ctx, nil, nil)
	select {
	case <-f.Done():
	default:
		t.Fatal("future for an invalid call should already be complete")
	}
	_, err = f.Await(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	_, err = c.Async().BatchGet(ctx, nil, []*types.Key{k, nil}).Await(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	assert.Zero(t, env.Cluster.Stats().Exchanges)
	assert.Zero(t, env.Cluster.Stats().Streams)
}

func TestBatchSplitsByMaxKeysPerNode(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	c := env.Client
	keys := env.Seed(t, "users", 5, userBins)
	keys = append(keys, aerotesting.Key(t, "users", "missing"))

	p := *c.DefaultPolicies().Batch
	p.MaxKeysPerNode = 2
	p.MaxConcurrentNodes = 2

	before := env.Cluster.Stats().Exchanges
	recs, err := c.BatchGet(ctx, &p, keys)
	require.NoError(t, err)
	assert.Equal(t, int64(3), env.Cluster.Stats().Exchanges-before)

	require.Len(t, recs, 6)
	for i := 0; i < 5; i++ {
		require.NotNil(t, recs[i])
		assert.Equal(t, int64(i*10), recs[i].Bin("age").AsInt())
	}
	assert.Nil(t, recs[5])

	exists, err := c.BatchExists(ctx, &p, keys)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true, true, true, false}, exists)

	empty, err := c.BatchGet(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestIndexQuery(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	c := env.Client
	env.Seed(t, "users", 10, userBins)

	_, err := c.Query(aerotesting.Namespace, "users").Where(query.Between("age", 20, 50)).Results(ctx)
	assert.ErrorIs(t, err, errors.ErrIndexNotFound)

	require.NoError(t, env.Cluster.CreateIndex(aerotesting.Namespace, "users", "age", core.IndexDefault, types.IntType))

	recs, err := c.Query(aerotesting.Namespace, "users").
		Where(query.Between("age", 20, 50)).
		Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 30, 40, 50}, ages(recs))

	recs, err = c.Query(aerotesting.Namespace, "users").
		Where(query.Between("age", 20, 50)).
		Filter(exp.GT(exp.IntBin("age"), exp.IntVal(20))).
		Select("age").
		Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 40, 50}, ages(recs))
	for _, r := range recs {
		assert.Len(t, r.Bins, 1)
	}

	recs, err = c.Query(aerotesting.Namespace, "users").Where(query.Equals("age", 70)).Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{70}, ages(recs))
}

func TestScanPages(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	c := env.Client
	env.Seed(t, "items", 7, userBins)

	seen := map[string]bool{}
	cursor := ""
	var sizes []int
	for i := 0; i < 5; i++ {
		page, err := c.Scan(aerotesting.Namespace, "items").After(cursor).Page(ctx, 3)
		require.NoError(t, err)
		sizes = append(sizes, page.Count)
		for _, r := range page.Records {
			name := r.Bin("name").AsString()
			assert.False(t, seen[name], "record %s returned twice", name)
			seen[name] = true
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Len(t, seen, 7)

	_, err := c.Query(aerotesting.Namespace, "items").Page(ctx, 3)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	_, err = c.Scan(aerotesting.Namespace, "items").Page(ctx, 0)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	_, err = c.Scan(aerotesting.Namespace, "items").After("not a cursor!").Results(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestQueryBuilderErrorsAreSticky(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	c := env.Client

	_, err := c.Scan(aerotesting.Namespace, "users").Where(query.Equals("age", 1)).Results(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	_, err = c.Query(aerotesting.Namespace, "users").
		Where(query.Equals("age", 1)).
		Where(query.Equals("age", 2)).
		Results(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	_, err = c.Query(aerotesting.Namespace, "users").
		Filter(exp.EQ(exp.IntBin("age"), exp.StringVal("x"))).
		Results(ctx)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	_, err = c.Async().Scan(aerotesting.Namespace, "users").Where(query.Equals("age", 1)).Results(ctx).Await(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	assert.Zero(t, env.Cluster.Stats().Streams)
}

func TestForEach(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	c := env.Client
	env.Seed(t, "users", 6, userBins)

	n := 0
	err := c.Scan(aerotesting.Namespace, "users").ForEach(ctx, func(*types.Record) (query.Decision, error) {
		n++
		if n == 2 {
			return query.Stop, nil
		}
		return query.Continue, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	boom := stderrors.New("boom")
	n = 0
	err = c.Scan(aerotesting.Namespace, "users").ForEach(ctx, func(*types.Record) (query.Decision, error) {
		n++
		if n == 3 {
			return query.Continue, boom
		}
		return query.Continue, nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsConsumerAborted(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, n)

	var async atomic.Int64
	_, err = c.Async().Scan(aerotesting.Namespace, "users").ForEach(ctx, func(*types.Record) (query.Decision, error) {
		async.Add(1)
		return query.Continue, nil
	}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), async.Load())
}

func TestBlockingAndNonBlockingAgree(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	c := env.Client
	a := c.Async()
	keys := env.Seed(t, "users", 8, userBins)
	missing := aerotesting.Key(t, "users", "missing")
	require.NoError(t, env.Cluster.CreateIndex(aerotesting.Namespace, "users", "age", core.IndexDefault, types.IntType))

	for _, k := range append(keys, missing) {
		want, wantErr := c.Get(ctx, nil, k)
		got, gotErr := a.Get(ctx, nil, k).Await(ctx)
		assert.Equal(t, errors.ErrorType(wantErr), errors.ErrorType(gotErr))
		if wantErr == nil {
			assert.Equal(t, want.Bins, got.Bins)
			assert.Equal(t, want.Generation, got.Generation)
		}

		wantOK, err := c.Exists(ctx, nil, k)
		require.NoError(t, err)
		gotOK, err := a.Exists(ctx, nil, k).Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, wantOK, gotOK)
	}

	all := append(keys, missing)
	want, err := c.BatchGet(ctx, nil, all, "age")
	require.NoError(t, err)
	got, err := a.BatchGet(ctx, nil, all, "age").Await(ctx)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		if want[i] == nil {
			assert.Nil(t, got[i])
			continue
		}
		assert.Equal(t, want[i].Bins, got[i].Bins)
	}

	filter := exp.LT(exp.IntBin("age"), exp.IntVal(60))
	wantRecs, err := c.Query(aerotesting.Namespace, "users").Where(query.Between("age", 10, 70)).Filter(filter).Results(ctx)
	require.NoError(t, err)
	gotRecs, err := a.Query(aerotesting.Namespace, "users").Where(query.Between("age", 10, 70)).Filter(filter).Results(ctx).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, ages(wantRecs), ages(gotRecs))

	wantPage, err := c.Scan(aerotesting.Namespace, "users").Page(ctx, 5)
	require.NoError(t, err)
	gotPage, err := a.Scan(aerotesting.Namespace, "users").Page(ctx, 5).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, wantPage.NextCursor, gotPage.NextCursor)
	assert.Equal(t, ages(wantPage.Records), ages(gotPage.Records))

	k := aerotesting.Key(t, "users", "async-writer")
	_, err = a.Put(ctx, nil, k, types.BinMap{"n": types.IntValue(1)}).Await(ctx)
	require.NoError(t, err)
	_, err = a.Add(ctx, nil, k, types.BinMap{"n": types.IntValue(2)}).Await(ctx)
	require.NoError(t, err)
	rec, err := c.Get(ctx, nil, k)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Bin("n").AsInt())
}

func TestExecutionLockReleasedWhileWaiting(t *testing.T) {
	lock := &aerotesting.TrackingLock{}
	env := aerotesting.NewEnv(t,
		aerotesting.WithClusterOptions(memcluster.Options{Latency: 50 * time.Millisecond}),
		aerotesting.WithClientOptions(aerokit.WithExecutionLock(lock)),
	)
	ctx := context.Background()
	k := aerotesting.Key(t, "users", "erin")

	lock.Lock()
	var ran atomic.Bool
	go func() {
		lock.Lock()
		ran.Store(true)
		lock.Unlock()
	}()

	err := env.Client.Put(ctx, nil, k, types.BinMap{"n": types.IntValue(1)})
	require.NoError(t, err)
	assert.True(t, lock.Held(), "lock must be re-acquired before the call returns")
	assert.True(t, ran.Load(), "another goroutine should run while the call waits")
	lock.Unlock()

	before := lock.Releases()
	_, err = env.Client.Async().Get(ctx, nil, k).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, lock.Releases(), "non-blocking calls never touch the execution lock")
}

func TestExecutionLockNotHeldWhileWaitingForSlot(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.MaxConcurrentCommands = 1
	cfg.Timeout = 2 * time.Second

	lock := &aerotesting.TrackingLock{}
	env := aerotesting.NewEnv(t,
		aerotesting.WithConfig(cfg),
		aerotesting.WithClusterOptions(memcluster.Options{Latency: 200 * time.Millisecond}),
		aerotesting.WithClientOptions(aerokit.WithExecutionLock(lock)),
	)
	ctx := context.Background()
	keys := []*types.Key{
		aerotesting.Key(t, "users", "lock-a"),
		aerotesting.Key(t, "users", "lock-b"),
	}

	start := time.Now()
	errs := make([]error, len(keys))
	var wg sync.WaitGroup
	for i, k := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock.Lock()
			defer lock.Unlock()
			errs[i] = env.Client.Put(ctx, nil, k, types.BinMap{"n": types.IntValue(int64(i))})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), time.Second, "the second call must not wait out its deadline")
	assert.Equal(t, "healthy", env.Client.Health()["status"])

	lock.Lock()
	recs, err := env.Client.BatchGet(ctx, nil, keys)
	lock.Unlock()
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestHealth(t *testing.T) {
	env := aerotesting.NewEnv(t)
	health := env.Client.Health()
	assert.Equal(t, "healthy", health["status"])
	assert.Contains(t, health, "pool")
}

func TestTimeoutsAndRetries(t *testing.T) {
	env := aerotesting.NewEnv(t,
		aerotesting.WithClusterOptions(memcluster.Options{Latency: 100 * time.Millisecond}),
	)
	ctx := context.Background()
	c := env.Client
	k := aerotesting.Key(t, "users", "frank")

	p := *c.DefaultPolicies().Read
	p.TotalTimeout = 20 * time.Millisecond
	p.MaxRetries = 0
	_, err := c.Get(ctx, &p, k)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))

	_, err = c.Async().Get(ctx, &p, k).Await(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
}

func TestReadsRetryConnectionErrors(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	c := env.Client
	k := aerotesting.Key(t, "users", "gina")
	require.NoError(t, c.Put(ctx, nil, k, types.BinMap{"n": types.IntValue(1)}))

	env.Cluster.FailNext(2, errors.Newf(errors.ErrConnection, "connection reset"))
	rec, err := c.Get(ctx, nil, k)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Bin("n").AsInt())

	env.Cluster.FailNext(1, errors.Newf(errors.ErrConnection, "connection reset"))
	err = c.Put(ctx, nil, k, types.BinMap{"n": types.IntValue(2)})
	assert.ErrorIs(t, err, errors.ErrConnection)
}

func TestClosedClient(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	k := aerotesting.Key(t, "users", "hank")

	require.NoError(t, env.Client.Close())
	require.NoError(t, env.Client.Close())

	_, err := env.Client.Get(ctx, nil, k)
	assert.ErrorIs(t, err, errors.ErrClientClosed)

	_, err = env.Client.Async().Get(ctx, nil, k).Await(ctx)
	assert.ErrorIs(t, err, errors.ErrClientClosed)

	_, err = env.Client.Scan(aerotesting.Namespace, "users").Results(ctx)
	assert.ErrorIs(t, err, errors.ErrClientClosed)
}

type profile struct {
	ID     string   `aero:"-"`
	Name   string   `aero:"name"`
	Email  string   `aero:"email,omitempty"`
	Logins int64    `aero:"logins"`
	Tags   []string `aero:"tags"`
}

func TestObjects(t *testing.T) {
	env := aerotesting.NewEnv(t)
	ctx := context.Background()
	k := aerotesting.Key(t, "profiles", "p1")

	in := profile{ID: "p1", Name: "ivy", Logins: 3, Tags: []string{"a", "b"}}
	require.NoError(t, env.Client.PutObject(ctx, nil, k, in))

	rec, err := env.Client.Get(ctx, nil, k)
	require.NoError(t, err)
	assert.NotContains(t, rec.Bins, "email")
	assert.NotContains(t, rec.Bins, "id")

	var out profile
	require.NoError(t, env.Client.GetObject(ctx, nil, k, &out))
	assert.Equal(t, "ivy", out.Name)
	assert.Equal(t, int64(3), out.Logins)
	assert.Equal(t, []string{"a", "b"}, out.Tags)
	assert.Empty(t, out.ID)

	assert.ErrorIs(t, aerokit.FromBins(nil, &out), errors.ErrInvalidArgument)
}
