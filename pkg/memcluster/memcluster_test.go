package memcluster

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/exp"
	"github.com/pay-theory/aerokit/pkg/policy"
	"github.com/pay-theory/aerokit/pkg/types"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T) (*Cluster, core.Conn, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := New(Options{Now: clk.now})
	cn, err := c.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cn.Close() })
	return c, cn, clk
}

func key(t *testing.T, set string, id any) *types.Key {
	t.Helper()
	k, err := types.NewKey("test", set, id)
	require.NoError(t, err)
	return k
}

func put(t *testing.T, cn core.Conn, k *types.Key, bins types.BinMap, wp *core.WriteParams) *core.Response {
	t.Helper()
	req := &core.Request{Command: core.CommandPut, Key: k, Write: wp}
	for name, v := range bins {
		req.Ops = append(req.Ops, core.BinOp{Type: core.OpWrite, Bin: name, Value: v})
	}
	resp, err := cn.Exchange(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func get(t *testing.T, cn core.Conn, k *types.Key, filter *exp.Filter) *core.Response {
	t.Helper()
	req := &core.Request{Command: core.CommandGet, Key: k}
	if filter != nil {
		req.Filter = filter.Bytes()
	}
	resp, err := cn.Exchange(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func TestPutGet(t *testing.T) {
	_, cn, _ := setup(t)
	k := key(t, "users", "alice")

	resp := put(t, cn, k, types.BinMap{"name": types.StringValue("alice"), "age": types.IntValue(30)}, nil)
	require.NoError(t, resp.Err())
	assert.Equal(t, uint32(1), resp.Record.Generation)

	resp = get(t, cn, k, nil)
	require.NoError(t, resp.Err())
	assert.Equal(t, "alice", resp.Record.Bin("name").AsString())
	assert.Equal(t, int64(30), resp.Record.Bin("age").AsInt())
	assert.Equal(t, NodeName, resp.Node)

	resp = put(t, cn, k, types.BinMap{"age": types.IntValue(31)}, nil)
	assert.Equal(t, uint32(2), resp.Record.Generation)
	rec := get(t, cn, k, nil).Record
	assert.Equal(t, "alice", rec.Bin("name").AsString(), "update merges bins")

	sel, err := cn.Exchange(context.Background(), &core.Request{Command: core.CommandGet, Key: k, Bins: []string{"age"}})
	require.NoError(t, err)
	assert.Len(t, sel.Record.Bins, 1)

	header, err := cn.Exchange(context.Background(), &core.Request{Command: core.CommandGetHeader, Key: k})
	require.NoError(t, err)
	assert.Nil(t, header.Record.Bins)
	assert.Equal(t, uint32(2), header.Record.Generation)

	missing := get(t, cn, key(t, "users", "bob"), nil)
	assert.ErrorIs(t, missing.Err(), errors.ErrRecordNotFound)
}

func TestWritePolicies(t *testing.T) {
	_, cn, _ := setup(t)
	k := key(t, "users", 1)
	bins := types.BinMap{"a": types.IntValue(1)}

	resp := put(t, cn, k, bins, &core.WriteParams{RecordExistsAction: int(policy.UpdateOnly)})
	assert.Equal(t, errors.ResultKeyNotFound, resp.ResultCode)

	require.NoError(t, put(t, cn, k, bins, &core.WriteParams{RecordExistsAction: int(policy.CreateOnly)}).Err())
	resp = put(t, cn, k, bins, &core.WriteParams{RecordExistsAction: int(policy.CreateOnly)})
	assert.Equal(t, errors.ResultKeyExists, resp.ResultCode)

	resp = put(t, cn, k, types.BinMap{"b": types.IntValue(2)}, &core.WriteParams{RecordExistsAction: int(policy.Replace)})
	require.NoError(t, resp.Err())
	rec := get(t, cn, k, nil).Record
	assert.Equal(t, types.BinMap{"b": types.IntValue(2)}, rec.Bins, "replace drops other bins")

	resp = put(t, cn, k, bins, &core.WriteParams{GenerationPolicy: int(policy.GenerationExpectEqual), Generation: 1})
	assert.Equal(t, errors.ResultGeneration, resp.ResultCode)
	resp = put(t, cn, k, bins, &core.WriteParams{GenerationPolicy: int(policy.GenerationExpectEqual), Generation: 2})
	require.NoError(t, resp.Err())

	// removing the last bin deletes the record
	resp = put(t, cn, k, types.BinMap{"a": types.NilValue(), "b": types.NilValue()}, nil)
	require.NoError(t, resp.Err())
	assert.Equal(t, errors.ResultKeyNotFound, get(t, cn, k, nil).ResultCode)
}

func TestExpiration(t *testing.T) {
	c, cn, clk := setup(t)
	k := key(t, "sessions", "s1")

	resp := put(t, cn, k, types.BinMap{"v": types.IntValue(1)}, &core.WriteParams{Expiration: 60})
	require.NoError(t, resp.Err())
	assert.Equal(t, 60*time.Second, resp.Record.TTL(clk.t))

	resp = put(t, cn, k, types.BinMap{"v": types.IntValue(2)}, &core.WriteParams{Expiration: policy.TTLDontUpdate})
	assert.Equal(t, 60*time.Second, resp.Record.TTL(clk.t))

	clk.t = clk.t.Add(61 * time.Second)
	assert.Equal(t, errors.ResultKeyNotFound, get(t, cn, k, nil).ResultCode)
	assert.Equal(t, 0, c.Len("test", "sessions"))

	resp = put(t, cn, k, types.BinMap{"v": types.IntValue(3)}, &core.WriteParams{Expiration: policy.TTLNeverExpire})
	assert.Equal(t, uint32(1), resp.Record.Generation, "an expired record is gone")
	assert.Equal(t, time.Duration(-1), resp.Record.TTL(clk.t))

	touched, err := cn.Exchange(context.Background(), &core.Request{Command: core.CommandTouch, Key: k, Write: &core.WriteParams{Expiration: 10}})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), touched.Record.Generation)
	assert.Equal(t, 10*time.Second, touched.Record.TTL(clk.t))
}

func TestOperate(t *testing.T) {
	_, cn, _ := setup(t)
	k := key(t, "counters", "c")

	operate := func(ops ...core.BinOp) *core.Response {
		resp, err := cn.Exchange(context.Background(), &core.Request{Command: core.CommandOperate, Key: k, Ops: ops})
		require.NoError(t, err)
		return resp
	}

	require.NoError(t, operate(
		core.BinOp{Type: core.OpAdd, Bin: "n", Value: types.IntValue(5)},
		core.BinOp{Type: core.OpAppend, Bin: "s", Value: types.StringValue("mid")},
	).Err())
	resp := operate(
		core.BinOp{Type: core.OpAdd, Bin: "n", Value: types.IntValue(-2)},
		core.BinOp{Type: core.OpPrepend, Bin: "s", Value: types.StringValue("<")},
		core.BinOp{Type: core.OpAppend, Bin: "s", Value: types.StringValue(">")},
		core.BinOp{Type: core.OpRead, Bin: "n"},
		core.BinOp{Type: core.OpRead, Bin: "s"},
	)
	require.NoError(t, resp.Err())
	assert.Equal(t, int64(3), resp.Record.Bin("n").AsInt())
	assert.Equal(t, "<mid>", resp.Record.Bin("s").AsString())

	resp = operate(core.BinOp{Type: core.OpAdd, Bin: "s", Value: types.IntValue(1)})
	assert.ErrorIs(t, resp.Err(), errors.ErrBinType)
}

func TestHLLAdd(t *testing.T) {
	_, cn, _ := setup(t)
	k := key(t, "visitors", "page")

	first, err := types.NewHLL([]byte("a"), []byte("b"))
	require.NoError(t, err)
	second, err := types.NewHLL([]byte("b"), []byte("c"))
	require.NoError(t, err)

	for _, v := range []types.Value{first, second, types.StringValue("d")} {
		resp, err := cn.Exchange(context.Background(), &core.Request{
			Command: core.CommandOperate, Key: k,
			Ops: []core.BinOp{{Type: core.OpAdd, Bin: "hll", Value: v}},
		})
		require.NoError(t, err)
		require.NoError(t, resp.Err())
	}

	n, err := get(t, cn, k, nil).Record.Bin("hll").Cardinality()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
}

func TestFilterEvaluation(t *testing.T) {
	_, cn, _ := setup(t)
	k := key(t, "users", "eve")
	put(t, cn, k, types.BinMap{
		"name":  types.StringValue("Eve Adams"),
		"age":   types.IntValue(42),
		"score": types.FloatValue(7.5),
		"flags": types.IntValue(0b1010),
		"tags":  types.ListValue(types.StringValue("a")),
	}, &core.WriteParams{SendKey: true})

	tests := []struct {
		name  string
		expr  exp.Expr
		match bool
	}{
		{"eq", exp.EQ(exp.IntBin("age"), exp.IntVal(42)), true},
		{"gt false", exp.GT(exp.IntBin("age"), exp.IntVal(42)), false},
		{"float le", exp.LE(exp.FloatBin("score"), exp.FloatVal(7.5)), true},
		{"and", exp.And(exp.GE(exp.IntBin("age"), exp.IntVal(18)), exp.EQ(exp.StringBin("name"), exp.StringVal("Eve Adams"))), true},
		{"not", exp.Not(exp.EQ(exp.IntBin("age"), exp.IntVal(1))), true},
		{"xor", exp.Xor(exp.BoolVal(true), exp.BoolVal(true)), false},
		{"missing bin", exp.EQ(exp.IntBin("nope"), exp.IntVal(1)), false},
		{"not missing bin", exp.Not(exp.EQ(exp.IntBin("nope"), exp.IntVal(1))), false},
		{"or rescues unknown", exp.Or(exp.EQ(exp.IntBin("nope"), exp.IntVal(1)), exp.BoolVal(true)), true},
		{"and with unknown", exp.And(exp.EQ(exp.IntBin("nope"), exp.IntVal(1)), exp.BoolVal(true)), false},
		{"wrong bin type", exp.EQ(exp.StringBin("age"), exp.StringVal("42")), false},
		{"bin exists", exp.BinExists("tags"), true},
		{"bin type", exp.EQ(exp.BinType("age"), exp.IntVal(int64(types.IntType.Particle()))), true},
		{"regex icase", exp.RegexCompare("^eve", exp.RegexICase, exp.StringBin("name")), true},
		{"regex case", exp.RegexCompare("^eve", exp.RegexNone, exp.StringBin("name")), false},
		{"arith", exp.EQ(exp.NumAdd(exp.IntBin("age"), exp.IntVal(8)), exp.IntVal(50)), true},
		{"sub negate", exp.EQ(exp.NumSub(exp.IntBin("age")), exp.IntVal(-42)), true},
		{"div by zero", exp.EQ(exp.NumDiv(exp.IntBin("age"), exp.IntVal(0)), exp.IntVal(0)), false},
		{"mod", exp.EQ(exp.NumMod(exp.IntBin("age"), exp.IntVal(5)), exp.IntVal(2)), true},
		{"to int", exp.EQ(exp.ToInt(exp.FloatBin("score")), exp.IntVal(7)), true},
		{"max", exp.EQ(exp.Max(exp.IntBin("age"), exp.IntVal(100), exp.IntVal(3)), exp.IntVal(100)), true},
		{"bit and", exp.EQ(exp.IntAnd(exp.IntBin("flags"), exp.IntVal(0b0010)), exp.IntVal(2)), true},
		{"bit count", exp.EQ(exp.IntCount(exp.IntBin("flags")), exp.IntVal(2)), true},
		{"lscan", exp.EQ(exp.IntLScan(exp.IntBin("flags"), exp.BoolVal(true)), exp.IntVal(60)), true},
		{"rscan", exp.EQ(exp.IntRScan(exp.IntBin("flags"), exp.BoolVal(true)), exp.IntVal(62)), true},
		{"set name", exp.EQ(exp.SetName(), exp.StringVal("users")), true},
		{"key", exp.EQ(exp.Key(exp.KindString), exp.StringVal("eve")), true},
		{"key exists", exp.KeyExists(), true},
		{"ttl never", exp.EQ(exp.TTL(), exp.IntVal(-1)), true},
		{"record size", exp.GT(exp.RecordSize(), exp.IntVal(0)), true},
		{"digest modulo", exp.LT(exp.DigestModulo(3), exp.IntVal(3)), true},
		{"cond", exp.EQ(exp.Cond([]exp.Expr{
			exp.LT(exp.IntBin("age"), exp.IntVal(18)), exp.StringVal("minor"),
		}, exp.StringVal("adult")), exp.StringVal("adult")), true},
		{"let", exp.Let([]exp.Binding{
			exp.Def("x", exp.IntBin("age")),
			exp.Def("y", exp.NumMul(exp.Var("x"), exp.IntVal(2))),
		}, exp.EQ(exp.Var("y"), exp.IntVal(84))), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := exp.Build(tt.expr)
			require.NoError(t, err)
			resp := get(t, cn, k, f)
			if tt.match {
				assert.NoError(t, resp.Err())
			} else {
				assert.Equal(t, errors.ResultFilteredOut, resp.ResultCode)
			}
		})
	}
}

func TestFilterOnWrites(t *testing.T) {
	_, cn, _ := setup(t)
	k := key(t, "users", "f")
	put(t, cn, k, types.BinMap{"status": types.StringValue("locked")}, nil)

	onlyActive := exp.Must(exp.EQ(exp.StringBin("status"), exp.StringVal("active")))
	resp, err := cn.Exchange(context.Background(), &core.Request{
		Command: core.CommandDelete, Key: k, Filter: onlyActive.Bytes(),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, resp.Err(), errors.ErrFilteredOut)

	resp, err = cn.Exchange(context.Background(), &core.Request{Command: core.CommandDelete, Key: k})
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	assert.Equal(t, errors.ResultKeyNotFound, get(t, cn, k, nil).ResultCode)
}

func TestBatch(t *testing.T) {
	_, cn, _ := setup(t)
	keys := []*types.Key{key(t, "b", 1), key(t, "b", 2), key(t, "b", 3)}
	put(t, cn, keys[0], types.BinMap{"v": types.IntValue(1)}, nil)
	put(t, cn, keys[2], types.BinMap{"v": types.IntValue(3)}, nil)

	resp, err := cn.Exchange(context.Background(), &core.Request{Command: core.CommandBatchGet, Keys: keys})
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	require.Len(t, resp.Records, 3)
	assert.Equal(t, int64(1), resp.Records[0].Bin("v").AsInt())
	assert.Nil(t, resp.Records[1])
	assert.Equal(t, errors.ResultKeyNotFound, resp.ResultCodes[1])
	assert.Equal(t, int64(3), resp.Records[2].Bin("v").AsInt())

	f := exp.Must(exp.GT(exp.IntBin("v"), exp.IntVal(2)))
	resp, err = cn.Exchange(context.Background(), &core.Request{Command: core.CommandBatchExists, Keys: keys, Filter: f.Bytes()})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, true}, resp.Exists)
	assert.Equal(t, errors.ResultFilteredOut, resp.ResultCodes[0])
}

func drain(t *testing.T, s core.RecordStream) []*types.Record {
	t.Helper()
	var out []*types.Record
	for {
		rec, err := s.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
	require.NoError(t, s.Close())
	return out
}

func TestScanOrderAndResume(t *testing.T) {
	_, cn, _ := setup(t)
	for i := 0; i < 10; i++ {
		put(t, cn, key(t, "items", i), types.BinMap{"i": types.IntValue(int64(i))}, nil)
	}
	put(t, cn, key(t, "other", 0), types.BinMap{"i": types.IntValue(99)}, nil)

	s, err := cn.Stream(context.Background(), &core.Request{Command: core.CommandScan, Namespace: "test", Set: "items"})
	require.NoError(t, err)
	all := drain(t, s)
	require.Len(t, all, 10)
	for i := 1; i < len(all); i++ {
		assert.Negative(t, compareDigest(all[i-1].Key.Digest, all[i].Key.Digest), "scan is in digest order")
	}

	after := all[3].Key.Digest
	s, err = cn.Stream(context.Background(), &core.Request{Command: core.CommandScan, Namespace: "test", Set: "items", After: &after, MaxRecords: 4})
	require.NoError(t, err)
	page := drain(t, s)
	require.Len(t, page, 4)
	assert.Equal(t, all[4].Key.Digest, page[0].Key.Digest)

	s, err = cn.Stream(context.Background(), &core.Request{Command: core.CommandScan, Namespace: "test"})
	require.NoError(t, err)
	assert.Len(t, drain(t, s), 11, "an empty set scans the namespace")
}

func compareDigest(a, b [types.DigestSize]byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func TestIndexQuery(t *testing.T) {
	c, cn, _ := setup(t)
	for i := 0; i < 6; i++ {
		put(t, cn, key(t, "people", i), types.BinMap{
			"age":  types.IntValue(int64(20 + i)),
			"tags": types.ListValue(types.StringValue("t"), types.IntValue(int64(i))),
		}, nil)
	}

	between := &core.IndexFilter{Bin: "age", Begin: types.IntValue(21), End: types.IntValue(23)}
	_, err := cn.Stream(context.Background(), &core.Request{Command: core.CommandQuery, Namespace: "test", Set: "people", Index: between})
	assert.ErrorIs(t, err, errors.ErrIndexNotFound)

	require.NoError(t, c.CreateIndex("test", "people", "age", core.IndexDefault, types.IntType))
	assert.Error(t, c.CreateIndex("test", "people", "age", core.IndexDefault, types.IntType))
	require.NoError(t, c.CreateIndex("test", "people", "tags", core.IndexList, types.IntType))

	s, err := cn.Stream(context.Background(), &core.Request{Command: core.CommandQuery, Namespace: "test", Set: "people", Index: between})
	require.NoError(t, err)
	assert.Len(t, drain(t, s), 3)

	contains := &core.IndexFilter{Bin: "tags", IndexType: core.IndexList, Begin: types.IntValue(5), End: types.IntValue(5)}
	s, err = cn.Stream(context.Background(), &core.Request{Command: core.CommandQuery, Namespace: "test", Set: "people", Index: contains})
	require.NoError(t, err)
	recs := drain(t, s)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(25), recs[0].Bin("age").AsInt())

	wrongType := &core.IndexFilter{Bin: "age", Begin: types.StringValue("a"), End: types.StringValue("a")}
	_, err = cn.Stream(context.Background(), &core.Request{Command: core.CommandQuery, Namespace: "test", Set: "people", Index: wrongType})
	assert.ErrorIs(t, err, errors.ErrParameter)
}

func TestLatencyAndFaults(t *testing.T) {
	c := New(Options{Latency: 50 * time.Millisecond})
	cn, err := c.Open(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = cn.Exchange(ctx, &core.Request{Command: core.CommandGet, Key: key(t, "x", 1)})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	fast := New(Options{})
	fc, err := fast.Open(context.Background())
	require.NoError(t, err)
	fast.FailNext(1, errors.ErrConnection)
	_, err = fc.Exchange(context.Background(), &core.Request{Command: core.CommandGet, Key: key(t, "x", 1)})
	assert.ErrorIs(t, err, errors.ErrConnection)
	resp, err := fc.Exchange(context.Background(), &core.Request{Command: core.CommandGet, Key: key(t, "x", 1)})
	require.NoError(t, err)
	assert.Equal(t, errors.ResultKeyNotFound, resp.ResultCode)

	fast.SetDown(true)
	_, err = fast.Open(context.Background())
	assert.ErrorIs(t, err, errors.ErrConnection)

	require.NoError(t, fc.Close())
	_, err = fc.Exchange(context.Background(), &core.Request{Command: core.CommandGet, Key: key(t, "x", 1)})
	assert.ErrorIs(t, err, errors.ErrConnection)
	assert.Equal(t, int64(1), fast.Stats().Closes)
}

func TestTruncate(t *testing.T) {
	c, cn, _ := setup(t)
	put(t, cn, key(t, "a", 1), types.BinMap{"v": types.IntValue(1)}, nil)
	put(t, cn, key(t, "b", 1), types.BinMap{"v": types.IntValue(1)}, nil)
	c.Truncate("test", "a")
	assert.Equal(t, 0, c.Len("test", "a"))
	assert.Equal(t, 1, c.Len("test", ""))
}
