package farcall

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/farcall-go/mux"
	"github.com/machinefabric/farcall-go/transport"
	"github.com/machinefabric/farcall-go/wire"
)

func TestCallAdd(t *testing.T) {
	ctx := testContext(t)
	_, rem := serve(t, newCalculator(), ProvideOptions{})

	v, err := rem.Get("add").Call(ctx, 5, 3)
	require.NoError(t, err)
	sum, err := As[int](v)
	require.NoError(t, err)
	assert.Equal(t, 8, sum)
	assert.False(t, v.IsRemote())
}

func TestMapTargetScenarios(t *testing.T) {
	ctx := testContext(t)
	target := map[string]any{
		"add": func(a, b int) int { return a + b },
		"get": func() map[string]any { return map[string]any{"x": 1} },
		"cb":  func(fn func(int)) { fn(42) },
	}
	_, rem := serve(t, target, ProvideOptions{})

	v, err := rem.Get("add").Call(ctx, 5, 3)
	require.NoError(t, err)
	sum, err := As[int](v)
	require.NoError(t, err)
	assert.Equal(t, 8, sum)

	v, err = rem.Get("get").Call(ctx)
	require.NoError(t, err)
	got, err := As[map[string]int](v)
	require.NoError(t, err)
	assert.Equal(t, 1, got["x"])

	received := make(chan int, 1)
	_, err = rem.Get("cb").Call(ctx, func(v int) { received <- v })
	require.NoError(t, err)
	select {
	case v := <-received:
		assert.Equal(t, 42, v)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestAwaitFieldsAndTags(t *testing.T) {
	ctx := testContext(t)
	_, rem := serve(t, newCalculator(), ProvideOptions{})

	v, err := rem.Get("count").Await(ctx)
	require.NoError(t, err)
	n, err := As[int](v)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	v, err = rem.Get("label").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "calc", v.Interface())

	v, err = rem.Get("Nested").Get("X").Await(ctx)
	require.NoError(t, err)
	x, err := As[int](v)
	require.NoError(t, err)
	assert.Equal(t, 1, x)

	// unexported, hidden and missing members read as nil
	for _, name := range []string{"secret", "Hidden", "missing"} {
		v, err = rem.Get(name).Await(ctx)
		require.NoError(t, err, name)
		assert.Nil(t, v.Interface(), name)
	}
}

func TestCallShapes(t *testing.T) {
	ctx := testContext(t)
	_, rem := serve(t, newCalculator(), ProvideOptions{})

	v, err := rem.Get("sum").Call(ctx, 1, 2, 3, 4)
	require.NoError(t, err)
	sum, err := As[int](v)
	require.NoError(t, err)
	assert.Equal(t, 10, sum)

	v, err = rem.Get("divMod").Call(ctx, 7, 2)
	require.NoError(t, err)
	qr, err := As[[]int](v)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1}, qr)

	v, err = rem.Get("get").Call(ctx)
	require.NoError(t, err)
	m, err := As[map[string]int](v)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"x": 1}, m)

	v, err = rem.Get("now").Call(ctx)
	require.NoError(t, err)
	when, err := As[time.Time](v)
	require.NoError(t, err)
	assert.True(t, when.Equal(time.UnixMilli(1_700_000_000_123)))

	// missing arguments are zero values, surplus ones are ignored
	v, err = rem.Get("add").Call(ctx, 5)
	require.NoError(t, err)
	sum, err = As[int](v)
	require.NoError(t, err)
	assert.Equal(t, 5, sum)

	v, err = rem.Get("add").Call(ctx, 1, 2, 3)
	require.NoError(t, err)
	sum, err = As[int](v)
	require.NoError(t, err)
	assert.Equal(t, 3, sum)
}

func TestStructWithDateTravelsByCopy(t *testing.T) {
	ctx := testContext(t)
	target := map[string]any{
		"shift": func(d dated) dated {
			d.X++
			d.When = d.When.Add(time.Hour)
			return d
		},
	}
	_, rem := serve(t, target, ProvideOptions{})

	when := time.Date(2024, 3, 1, 12, 30, 45, 123_456_789, time.UTC)
	v, err := rem.Get("shift").Call(ctx, dated{X: 1, When: when})
	require.NoError(t, err)
	assert.False(t, v.IsRemote())

	got, err := As[dated](v)
	require.NoError(t, err)
	assert.Equal(t, 2, got.X)
	assert.True(t, when.Add(time.Hour).Equal(got.When))
}

func TestGoDeliversOneOutcome(t *testing.T) {
	ctx := testContext(t)
	_, rem := serve(t, newCalculator(), ProvideOptions{})

	out := rem.Get("add").Go(ctx, 20, 22)
	select {
	case o := <-out:
		require.NoError(t, o.Err)
		sum, err := As[int](o.Value)
		require.NoError(t, err)
		assert.Equal(t, 42, sum)
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome")
	}
}

func TestTargetErrors(t *testing.T) {
	ctx := testContext(t)
	_, rem := serve(t, newCalculator(), ProvideOptions{})

	_, err := rem.Get("div").Call(ctx, 1, 0)
	require.Error(t, err)
	var cerr *CallError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, CallErrorTypeTarget, cerr.Type)
	assert.Empty(t, cerr.Code)
	assert.Contains(t, cerr.Message, "division by zero")

	_, err = rem.Get("boom").Call(ctx)
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, CallErrorTypeTarget, cerr.Type)
	assert.Contains(t, cerr.Message, "panic: boom")

	// the provider keeps serving after a panic
	v, err := rem.Get("add").Call(ctx, 1, 1)
	require.NoError(t, err)
	sum, _ := As[int](v)
	assert.Equal(t, 2, sum)
}

func TestForbiddenPathAtAnyDepth(t *testing.T) {
	ctx := testContext(t)
	called := false
	target := map[string]any{
		"constructor": func() { called = true },
		"inner":       map[string]any{"prototype": 1},
		"value":       1,
	}
	_, rem := serve(t, target, ProvideOptions{})

	for _, h := range []*Remote{
		rem.Get("__proto__"),
		rem.Get("constructor"),
		rem.Get("inner").Get("prototype"),
		rem.Get("inner").Get("__proto__").Get("x"),
	} {
		_, err := h.Await(ctx)
		cerr := requireCode(t, err, wire.CodeForbiddenPath)
		assert.True(t, errors.Is(err, ErrAccessDenied))
		assert.Equal(t, CallErrorTypeAccessDenied, cerr.Type)
	}

	_, err := rem.Get("constructor").Call(ctx)
	requireCode(t, err, wire.CodeForbiddenPath)
	assert.False(t, called)

	// scalars and nil have nothing to navigate into
	_, err = rem.Get("value").Get("x").Await(ctx)
	requireCode(t, err, wire.CodeForbiddenPath)
	_, err = rem.Get("missing").Get("x").Await(ctx)
	requireCode(t, err, wire.CodeForbiddenPath)
}

func TestNotCallable(t *testing.T) {
	ctx := testContext(t)
	_, rem := serve(t, newCalculator(), ProvideOptions{})

	_, err := rem.Get("Count").Call(ctx)
	cerr := requireCode(t, err, wire.CodeNotCallable)
	assert.Equal(t, CallErrorTypeValidation, cerr.Type)

	_, err = rem.Get("missing").Construct(ctx)
	requireCode(t, err, wire.CodeNotCallable)
}

func TestWriteGating(t *testing.T) {
	ctx := testContext(t)

	t.Run("disabled", func(t *testing.T) {
		calc := newCalculator()
		_, rem := serve(t, calc, ProvideOptions{})
		err := rem.Set(ctx, "Count", 9)
		requireCode(t, err, wire.CodeWriteDisabled)
		assert.True(t, errors.Is(err, ErrAccessDenied))

		v, err := rem.Get("Count").Await(ctx)
		require.NoError(t, err)
		n, _ := As[int](v)
		assert.Equal(t, 3, n)
	})

	t.Run("enabled", func(t *testing.T) {
		calc := newCalculator()
		_, rem := serve(t, calc, ProvideOptions{AllowWrite: true})

		require.NoError(t, rem.Set(ctx, "count", 7))
		v, err := rem.Get("Count").Await(ctx)
		require.NoError(t, err)
		n, _ := As[int](v)
		assert.Equal(t, 7, n)

		require.NoError(t, rem.Set(ctx, "label", "renamed"))
		v, err = rem.Get("label").Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, "renamed", v.Interface())

		require.NoError(t, rem.Get("Nested").Set(ctx, "Y", 5))
		v, err = rem.Get("Nested").Get("Y").Await(ctx)
		require.NoError(t, err)
		y, _ := As[int](v)
		assert.Equal(t, 5, y)

		requireCode(t, rem.Set(ctx, "constructor", 1), wire.CodeForbiddenWrite)
		requireCode(t, rem.Set(ctx, "Add", 1), wire.CodeNotWritable)
		requireCode(t, rem.Set(ctx, "secret", "x"), wire.CodeNotWritable)
		requireCode(t, rem.Set(ctx, "Hidden", "x"), wire.CodeNotWritable)

		_, err = rem.c.request(ctx, wire.OpSet, nil, []any{1})
		requireCode(t, err, wire.CodeSetRoot)
	})

	t.Run("map", func(t *testing.T) {
		target := map[string]any{"a": 1}
		_, rem := serve(t, target, ProvideOptions{AllowWrite: true})
		require.NoError(t, rem.Set(ctx, "b", "two"))
		v, err := rem.Get("b").Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, "two", v.Interface())
	})
}

func TestCallsInterleaveWithWrites(t *testing.T) {
	ctx := testContext(t)
	target := map[string]any{"noop": func() int { return 1 }}
	_, rem := serve(t, target, ProvideOptions{AllowWrite: true})

	var wg sync.WaitGroup
	errs := make(chan error, 400)
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := rem.Get("noop").Call(ctx)
			errs <- err
		}()
		go func(i int) {
			defer wg.Done()
			errs <- rem.Set(ctx, "k", i)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	v, err := rem.Get("k").Await(ctx)
	require.NoError(t, err)
	n, err := As[int](v)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 0)
	assert.Less(t, n, 200)
}

func TestUnknownOperation(t *testing.T) {
	ctx := testContext(t)
	_, rem := serve(t, newCalculator(), ProvideOptions{})

	_, err := rem.c.request(ctx, wire.OperationType("explode"), nil, nil)
	requireCode(t, err, wire.CodeUnknownOperation)
}

func TestMalformedRequestIsAnswered(t *testing.T) {
	server, client := link(t)
	Provide(newCalculator(), server, ProvideOptions{})

	responses := make(chan *wire.Response, 1)
	sub := client.Subscribe(func(data []byte) {
		if resp, err := wire.DecodeResponse(data); err == nil {
			responses <- resp
		}
	})
	defer client.Unsubscribe(sub)

	data, err := wire.Marshal(map[string]any{
		"type":          "request",
		"requestID":     "req-1",
		"consumerID":    "consumer-1",
		"operationType": "call",
	})
	require.NoError(t, err)
	require.NoError(t, client.PostMessage(data))

	select {
	case resp := <-responses:
		assert.Equal(t, "req-1", resp.RequestID)
		assert.Equal(t, "consumer-1", resp.ConsumerID)
		payload, err := resp.Error()
		require.NoError(t, err)
		assert.Equal(t, string(wire.CodeMalformedRequest), payload.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("no response to malformed request")
	}
}

func TestReturnedObjectIsLive(t *testing.T) {
	ctx := testContext(t)
	_, rem := serve(t, newCalculator(), ProvideOptions{})

	v, err := rem.Get("counter").Call(ctx)
	require.NoError(t, err)
	require.True(t, v.IsRemote())
	c := v.Remote()

	for want := 1; want <= 2; want++ {
		v, err := c.Get("incr").Call(ctx)
		require.NoError(t, err)
		n, _ := As[int](v)
		assert.Equal(t, want, n)
	}
}

func TestConstructReturnsReference(t *testing.T) {
	ctx := testContext(t)
	target := map[string]any{
		"config": func(name string) map[string]any { return map[string]any{"name": name} },
	}
	_, rem := serve(t, target, ProvideOptions{})

	v, err := rem.Get("config").Construct(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, v.IsRemote())

	name, err := v.Remote().Get("name").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alpha", name.Interface())
}

func TestCallbackWithResult(t *testing.T) {
	ctx := testContext(t)
	_, rem := serve(t, newCalculator(), ProvideOptions{})

	v, err := rem.Get("apply").Call(ctx, func(x int) int { return x * 2 }, 21)
	require.NoError(t, err)
	n, err := As[int](v)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestLiveReferenceIdentity(t *testing.T) {
	ctx := testContext(t)
	_, rem := serve(t, newCalculator(), ProvideOptions{})

	obj := &counter{}
	v, err := rem.Get("same").Call(ctx, obj, obj)
	require.NoError(t, err)
	assert.Equal(t, true, v.Interface())

	v, err = rem.Get("same").Call(ctx, obj, &counter{})
	require.NoError(t, err)
	assert.Equal(t, false, v.Interface())
}

func TestReferenceRoundTrip(t *testing.T) {
	ctx := testContext(t)
	_, rem := serve(t, newCalculator(), ProvideOptions{})

	obj := &counter{}
	v, err := rem.Get("echo").Call(ctx, obj)
	require.NoError(t, err)
	assert.False(t, v.IsRemote())
	assert.Same(t, obj, v.Interface())

	// a reference the peer handed out comes back as the same handle
	counterValue, err := rem.Get("counter").Call(ctx)
	require.NoError(t, err)
	handle := counterValue.Remote()
	v, err = rem.Get("echo").Call(ctx, handle)
	require.NoError(t, err)
	assert.Same(t, handle, v.Remote())
}

func TestTimeoutRace(t *testing.T) {
	ctx := testContext(t)
	calc := newCalculator()
	server, client := link(t)
	Provide(calc, server, ProvideOptions{})
	rem := Consume(client, ConsumeOptions{Timeout: 50 * time.Millisecond, KeepaliveInterval: -1})
	defer rem.Release()

	_, err := rem.Get("wait").Call(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))

	// the late response is dropped and the consumer keeps working
	close(calc.release)
	v, err := rem.Get("add").Call(ctx, 2, 2)
	require.NoError(t, err)
	n, _ := As[int](v)
	assert.Equal(t, 4, n)

	rem.c.mu.Lock()
	pending := len(rem.c.pending)
	rem.c.mu.Unlock()
	assert.Zero(t, pending)
}

func TestContextCancel(t *testing.T) {
	calc := newCalculator()
	_, rem := serve(t, calc, ProvideOptions{})
	defer close(calc.release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := rem.Get("wait").Call(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	var cerr *CallError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, CallErrorTypeCanceled, cerr.Type)
}

func TestReleaseRejectsPending(t *testing.T) {
	calc := newCalculator()
	_, rem := serve(t, calc, ProvideOptions{})
	defer close(calc.release)

	out := rem.Get("wait").Go(context.Background())
	time.Sleep(20 * time.Millisecond)
	rem.Release()

	select {
	case o := <-out:
		assert.True(t, errors.Is(o.Err, ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not rejected")
	}
	assert.True(t, rem.Released())

	_, err := rem.Get("add").Call(context.Background(), 1, 2)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestTransportFailureRejectsImmediately(t *testing.T) {
	a, b := transport.Pipe()
	server, client := mux.Multiplex(a), mux.Multiplex(b)
	defer server.Close()
	defer client.Close()
	Provide(newCalculator(), server, ProvideOptions{})
	rem := Consume(client, ConsumeOptions{KeepaliveInterval: -1})
	a.Close()

	_, err := rem.Get("add").Call(testContext(t), 1, 2)
	require.Error(t, err)
	var cerr *CallError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, CallErrorTypeTransport, cerr.Type)
	assert.True(t, errors.Is(err, transport.ErrClosed))
}

func TestChannelsAreIsolated(t *testing.T) {
	ctx := testContext(t)
	server, client := link(t)

	Provide(map[string]any{"name": func() string { return "left" }}, server.CreateSubChannel("left"), ProvideOptions{})
	Provide(map[string]any{"name": func() string { return "right" }}, server.CreateSubChannel("right"), ProvideOptions{})
	left := Consume(client.CreateSubChannel("left"), ConsumeOptions{KeepaliveInterval: -1})
	right := Consume(client.CreateSubChannel("right"), ConsumeOptions{KeepaliveInterval: -1})
	defer left.Release()
	defer right.Release()

	for i := 0; i < 5; i++ {
		l := left.Get("name").Go(ctx)
		r := right.Get("name").Go(ctx)
		lo, ro := <-l, <-r
		require.NoError(t, lo.Err)
		require.NoError(t, ro.Err)
		assert.Equal(t, "left", lo.Value.Interface())
		assert.Equal(t, "right", ro.Value.Interface())
	}
}

func TestOverStreamTransport(t *testing.T) {
	ctx := testContext(t)
	c1, c2 := net.Pipe()
	st, ct := transport.NewConn(c1), transport.NewConn(c2)
	defer st.Close()
	defer ct.Close()

	server, client := mux.Multiplex(st), mux.Multiplex(ct)
	defer server.Close()
	defer client.Close()

	Provide(newCalculator(), server, ProvideOptions{})
	rem := Consume(client, ConsumeOptions{KeepaliveInterval: -1})
	defer rem.Release()

	v, err := rem.Get("apply").Call(ctx, func(x int) int { return x + 1 }, 41)
	require.NoError(t, err)
	n, _ := As[int](v)
	assert.Equal(t, 42, n)
}

func TestOverTextTransport(t *testing.T) {
	ctx := testContext(t)
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	st := transport.NewText(r1, w2)
	ct := transport.NewText(r2, w1)
	defer func() {
		st.Close()
		ct.Close()
		w1.Close()
		w2.Close()
	}()

	server, client := mux.Multiplex(st), mux.Multiplex(ct)
	defer server.Close()
	defer client.Close()

	Provide(newCalculator(), server, ProvideOptions{})
	rem := Consume(client, ConsumeOptions{KeepaliveInterval: -1})
	defer rem.Release()

	v, err := rem.Get("add").Call(ctx, 5, 3)
	require.NoError(t, err)
	n, _ := As[int](v)
	assert.Equal(t, 8, n)
}
