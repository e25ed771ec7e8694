package conductor_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor"
)

type greeter struct{ greeted atomic.Int32 }

func (g *greeter) Name() string { return "Greeter" }

func (g *greeter) Methods() []conductor.Method {
	return []conductor.Method{
		{Name: "greet", Fn: func(_ context.Context, args ...any) (any, error) {
			g.greeted.Add(1)
			return fmt.Sprintf("hello %v", args[0]), nil
		}},
		{Name: "fail", Fn: func(context.Context, ...any) (any, error) {
			return nil, errors.New("boom")
		}},
	}
}

func TestRunParallel(t *testing.T) {
	g := &greeter{}
	var suites []*conductor.Suite
	for i := range 3 {
		s := conductor.NewSuite(fmt.Sprintf("suite %d", i))
		s.Scenario("greets", func(I *conductor.Actor) { I.Do("greet", i) })
		suites = append(suites, s)
	}
	suites[2].Scenario("fails", func(I *conductor.Actor) { I.Do("fail") })

	res, coll, err := conductor.RunParallel(context.Background(), 2,
		conductor.Options{Helpers: []conductor.Helper{g}}, suites...)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Tests)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int32(3), g.greeted.Load())

	m := coll.Compute()
	assert.Equal(t, 4, m.Tests)
	assert.Equal(t, 1, m.TestsFailed)
}

func Example() {
	e, err := conductor.New(conductor.Options{Helpers: []conductor.Helper{&greeter{}}})
	if err != nil {
		panic(err)
	}
	defer e.Close()

	s := conductor.NewSuite("Greeting")
	s.Scenario("says hello", func(ctx context.Context, I *conductor.Actor) error {
		v, err := I.Do("greet", "world").Wait(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	})
	res := e.Run(context.Background(), s)
	fmt.Println(res.Passed, "passed")
	// Output:
	// hello world
	// 1 passed
}
