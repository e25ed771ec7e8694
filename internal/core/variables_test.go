package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVariables_GetSet(t *testing.T) {
	vars := NewVariables()
	vars.Set("token", "abc")

	v, ok := vars.Get("token")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	_, ok = vars.Get("missing")
	assert.False(t, ok)
}

func TestVariables_ChildScope(t *testing.T) {
	suite := NewVariables()
	suite.Set("endpoint", "/api")
	suite.Set("user", "admin")

	test := suite.Child()
	test.Set("user", "alice")
	test.Set("item", 7)

	v, _ := test.Get("endpoint")
	assert.Equal(t, "/api", v, "reads fall through")
	v, _ = test.Get("user")
	assert.Equal(t, "alice", v, "inner shadows outer")
	v, _ = suite.Get("user")
	assert.Equal(t, "admin", v, "writes stay inner")
	_, ok := suite.Get("item")
	assert.False(t, ok)

	suite.Set("late", true)
	v, _ = test.Get("late")
	assert.Equal(t, true, v, "parents stay live")

	assert.Equal(t, map[string]any{"endpoint": "/api", "user": "alice", "item": 7, "late": true}, test.Snapshot())
}

func TestVariables_SnapshotIsACopy(t *testing.T) {
	vars := NewVariables()
	vars.Set("a", 1)
	snap := vars.Snapshot()
	vars.Set("a", 2)
	assert.Equal(t, 1, snap["a"])
}

func TestWorkerID(t *testing.T) {
	ctx := context.Background()
	assert.Zero(t, WorkerIDFromContext(ctx))
	assert.Equal(t, 42, WorkerIDFromContext(ContextWithWorkerID(ctx, 42)))
}
