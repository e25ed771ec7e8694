package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkoutFeature = `
feature: "Checkout"
tags: ["@shop"]
vars:
  user: "alice"
before:
  - do: amOnPage
    args: ["/"]
scenarios:
  - name: "adds item @smoke"
    retries: 2
    steps:
      - do: sendPostRequest
        args: ["/cart", {"sku": "A1"}]
        save: cartId
      - say: "cart ${cartId}"
      - tryTo:
          - do: click
            args: ["#cookie-banner"]
      - within:
          locator: "#cart"
          steps:
            - do: see
              args: ["A1"]
      - retryTo:
          tries: 3
          poll: 100ms
          steps:
            - do: seeResponseCodeIs
              args: [200]
      - session:
          name: "admin"
          steps:
            - do: amOnPage
              args: ["/admin"]
  - name: "rejects empty cart"
    throws:
      message: "cart is empty"
    data:
      rows:
        - sku: ""
    steps:
      - do: click
        args: ["#checkout"]
        timeout: 2s
`

func TestLoadScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(checkoutFeature), 0644))

	f, err := LoadScenarioFile(path)
	require.NoError(t, err)

	assert.Equal(t, "Checkout", f.Feature)
	assert.Equal(t, path, f.Path)
	assert.Equal(t, "alice", f.Vars["user"])
	require.Len(t, f.Before, 1)
	require.Len(t, f.Scenarios, 2)

	sc := f.Scenarios[0]
	require.NotNil(t, sc.Retries)
	assert.Equal(t, 2, *sc.Retries)
	require.Len(t, sc.Steps, 6)
	assert.Equal(t, "do", sc.Steps[0].Kind())
	assert.Equal(t, "cartId", sc.Steps[0].Save)
	assert.Equal(t, "say", sc.Steps[1].Kind())
	assert.Equal(t, "tryTo", sc.Steps[2].Kind())
	assert.Equal(t, "#cart", sc.Steps[3].Within.Locator)
	assert.Equal(t, 100*time.Millisecond, sc.Steps[4].RetryTo.Poll)
	assert.Equal(t, "admin", sc.Steps[5].Session.Name)

	sc = f.Scenarios[1]
	require.NotNil(t, sc.Throws)
	assert.Equal(t, "cart is empty", sc.Throws.Message)
	require.NotNil(t, sc.Data)
	assert.Len(t, sc.Data.Rows, 1)
	assert.Equal(t, 2*time.Second, sc.Steps[0].Timeout)
}

func TestScenarioFile_Validate(t *testing.T) {
	f := &ScenarioFile{
		Scenarios: []ScenarioConfig{
			{Steps: []Action{{Do: "see", Say: "both"}}},
			{Name: "nested", Steps: []Action{
				{Within: &WithinAction{Steps: []Action{{}}}},
				{RetryTo: &RetryToAction{Steps: []Action{{Do: "see"}}}},
				{Session: &SessionAction{}},
			}},
			{Name: "data", Data: &DataConfig{}, Steps: []Action{{Do: "see"}}},
		},
	}

	err := f.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"feature is required",
		"scenarios[0]: name is required",
		"scenarios[0].steps[0]: exactly one of",
		`scenario "nested".steps[0]: within.locator is required`,
		`scenario "nested".steps[0].within.steps[0]: exactly one of`,
		`scenario "nested".steps[1]: retryTo.tries must be at least 1`,
		`scenario "nested".steps[2]: session.name is required`,
		`scenario "data": data needs a file or rows`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadScenarioFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("feature: x\n"), 0644))

	_, err := LoadScenarioFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one scenario is required")
}

func TestResolveTests(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yaml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	files, err := ResolveTests(dir, []string{"*.yaml", "a.yaml"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yaml")}, files)

	_, err = ResolveTests(dir, []string{"[bad"})
	assert.Error(t, err)
}
