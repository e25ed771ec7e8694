package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/core"
)

func shopVars() *core.MapVariables {
	vars := core.NewVariables()
	vars.Set("user", "alice")
	vars.Set("total", 42)
	vars.Set("price", 2.5)
	vars.Set("item", map[string]any{
		"id":   float64(7),
		"name": "Tea",
		"tags": []any{"hot", "drink"},
	})
	return vars
}

func TestSubstitute(t *testing.T) {
	t.Setenv("SHOP_TOKEN", "s3cret")

	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain text", "Welcome back", "Welcome back"},
		{"empty", "", ""},
		{"variable", "Hello ${user}", "Hello alice"},
		{"several", "${user} paid ${total} for ${price}", "alice paid 42 for 2.5"},
		{"env", "Bearer ${env:SHOP_TOKEN}", "Bearer s3cret"},
		{"object field", "/items/${item.id}", "/items/7"},
		{"jsonpath index", "${item.tags[1]}", "drink"},
		{"fallback used", "${coupon|NONE}", "NONE"},
		{"fallback unused", "${user|guest}", "alice"},
		{"env fallback", "${env:SHOP_MISSING|http://localhost}", "http://localhost"},
		{"unknown function is a name", "${nope()|x}", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Substitute(tt.text, shopVars())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubstitute_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"missing variable", "${coupon}", []string{`variable "coupon" not found`}},
		{"missing env", "${env:SHOP_NOT_SET}", []string{`env var "SHOP_NOT_SET" not set`}},
		{"missing field", "${item.price}", []string{`variable "item" has no field "price"`}},
		{"all reported", "${a} and ${b}", []string{`"a" not found`, `"b" not found`}},
		{"builtin error ignores fallback", "${random_int(9,1)|0}", []string{"random_int(): min 9 is greater than max 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Substitute(tt.text, shopVars())
			require.Error(t, err)
			for _, w := range tt.want {
				assert.ErrorContains(t, err, w)
			}
		})
	}
}

func TestSubstituteValue_KeepsTypes(t *testing.T) {
	vars := shopVars()

	got, err := SubstituteValue("${total}", vars)
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = SubstituteValue("${item}", vars)
	require.NoError(t, err)
	assert.Equal(t, "Tea", got.(map[string]any)["name"])

	got, err = SubstituteValue("${item.id}", vars)
	require.NoError(t, err)
	assert.Equal(t, float64(7), got)

	got, err = SubstituteValue(map[string]any{
		"owner": "${user}",
		"qty":   "${total}",
		"lines": []any{"${item.name} x2", 3, true},
	}, vars)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"owner": "alice",
		"qty":   42,
		"lines": []any{"Tea x2", 3, true},
	}, got)
}

func TestSubstituteValue_ReportsPaths(t *testing.T) {
	_, err := SubstituteValue(map[string]any{
		"lines": []any{"ok", "${missing}"},
	}, shopVars())
	require.Error(t, err)
	assert.ErrorContains(t, err, `lines: [1]: variable "missing" not found`)
}
