package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTable(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	return dir
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		ref     string
		want    []Row
	}{
		{
			name:    "csv",
			file:    "users.csv",
			content: "login, password\ndavert, 123\nnick,\n",
			want: []Row{
				{"login": "davert", "password": "123"},
				{"login": "nick", "password": ""},
			},
		},
		{
			name:    "csv short line",
			file:    "users.csv",
			content: "login,password\nsolo\n",
			want:    []Row{{"login": "solo", "password": ""}},
		},
		{
			name:    "json",
			file:    "users.json",
			content: `[{"login":"davert","age":30,"admin":true}]`,
			want:    []Row{{"login": "davert", "age": float64(30), "admin": true}},
		},
		{
			name:    "json selector",
			file:    "fixtures.json",
			content: `{"users":[{"login":"a"},{"login":"b"}],"items":[]}`,
			ref:     "fixtures.json#$.users",
			want:    []Row{{"login": "a"}, {"login": "b"}},
		},
		{
			name:    "yaml",
			file:    "users.yml",
			content: "- login: davert\n  roles: [admin]\n- login: nick\n",
			want: []Row{
				{"login": "davert", "roles": []any{"admin"}},
				{"login": "nick"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeTable(t, tt.file, tt.content)
			ref := tt.ref
			if ref == "" {
				ref = tt.file
			}
			rows, err := Load(ref, dir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestLoad_AbsolutePath(t *testing.T) {
	dir := writeTable(t, "users.csv", "login\nalice\n")

	rows, err := Load(filepath.Join(dir, "users.csv"), "/nowhere")
	require.NoError(t, err)
	assert.Equal(t, []Row{{"login": "alice"}}, rows)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		ref     string
		want    string
	}{
		{"missing file", "", "", "absent.csv", "no such file"},
		{"unsupported", "users.txt", "login", "", `unsupported table format ".txt"`},
		{"header only", "users.csv", "login,password\n", "", "table has no rows"},
		{"empty csv", "users.csv", "", "", "table has no rows"},
		{"extra fields", "users.csv", "login\na,b\n", "", "line 2: 2 fields for 1 columns"},
		{"invalid json", "users.json", "{", "", "invalid JSON"},
		{"json object", "users.json", `{"login":"a"}`, "", "want an array of objects"},
		{"json scalars", "users.json", `[1]`, "", "item 0 is Number, want an object"},
		{"empty json", "users.json", `[]`, "", "table has no rows"},
		{"selector miss", "users.json", `{"a":[]}`, "users.json#$.users", `selector "$.users" matched nothing`},
		{"selector on csv", "users.csv", "login\na\n", "users.csv#$.x", "needs a .json table"},
		{"yaml mapping", "users.yaml", "login: a\n", "", "users.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.file != "" {
				dir = writeTable(t, tt.file, tt.content)
			}
			ref := tt.ref
			if ref == "" {
				ref = tt.file
			}
			_, err := Load(ref, dir)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
