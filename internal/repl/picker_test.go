package repl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir,
		"main.go",
		"README.md",
		".hanabi.json",
		"pkg/util.go",
		"pkg/.hanabi.json",
		"dist/bundle.js",
		".git/HEAD",
		"node_modules/x/index.js",
		"notes/todo.log",
	)

	files, err := listFiles(dir, []string{"dist", "**/*.log"})
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "main.go", "pkg/util.go"}, files)
}

func TestFilter(t *testing.T) {
	choices := []string{"cmd/main.go", "README.md", "go.mod", "internal/x.go"}

	tests := []struct {
		name string
		term string
		want []string
	}{
		{"empty term keeps all", "  ", choices},
		{"regexp", `\.go$`, []string{"cmd/main.go", "internal/x.go"}},
		{"case insensitive", "readme", []string{"README.md"}},
		{"invalid regexp is literal", "go.(", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filter(choices, tt.term))
		})
	}
}

func TestPick(t *testing.T) {
	choices := []string{"cmd/main.go", "go.mod", "internal/a.go", "internal/b.go"}

	tests := []struct {
		name        string
		answer      string
		globs       bool
		wantPicked  []string
		wantUnknown []string
	}{
		{"numbers", "2, 1", false, []string{"go.mod", "cmd/main.go"}, nil},
		{"names", "go.mod,internal/b.go", false, []string{"go.mod", "internal/b.go"}, nil},
		{"duplicates collapse", "2,go.mod", false, []string{"go.mod"}, nil},
		{"out of range", "0,5", false, nil, []string{"0", "5"}},
		{"unknown name", "nope", false, nil, []string{"nope"}},
		{"glob", "internal/*.go", true, []string{"internal/a.go", "internal/b.go"}, nil},
		{"glob disabled", "internal/*.go", false, nil, []string{"internal/*.go"}},
		{"doublestar", "**/*.go", true, []string{"cmd/main.go", "internal/a.go", "internal/b.go"}, nil},
		{"empty", "", false, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			picked, unknown := pick(tt.answer, choices, tt.globs)
			assert.Equal(t, tt.wantPicked, picked)
			assert.Equal(t, tt.wantUnknown, unknown)
		})
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "normal", ModeNormal.String())
	assert.Equal(t, "picking-file", ModePickingFile.String())
	assert.Equal(t, "picking-mcp", ModePickingMcp.String())
	assert.Equal(t, "picking-model", ModePickingModel.String())
}
