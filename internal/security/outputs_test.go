package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	out := filepath.Join(root, "out")
	elsewhere := filepath.Join(root, "elsewhere")
	require.NoError(t, os.MkdirAll(out, 0755))
	require.NoError(t, os.MkdirAll(elsewhere, 0755))
	require.NoError(t, os.Symlink(elsewhere, filepath.Join(out, "link")))

	tests := []struct {
		name    string
		path    string
		escapes bool
	}{
		{"direct child", filepath.Join(out, "walk.png"), false},
		{"nested new dir", filepath.Join(out, "a", "b", "walk.png"), false},
		{"dot dot", filepath.Join(out, "..", "walk.png"), true},
		{"sibling", filepath.Join(elsewhere, "walk.png"), true},
		{"through symlink", filepath.Join(out, "link", "walk.png"), true},
		{"new file under symlink dir", filepath.Join(out, "link", "new", "walk.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, out)
			if tt.escapes {
				assert.ErrorIs(t, err, ErrPathEscapes)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, ValidatePathWithinDirectory(filepath.Join(root, "x"), filepath.Join(root, "missing")))
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"walk":             "walk",
		"walk with push":   "walk_with_push",
		"../../etc/passwd": "etc_passwd",
		"push: +5cm fwd":   "push_5cm_fwd",
		"  ":               "run",
		"":                 "run",
		"..":               "run",
		"gait-v2.1":        "gait-v2.1",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "label %q", in)
	}

	assert.Len(t, SanitizeFilename(strings.Repeat("a", 300)), maxFilenameLen)
}

func TestOutputPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p, err := OutputPath(dir, "../two steps", "_trace.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "two_steps_trace.png"), p)

	_, err = OutputPath(filepath.Join(dir, "missing"), "walk", ".html")
	assert.Error(t, err)
}
