// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGitignore(t *testing.T, root, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte(content), 0o644))
}

func TestIgnoreFilterPatterns(t *testing.T) {
	root := t.TempDir()
	writeGitignore(t, root, "# build output\n__pycache__/\nvendor\n\nbuild/\n")

	f := NewIgnoreFilter(root)

	tests := []struct {
		name   string
		path   string
		ignore bool
	}{
		{"plain file", "app.py", false},
		{"nested file", "lib/util.py", false},
		{"ignored dir", "vendor/dep.py", true},
		{"nested ignored dir", "src/vendor/dep.py", true},
		{"trailing slash pattern", "build/out.py", true},
		{"pycache anywhere", "lib/__pycache__/util.cpython-311.pyc", true},
		{"comment is not a pattern", "# build output", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ignore, f.ShouldIgnore(tt.path))
		})
	}
}

func TestIgnoreFilterForceInclude(t *testing.T) {
	root := t.TempDir()
	writeGitignore(t, root, ".claude\n.ce\ntools\n")

	f := NewIgnoreFilter(root)

	assert.False(t, f.ShouldIgnore(".claude/commands/run.py"),
		"default force-include beats an explicit ignore pattern")
	assert.False(t, f.ShouldIgnore(".ce/state.py"))
	assert.True(t, f.ShouldIgnore("tools/helper.py"))

	custom := NewIgnoreFilter(root, WithForceInclude("tools"))
	assert.False(t, custom.ShouldIgnore("tools/helper.py"))
	assert.True(t, custom.ShouldIgnore(".claude/commands/run.py"),
		"overriding force-include drops the defaults")
}

func TestIgnoreFilterNoGitignore(t *testing.T) {
	f := NewIgnoreFilter(t.TempDir())

	assert.False(t, f.ShouldIgnore("anything.py"))
	assert.False(t, f.ShouldIgnore("deep/nested/path.py"))
}

func TestIgnoreFilterAbsolutePaths(t *testing.T) {
	root := t.TempDir()
	writeGitignore(t, root, "secret\n")

	f := NewIgnoreFilter(root)

	assert.True(t, f.ShouldIgnore(filepath.Join(root, "secret", "keys.py")))
	assert.False(t, f.ShouldIgnore(filepath.Join(root, "public", "api.py")))
}

func TestIgnoreFilterFilterFiles(t *testing.T) {
	root := t.TempDir()
	writeGitignore(t, root, "vendor\n")

	f := NewIgnoreFilter(root)

	kept := f.FilterFiles([]string{"a.py", "vendor/b.py", "c.py"})
	assert.Equal(t, []string{"a.py", "c.py"}, kept)
}
