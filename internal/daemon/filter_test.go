package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterDirectoryPatterns(t *testing.T) {
	f := NewFilter("/project", []string{".git/"}, nil)

	t.Run("matches the directory itself", func(t *testing.T) {
		assert.True(t, f.ShouldExclude("/project/.git"))
	})

	t.Run("matches paths inside the directory", func(t *testing.T) {
		assert.True(t, f.ShouldExclude("/project/.git/config"))
		assert.True(t, f.ShouldExclude("/project/.git/objects/ab/cdef"))
	})

	t.Run("does not match sibling names sharing the prefix", func(t *testing.T) {
		assert.False(t, f.ShouldExclude("/project/.gitignore"))
		assert.False(t, f.ShouldExclude("/project/.github/workflows/ci.yml"))
	})
}

func TestFilterWildcardPatterns(t *testing.T) {
	f := NewFilter("/project", []string{"*.pyc", "build-*/"}, nil)

	t.Run("matches against file name", func(t *testing.T) {
		assert.True(t, f.ShouldExclude("/project/pkg/module.pyc"))
	})

	t.Run("does not match other extensions", func(t *testing.T) {
		assert.False(t, f.ShouldExclude("/project/pkg/module.py"))
	})

	t.Run("case sensitive", func(t *testing.T) {
		assert.False(t, f.ShouldExclude("/project/module.PYC"))
	})
}

func TestFilterExactPatterns(t *testing.T) {
	f := NewFilter("/project", []string{".DS_Store", "docs/notes.txt"}, nil)

	t.Run("matches the bare file name anywhere", func(t *testing.T) {
		assert.True(t, f.ShouldExclude("/project/.DS_Store"))
		assert.True(t, f.ShouldExclude("/project/sub/dir/.DS_Store"))
	})

	t.Run("no substring matches", func(t *testing.T) {
		assert.False(t, f.ShouldExclude("/project/my.DS_Store.bak"))
	})

	t.Run("matches the root-relative path", func(t *testing.T) {
		assert.True(t, f.ShouldExclude("/project/docs/notes.txt"))
		assert.False(t, f.ShouldExclude("/project/other/docs/notes.txt"))
	})
}

func TestFilterPatternOrder(t *testing.T) {
	// first match wins, but order can't change the outcome since all
	// patterns are tried until one matches
	a := NewFilter("/project", []string{"*.log", ".git/"}, nil)
	b := NewFilter("/project", []string{".git/", "*.log"}, nil)

	for _, path := range []string{"/project/.git/HEAD", "/project/debug.log", "/project/main.go"} {
		assert.Equal(t, a.ShouldExclude(path), b.ShouldExclude(path), path)
	}
}

func TestFilterNoPatterns(t *testing.T) {
	f := NewFilter("/project", nil, nil)
	assert.False(t, f.ShouldExclude("/project/.git/config"))
	assert.False(t, f.ShouldExclude("/project/anything"))
}
