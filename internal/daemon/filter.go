package daemon

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/csync-dev/csync/internal/utils"
)

// Filter decides whether a path is excluded from sync. Patterns are tried in
// order, first match wins:
//
//   - "name/" excludes the directory itself and everything under it, on whole
//     path-segment boundaries (".git/" never matches ".gitignore")
//   - patterns with wildcards glob-match the root-relative path and the bare
//     file name, case-sensitive
//   - anything else is an exact match against the relative path or file name
//
// An optional gitignore matcher covers harvested .gitignore lines, which have
// their own matching semantics.
type Filter struct {
	root     string
	patterns []string
	ignore   *gitignore.GitIgnore
}

func NewFilter(root string, patterns []string, ignore *gitignore.GitIgnore) *Filter {
	return &Filter{
		root:     root,
		patterns: patterns,
		ignore:   ignore,
	}
}

func (f *Filter) ShouldExclude(path string) bool {
	rel := utils.RelPath(f.root, path)
	name := filepath.Base(path)

	for _, pattern := range f.patterns {
		pattern = strings.ReplaceAll(pattern, "\\", "/")

		switch {
		case strings.HasSuffix(pattern, "/"):
			dir := strings.TrimSuffix(pattern, "/")
			if rel == dir || strings.HasPrefix(rel, dir+"/") {
				return true
			}
		case strings.ContainsAny(pattern, "*?["):
			if ok, _ := doublestar.Match(pattern, rel); ok {
				return true
			}
			if ok, _ := doublestar.Match(pattern, name); ok {
				return true
			}
		default:
			if rel == pattern || name == pattern {
				return true
			}
		}
	}

	if f.ignore != nil && f.ignore.MatchesPath(rel) {
		return true
	}

	return false
}
