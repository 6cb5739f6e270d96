package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter filters document events by origin and kind glob patterns
type GlobFilter struct {
	originGlobs []glob.Glob
	kindGlobs   []glob.Glob
}

// NewGlobFilter creates a glob-based filter. Empty pattern lists match everything.
func NewGlobFilter(originPatterns, kindPatterns []string) (*GlobFilter, error) {
	origins, err := compileAll("origin", originPatterns)
	if err != nil {
		return nil, err
	}
	kinds, err := compileAll("kind", kindPatterns)
	if err != nil {
		return nil, err
	}
	return &GlobFilter{originGlobs: origins, kindGlobs: kinds}, nil
}

// Match returns true if both the origin and the kind match
func (f *GlobFilter) Match(origin, kind string) bool {
	return matchAny(f.originGlobs, origin) && matchAny(f.kindGlobs, kind)
}

func compileAll(what string, patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", what, pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func matchAny(globs []glob.Glob, s string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
