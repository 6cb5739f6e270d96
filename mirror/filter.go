package mirror

import (
	"fmt"

	"github.com/gobwas/glob"
)

// OriginFilter restricts mirroring to origins matching any of its globs.
// A filter without patterns, or a nil filter, allows every origin.
type OriginFilter struct {
	globs []glob.Glob
}

func NewOriginFilter(patterns []string) (*OriginFilter, error) {
	f := &OriginFilter{globs: make([]glob.Glob, 0, len(patterns))}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid origin pattern %q: %w", pattern, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

func (f *OriginFilter) Allow(origin string) bool {
	if f == nil || len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if g.Match(origin) {
			return true
		}
	}
	return false
}
