package scheduler

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Filter matches dotted names against glob patterns, e.g. "billing.*" or
// "reports.{daily,weekly}". A filter without patterns matches everything.
type Filter struct {
	patterns []string
	matchers []glob.Glob
}

func NewFilter(patterns ...string) (Filter, error) {
	f := Filter{patterns: patterns}
	for _, pattern := range patterns {
		matcher, err := glob.Compile(pattern, '.')
		if err != nil {
			return Filter{}, fmt.Errorf("compiling filter %q: %w", pattern, err)
		}
		f.matchers = append(f.matchers, matcher)
	}
	return f, nil
}

func (f Filter) Match(name string) bool {
	if len(f.matchers) == 0 {
		return true
	}
	for _, m := range f.matchers {
		if m.Match(name) {
			return true
		}
	}
	return false
}

func (f Filter) String() string {
	return fmt.Sprint(f.patterns)
}
