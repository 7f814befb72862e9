package pathmap

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// compileWildcard builds a matcher where '*' matches any run of characters,
// '/' included, and every other character is literal and case-sensitive.
func compileWildcard(pattern string) (glob.Glob, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = glob.QuoteMeta(part)
	}
	return glob.Compile(strings.Join(parts, "*"))
}

type globCache struct {
	compiled sync.Map // pattern -> glob.Glob
}

func (c *globCache) get(pattern string) (glob.Glob, error) {
	if g, ok := c.compiled.Load(pattern); ok {
		return g.(glob.Glob), nil
	}
	g, err := compileWildcard(pattern)
	if err != nil {
		return nil, err
	}
	c.compiled.Store(pattern, g)
	return g, nil
}

// matchAny reports whether any candidate matches any pattern.
func (c *globCache) matchAny(patterns []string, candidates ...string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		g, err := c.get(pattern)
		if err != nil {
			continue
		}
		for _, candidate := range candidates {
			if g.Match(candidate) {
				return true
			}
		}
	}
	return false
}
