package middleware

import "strings"

// Classifier decides which request paths bypass the session gateway.
// Matching is case-sensitive: a path is public when it equals one of the
// public paths or starts with one of the public prefixes.
type Classifier struct {
	exact    map[string]struct{}
	prefixes []string
}

func NewClassifier(publicPaths, publicPrefixes []string) *Classifier {
	c := &Classifier{
		exact: make(map[string]struct{}, len(publicPaths)),
	}
	for _, p := range publicPaths {
		if p != "" {
			c.exact[p] = struct{}{}
		}
	}
	for _, p := range publicPrefixes {
		if p != "" {
			c.prefixes = append(c.prefixes, p)
		}
	}
	return c
}

func (c *Classifier) IsPublic(path string) bool {
	if _, ok := c.exact[path]; ok {
		return true
	}
	for _, prefix := range c.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
