package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func defaultClassifier() *Classifier {
	return NewClassifier(
		[]string{"/login", "/api/health", "/favicon.ico"},
		[]string{"/_next/static/", "/_next/image", "/api/auth/"},
	)
}

func TestClassifierPublicPaths(t *testing.T) {
	c := defaultClassifier()

	cases := map[string]bool{
		"/login":                    true,
		"/api/health":               true,
		"/favicon.ico":              true,
		"/_next/static/chunks/a.js": true,
		"/_next/image":              true,
		"/_next/image?url=x":        true,
		"/api/auth/callback":        true,
		"/dashboard":                false,
		"/":                         false,
		"/Login":                    false,
		"/login/extra":              false,
		"/api/healthz":              false,
		"/api/auth":                 false,
		"/pharmacy/_next/static/x":  false,
		"":                          false,
	}
	for path, want := range cases {
		assert.Equal(t, want, c.IsPublic(path), path)
	}
}

func TestClassifierIgnoresEmptyEntries(t *testing.T) {
	c := NewClassifier([]string{""}, []string{""})
	assert.False(t, c.IsPublic("/anything"))
	assert.False(t, c.IsPublic(""))
}

// Classification depends only on the path, never on earlier calls.
func TestClassifierIsPureProperty(t *testing.T) {
	c := defaultClassifier()
	pathGen := rapid.OneOf(
		rapid.SampledFrom([]string{"/login", "/api/health", "/dashboard", "/_next/static/x.css", "/api/auth/cb", "/hr/staff"}),
		rapid.StringMatching(`/[a-zA-Z_./-]{0,24}`),
	)

	rapid.Check(t, func(t *rapid.T) {
		paths := rapid.SliceOfN(pathGen, 1, 20).Draw(t, "paths")
		first := make([]bool, len(paths))
		for i, p := range paths {
			first[i] = c.IsPublic(p)
		}
		for i := len(paths) - 1; i >= 0; i-- {
			if c.IsPublic(paths[i]) != first[i] {
				t.Fatalf("classification of %q changed between calls", paths[i])
			}
		}
		fresh := defaultClassifier()
		for i, p := range paths {
			if fresh.IsPublic(p) != first[i] {
				t.Fatalf("classification of %q depends on classifier history", p)
			}
		}
	})
}
