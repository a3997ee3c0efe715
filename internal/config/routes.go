package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Routes is the optional YAML file describing public routes and upstream services.
//
//	public_paths: ["/login", "/api/health"]
//	public_prefixes: ["/static/"]
//	upstreams:
//	  auth: http://auth:4000
//	  pharmacy: http://pharmacy:4003
type Routes struct {
	PublicPaths    []string          `yaml:"public_paths"`
	PublicPrefixes []string          `yaml:"public_prefixes"`
	Upstreams      map[string]string `yaml:"upstreams"`
}

// LoadRoutes parses and validates a routes file.
func LoadRoutes(path string) (*Routes, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var routes Routes
	if err := yaml.Unmarshal(raw, &routes); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for name, target := range routes.Upstreams {
		u, err := url.Parse(target)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("upstream %q: invalid url %q", name, target)
		}
	}
	return &routes, nil
}

// Apply merges the file into the gateway configuration. Public entries are
// appended to the env-provided lists; upstreams override by name.
func (r *Routes) Apply(gw *GatewayConfig) {
	if r == nil || gw == nil {
		return
	}
	gw.PublicPaths = appendUnique(gw.PublicPaths, r.PublicPaths...)
	gw.PublicPrefixes = appendUnique(gw.PublicPrefixes, r.PublicPrefixes...)
	if gw.Upstreams == nil {
		gw.Upstreams = make(map[string]string, len(r.Upstreams))
	}
	for name, target := range r.Upstreams {
		gw.Upstreams[name] = target
	}
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range values {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}
