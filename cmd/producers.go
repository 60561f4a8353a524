package main

import (
	"context"
	"fmt"
	"time"

	"github.com/l0p7/pagecache/internal/config"
	"github.com/l0p7/pagecache/internal/engine"
	"github.com/l0p7/pagecache/internal/policy"
	"github.com/l0p7/pagecache/internal/server"
	"github.com/l0p7/pagecache/internal/templates"
)

const defaultContentType = "text/html; charset=utf-8"

// pageData is what a route body template can reference on each render.
type pageData struct {
	Path      string
	Generated time.Time
}

// newProducer compiles a route's body template once and returns the producer
// the cache engine invokes on misses. Every render stamps a fresh Generated
// time so cached pages are distinguishable from reproduced ones.
func newProducer(renderer *templates.Renderer, path string, rc config.RouteConfig) (engine.Producer, error) {
	var (
		tmpl *templates.Template
		err  error
	)
	switch {
	case rc.BodyFile != "":
		tmpl, err = renderer.CompileFile(rc.BodyFile)
	default:
		tmpl, err = renderer.CompileInline(path, rc.Body)
	}
	if err != nil {
		return nil, fmt.Errorf("route %q: %w", path, err)
	}
	contentType := rc.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	return func(ctx context.Context) (engine.Payload, error) {
		if tmpl == nil {
			return engine.Payload{ContentType: contentType}, nil
		}
		body, err := tmpl.Render(pageData{Path: path, Generated: time.Now().UTC()})
		if err != nil {
			return engine.Payload{}, fmt.Errorf("route %q: render: %w", path, err)
		}
		return engine.Payload{Body: body, ContentType: contentType}, nil
	}, nil
}

// buildRegistry converts the declared policies, base first and TTL-clamped,
// into a registry the route table resolves against.
func buildRegistry(cfg config.Config) (*policy.Registry, error) {
	set, err := cfg.PolicySet()
	if err != nil {
		return nil, err
	}
	reg := policy.NewRegistry()
	for _, pol := range set {
		if err := reg.Register(pol); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// buildRenderer prepares the page template renderer, sandboxed to the
// configured folder when one is set.
func buildRenderer(cfg config.Config) (*templates.Renderer, error) {
	var sandbox *templates.Sandbox
	if folder := cfg.Server.Templates.Folder; folder != "" {
		var err error
		sandbox, err = templates.NewSandbox(folder)
		if err != nil {
			return nil, err
		}
	}
	return templates.NewRenderer(sandbox), nil
}

// buildRoutes resolves every configured route against the registry and
// compiles its producer. Unknown policy references and broken templates fail
// the whole build so a bad config never serves partially.
func buildRoutes(cfg config.Config, reg *policy.Registry) (map[string]server.Route, error) {
	renderer, err := buildRenderer(cfg)
	if err != nil {
		return nil, err
	}
	routes := make(map[string]server.Route, len(cfg.Routes))
	for path, rc := range cfg.Routes {
		pol, err := reg.Resolve(rc.Policy)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", path, err)
		}
		produce, err := newProducer(renderer, path, rc)
		if err != nil {
			return nil, err
		}
		routes[path] = server.Route{Policy: pol, Produce: produce}
	}
	return routes, nil
}
