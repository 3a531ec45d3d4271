// Package datasource builds data collaborators and change feeds from DSNs.
package datasource

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/rs/zerolog"
)

// Options are shared by every factory.
type Options struct {
	Logger *zerolog.Logger
}

func (o Options) logger(component string) zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return o.Logger.With().Str("component", component).Logger()
}

type SourceFactory func(dsn string, opts Options) (leadsync.DataSource, error)
type FeedFactory func(dsn string, opts Options) (leadsync.ChangeFeed, error)

var factoryRegistry = struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
	feeds   map[string]FeedFactory
}{
	sources: map[string]SourceFactory{},
	feeds:   map[string]FeedFactory{},
}

// RegisterSourceFactory overrides or adds the source built for scheme.
func RegisterSourceFactory(scheme string, factory SourceFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.sources[scheme] = factory
}

func RegisterFeedFactory(scheme string, factory FeedFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.feeds[scheme] = factory
}

func lookupSourceFactory(scheme string) (SourceFactory, bool) {
	scheme = normalizeScheme(scheme)
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	factory, ok := factoryRegistry.sources[scheme]
	return factory, ok
}

func lookupFeedFactory(scheme string) (FeedFactory, bool) {
	scheme = normalizeScheme(scheme)
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	factory, ok := factoryRegistry.feeds[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildSourceFromDSN picks a data collaborator by DSN scheme. An empty DSN
// yields an empty in-memory source.
func BuildSourceFromDSN(dsn string, opts Options) (leadsync.DataSource, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemorySource(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupSourceFactory(scheme); ok {
		return factory(dsn, opts)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemorySource(), nil
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileSource(path, opts)
	case "postgres", "postgresql":
		return NewPostgresSource(dsn, opts)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: data source %s", leadsync.ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported data source scheme: %s", scheme)
	}
}

// BuildFeedFromDSN picks a standalone change feed. An empty DSN returns nil,
// meaning the source's own feed is used if it has one.
func BuildFeedFromDSN(dsn string, opts Options) (leadsync.ChangeFeed, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupFeedFactory(scheme); ok {
		return factory(dsn, opts)
	}
	switch scheme {
	case "ws", "wss":
		return NewWebSocketFeed(dsn, opts)
	case "redis", "rediss":
		return NewRedisFeed(dsn, opts)
	case "postgres", "postgresql":
		return NewPostgresSource(dsn, opts)
	default:
		return nil, fmt.Errorf("unsupported change feed scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", leadsync.ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", leadsync.ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if parsed.Host != "" && path != "" {
		path = parsed.Host + path
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", leadsync.ErrInvalidInput
	}
	return path, nil
}
