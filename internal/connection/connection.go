// Package connection wires one authenticated account to its remote
// endpoint and local mirror, and owns the lifecycle of everything
// underneath: clock sync, cache scope, stream registry and the
// dual-source services.
package connection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/driftline/driftline/internal/accessor"
	"github.com/driftline/driftline/internal/api"
	"github.com/driftline/driftline/internal/clock"
	"github.com/driftline/driftline/internal/domain"
	"github.com/driftline/driftline/internal/events"
	"github.com/driftline/driftline/internal/store"
	"github.com/driftline/driftline/internal/streams"
	"github.com/driftline/driftline/internal/streamtree"
)

// Options configures a connection. Username, Domain and Token are
// required; everything else has a usable default.
type Options struct {
	Username string
	Domain   string
	Token    string

	// APIURL overrides the endpoint derived from username and domain.
	APIURL string

	// UseCache opens the local mirror at construction. A later
	// SetupCacheScope opens it on demand either way.
	UseCache bool
	// CacheDir is the base directory holding per-account mirrors.
	// Defaults to the user cache dir.
	CacheDir string

	Logger *slog.Logger
}

// Connection is the root object of the client. All exported methods are
// safe for concurrent use.
type Connection struct {
	username  string
	domain    string
	token     string
	apiURL    string
	namespace string
	cacheDir  string
	logger    *slog.Logger

	clock    *clock.Sync
	scope    *domain.Scope
	cacheRef *domain.CacheRef
	act      *accessor.Activation
	registry *streamtree.Registry
	dual     *accessor.Dual

	events  *events.Service
	streams *streams.Service

	lifecycle context.Context
	teardown  context.CancelFunc

	openMu    sync.Mutex // serializes cache opening and scoping
	closeOnce sync.Once
	closeErr  error
}

// New builds a connection. Construction follows a fixed order: identity
// and endpoint first, then clock and scope, then the API client, then the
// mirror (when asked for), then the services on top. Opening the mirror
// is the only constructor step that can fail.
func New(opts Options) (*Connection, error) {
	return newConnection(opts, nil)
}

// newConnection exists so tests can slot in a fake API.
func newConnection(opts Options, remote domain.API) (*Connection, error) {
	if opts.Username == "" {
		return nil, fmt.Errorf("connection: username is required")
	}
	if opts.Domain == "" {
		return nil, fmt.Errorf("connection: domain is required")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("connection: token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = fmt.Sprintf("https://%s.%s", opts.Username, opts.Domain)
	}
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("connection: no cache dir: %w", err)
		}
		cacheDir = filepath.Join(base, "driftline")
	}

	c := &Connection{
		username:  opts.Username,
		domain:    opts.Domain,
		token:     opts.Token,
		apiURL:    apiURL,
		namespace: CacheFolderName(apiURL, opts.Token, opts.Username, opts.Domain),
		cacheDir:  cacheDir,
		logger:    logger,
		clock:     clock.New(),
		scope:     domain.NewScope(),
		cacheRef:  &domain.CacheRef{},
		act:       accessor.NewActivation(true, opts.UseCache),
		registry:  streamtree.New(logger),
	}

	if remote == nil {
		remote = api.NewClient(apiURL, opts.Token, c.clock, logger)
	}

	if opts.UseCache {
		if err := c.openCacheLocked(true); err != nil {
			return nil, err
		}
	}

	c.lifecycle, c.teardown = context.WithCancel(context.Background())
	c.dual = accessor.New(c.act, c.cacheRef, c.lifecycle, logger)
	c.events = events.NewService(c.dual, remote, c.clock, c.scope, logger)
	c.streams = streams.NewService(c.dual, remote, c.clock, c.scope, c.registry, logger)

	logger.Info("connection ready",
		"user", opts.Username, "domain", opts.Domain, "cache", opts.UseCache, "namespace", c.namespace)
	return c, nil
}

// CacheFolderName derives the per-account mirror directory name. The
// token is hashed so it never lands on disk; username and domain stay
// readable for debugging.
func CacheFolderName(apiURL, token, username, domain string) string {
	h := sha256.Sum256([]byte(apiURL + "/" + token))
	return hex.EncodeToString(h[:6]) + "_" + sanitize(username) + "_" + sanitize(domain)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}

// Events returns the dual-source event service.
func (c *Connection) Events() *events.Service { return c.events }

// Streams returns the dual-source stream service.
func (c *Connection) Streams() *streams.Service { return c.streams }

// Registry returns the stream tree registry.
func (c *Connection) Registry() *streamtree.Registry { return c.registry }

// Username returns the account name.
func (c *Connection) Username() string { return c.username }

// Domain returns the service domain.
func (c *Connection) Domain() string { return c.domain }

// APIURL returns the endpoint requests are sent to.
func (c *Connection) APIURL() string { return c.apiURL }

// RegistrationURL returns where an access token for this domain is
// obtained.
func (c *Connection) RegistrationURL() string {
	return fmt.Sprintf("https://reg.%s/access", c.domain)
}

// CacheFolder returns the mirror directory name for this connection.
func (c *Connection) CacheFolder() string { return c.namespace }

// APIActive reports whether the network side serves operations.
func (c *Connection) APIActive() bool { return c.act.API() }

// CacheActive reports whether the mirror side serves operations.
func (c *Connection) CacheActive() bool {
	return c.act.Cache() && c.cacheRef.Get() != nil
}

// SetAPIActive toggles the network side.
func (c *Connection) SetAPIActive(v bool) {
	c.act.SetAPI(v)
	c.logger.Info("api activation changed", "active", v)
}

// SetCacheActive toggles the mirror side, opening it first if it never
// was. The current scope, if any, is pushed down on activation.
func (c *Connection) SetCacheActive(v bool) error {
	if !v {
		c.act.SetCache(false)
		c.logger.Info("cache deactivated")
		return nil
	}
	c.openMu.Lock()
	defer c.openMu.Unlock()
	if err := c.openCacheLocked(true); err != nil {
		return err
	}
	if f := c.scope.Filter(); f != nil {
		if err := c.cacheRef.Get().Configure(f); err != nil {
			return err
		}
	}
	c.act.SetCache(true)
	c.logger.Info("cache activated", "namespace", c.namespace)
	return nil
}

// SetupCacheScope restricts what the mirror holds and activates it. The
// scope is visible to every reader before this returns: the shared holder
// is updated first, then the store is configured, then the cache switch
// flips on.
func (c *Connection) SetupCacheScope(f *domain.Filter) error {
	if err := c.lifecycle.Err(); err != nil {
		return domain.ErrConnectionClosed
	}
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.scope.Set(f)
	if err := c.openCacheLocked(false); err != nil {
		return err
	}
	if err := c.cacheRef.Get().Configure(f); err != nil {
		return err
	}
	c.act.SetCache(true)
	c.logger.Info("cache scope configured", "scope", f.String())
	return nil
}

// CacheScope returns the active scope filter, nil when unrestricted.
func (c *Connection) CacheScope() *domain.Filter {
	return c.scope.Filter()
}

// openCacheLocked opens the mirror if no handle exists yet. With adopt
// set, a scope persisted by an earlier run is promoted into the shared
// holder unless this run already set one. Callers installing a scope
// themselves pass false: an explicit choice, nil included, is never
// overridden by what the store remembers.
func (c *Connection) openCacheLocked(adopt bool) error {
	if c.cacheRef.Get() != nil {
		return nil
	}
	dir := filepath.Join(c.cacheDir, c.namespace)
	st, err := store.Open(dir, c.logger)
	if err != nil {
		return err
	}
	if adopt {
		if persisted := st.Scope(); persisted != nil && c.scope.Filter() == nil {
			c.scope.Set(persisted)
			c.logger.Info("adopted persisted cache scope", "scope", persisted.String())
		}
	}
	c.cacheRef.Set(st)
	return nil
}

// ClearCache wipes every mirrored entity but keeps the scope.
func (c *Connection) ClearCache() error {
	h := c.cacheRef.Get()
	if h == nil {
		return nil
	}
	return h.InvalidateAll()
}

// RootStreams returns the current root view of the stream tree.
func (c *Connection) RootStreams() map[string]*domain.Stream {
	return c.registry.Roots()
}

// UpdateRootStreams replaces the root view wholesale, bypassing the tree
// builder. Trusted input only.
func (c *Connection) UpdateRootStreams(roots map[string]*domain.Stream) {
	c.registry.ReplaceRoots(roots)
}

// ServerTimeInSystem converts to local time via the clock estimator; see
// clock.Sync.ServerTimeInSystem for the argument's (non-)role.
func (c *Connection) ServerTimeInSystem(serverTime float64) time.Time {
	return c.clock.ServerTimeInSystem(serverTime)
}

// ClockDelta returns the last estimated server-system clock offset in
// seconds.
func (c *Connection) ClockDelta() float64 {
	return c.clock.Delta()
}

// Close tears the connection down: in-flight network calls are canceled,
// pending cache write-backs drained, the mirror closed. Safe to call
// more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.teardown()
		c.dual.Drain()
		if h := c.cacheRef.Get(); h != nil {
			c.closeErr = h.Close()
		}
		c.logger.Info("connection closed", "user", c.username)
	})
	return c.closeErr
}
