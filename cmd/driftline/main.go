package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/driftline/driftline/internal/accessor"
	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/connection"
	"github.com/driftline/driftline/internal/domain"
	"github.com/driftline/driftline/internal/log"
	"github.com/driftline/driftline/internal/render"
	"github.com/driftline/driftline/internal/search"
)

// Version is set at build time via -ldflags
var Version = "dev"

const usage = `driftline keeps an offline mirror of your event streams.

Usage:

  driftline <command> [flags]

Commands:

  login    save an account and verify its token
  logout   forget the account and remove its local mirror
  status   show account, mirror and server health
  tree     print the stream hierarchy
  events   list events, newest first
  record   create an event
  find     fuzzy-search streams by name
  scope    show or set what the local mirror covers
  sync     refresh the local mirror from the server
  cache    inspect or clear the local mirror

Flags:

  -v, -version   print version

Run "driftline <command> -h" for command flags.
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	var showVersion bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.Parse()

	if showVersion {
		fmt.Printf("driftline %s\n", Version)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := log.Open(log.Options{File: cfg.Logging.File, Level: cfg.Logging.Level})
	if err != nil {
		// Run silent rather than fail the command over its log file
		logger = log.Discard()
	}
	slog.SetDefault(logger)

	logger.Info("starting driftline", "version", Version, "command", command)

	switch command {
	case "login":
		return runLogin(cfg, logger, args)
	case "logout":
		return runLogout(cfg, logger)
	}

	if !cfg.IsConfigured() {
		return fmt.Errorf("no account configured, run \"driftline login\" first")
	}

	switch command {
	case "status":
		return runStatus(cfg, logger, args)
	case "tree":
		return runTree(cfg, logger, args)
	case "events":
		return runEvents(cfg, logger, args)
	case "record":
		return runRecord(cfg, logger, args)
	case "find":
		return runFind(cfg, logger, args)
	case "scope":
		return runScope(cfg, logger, args)
	case "sync":
		return runSync(cfg, logger, args)
	case "cache":
		return runCache(cfg, logger, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// runLogin prompts for the account, verifies it against the server and
// saves the configuration
func runLogin(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", "", "account username")
	domainName := fs.String("domain", cfg.Account.Domain, "service domain")
	apiURL := fs.String("api-url", "", "endpoint override instead of https://{username}.{domain}")
	fs.Parse(args)

	reader := bufio.NewReader(os.Stdin)
	if *username == "" {
		fmt.Print("Username: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		*username = strings.TrimSpace(input)
	}
	if *username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	// Prompt for token (hidden input)
	fmt.Print("Token: ")
	tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	token := strings.TrimSpace(string(tokenBytes))
	fmt.Println() // Add newline after hidden input
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	cfg.Account.Username = *username
	cfg.Account.Domain = *domainName
	cfg.Account.Token = token
	cfg.Account.APIURL = *apiURL

	conn, err := connect(cfg, logger, false)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Println()
	fmt.Println("Verifying token...")

	res := last(conn.Streams().Get(context.Background(), nil))
	if res.Err != nil {
		fmt.Println()
		fmt.Println(render.Fail("Could not reach %s", conn.APIURL()))
		fmt.Printf("  No account yet? Register at %s\n", conn.RegistrationURL())
		return res.Err
	}

	if err := config.SaveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println(render.Success("Logged in as %s (%d streams)", conn.Username(), len(res.Value)))
	if conn.CacheActive() {
		fmt.Printf("  Local mirror: %s\n", filepath.Join(cfg.Cache.Dir, conn.CacheFolder()))
	}
	return nil
}

// runLogout removes the account credentials and this account's mirror
// folder while leaving other settings in place
func runLogout(cfg *config.Config, logger *slog.Logger) error {
	if cfg.IsConfigured() && cfg.Cache.Enabled {
		if conn, err := connect(cfg, logger, true); err == nil {
			folder := conn.CacheFolder()
			conn.Close()
			path := filepath.Join(cfg.Cache.Dir, folder)
			if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
				logger.Warn("could not remove mirror folder", "path", path, "error", err)
			}
		}
	}

	if err := config.ClearAccountConfig(); err != nil {
		return err
	}
	fmt.Println(render.Success("Logged out"))
	return nil
}

func runStatus(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	offline := fs.Bool("offline", false, "skip the server reachability check")
	fs.Parse(args)

	conn, err := connect(cfg, logger, *offline)
	if err != nil {
		return err
	}
	defer conn.Close()

	statusLine("Account", "%s @ %s", conn.Username(), conn.Domain())
	statusLine("Endpoint", "%s", conn.APIURL())
	if conn.CacheActive() {
		statusLine("Mirror", "%s", filepath.Join(cfg.Cache.Dir, conn.CacheFolder()))
		if scope := conn.CacheScope(); scope != nil {
			statusLine("Scope", "%s", scope)
		} else {
			statusLine("Scope", "everything")
		}
	} else {
		statusLine("Mirror", "disabled")
	}

	if *offline {
		return nil
	}

	res := last(conn.Streams().Get(context.Background(), nil))
	if res.Err != nil {
		statusLine("Server", "unreachable (%v)", res.Err)
		return nil
	}
	statusLine("Server", "ok, %d streams", len(res.Value))
	statusLine("Clock", "server is %+.3fs from local", conn.ClockDelta())
	return nil
}

// statusLine prints an aligned, highlighted label followed by the value.
func statusLine(label, format string, a ...any) {
	padded := fmt.Sprintf("%-9s", label+":")
	fmt.Printf("%s %s\n", render.TitleStyle.Render(padded), fmt.Sprintf(format, a...))
}

func runTree(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	offline := fs.Bool("offline", false, "serve from the local mirror only")
	all := fs.Bool("all", false, "include trashed streams")
	fs.Parse(args)

	conn, err := connect(cfg, logger, *offline)
	if err != nil {
		return err
	}
	defer conn.Close()

	var f *domain.Filter
	if *all {
		f = &domain.Filter{State: domain.StateAll}
	}

	res := last(conn.Streams().Get(context.Background(), f))
	if res.Err != nil {
		return res.Err
	}

	out := render.Tree(conn.RootStreams())
	if out == "" {
		fmt.Println("No streams.")
	} else {
		fmt.Print(out)
	}
	printFooter(res.Source, len(res.Value), "streams")
	return nil
}

func runEvents(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	offline := fs.Bool("offline", false, "serve from the local mirror only")
	streamCSV := fs.String("stream", "", "comma-separated stream ids")
	from := fs.String("from", "", "lower time bound (RFC3339, YYYY-MM-DD or unix seconds)")
	to := fs.String("to", "", "upper time bound")
	limit := fs.Int("limit", 20, "maximum number of events, 0 for all")
	state := fs.String("state", "", `"default", "trashed" or "all"`)
	fs.Parse(args)

	f, err := buildFilter(*streamCSV, *from, *to, *limit, *state)
	if err != nil {
		return err
	}

	conn, err := connect(cfg, logger, *offline)
	if err != nil {
		return err
	}
	defer conn.Close()

	res := last(conn.Events().Get(context.Background(), f))
	if res.Err != nil {
		return res.Err
	}

	if len(res.Value) == 0 {
		fmt.Println("No events.")
	} else {
		fmt.Print(render.Events(res.Value))
	}
	printFooter(res.Source, len(res.Value), "events")
	return nil
}

func runRecord(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	offline := fs.Bool("offline", false, "write to the local mirror only")
	streamID := fs.String("stream", "", "stream id (required)")
	eventType := fs.String("type", "note/txt", "event type")
	content := fs.String("content", "", "payload: number, JSON object/array or plain text")
	at := fs.String("time", "", "event time (RFC3339, YYYY-MM-DD or unix seconds), default now")
	fs.Parse(args)

	if *streamID == "" {
		return fmt.Errorf("record: -stream is required")
	}

	e := domain.Event{
		StreamID: *streamID,
		Type:     *eventType,
		Content:  parseContent(*content),
	}
	if *at != "" {
		seconds, err := parseTimePoint(*at)
		if err != nil {
			return err
		}
		e.Time = seconds
	}

	conn, err := connect(cfg, logger, *offline)
	if err != nil {
		return err
	}
	defer conn.Close()

	res := last(conn.Events().Create(context.Background(), e))
	if res.Err != nil {
		return res.Err
	}

	fmt.Println(render.Success("Recorded %s in %s", res.Value.ID, res.Value.StreamID))
	if res.Source == accessor.SourceCache {
		fmt.Println(render.DimStyle.Render("written to the offline copy only"))
	}
	return nil
}

func runFind(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("find", flag.ExitOnError)
	offline := fs.Bool("offline", false, "serve from the local mirror only")
	fs.Parse(args)

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return fmt.Errorf("find: query is required")
	}

	conn, err := connect(cfg, logger, *offline)
	if err != nil {
		return err
	}
	defer conn.Close()

	res := last(conn.Streams().Get(context.Background(), nil))
	if res.Err != nil {
		return res.Err
	}

	idx := search.NewStreamIndex()
	idx.Reindex(res.Value)

	matches := idx.Lookup(query)
	if len(matches) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	fmt.Print(render.Matches(matches))
	return nil
}

// runScope shows or replaces the mirror scope. Setting a scope enables
// the mirror if it was off.
func runScope(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("scope", flag.ExitOnError)
	streamCSV := fs.String("streams", "", "comma-separated stream ids to mirror")
	from := fs.String("from", "", "lower time bound (RFC3339, YYYY-MM-DD or unix seconds)")
	to := fs.String("to", "", "upper time bound")
	state := fs.String("state", "", `"default", "trashed" or "all"`)
	subtree := fs.Bool("subtree", true, "also mirror every descendant of the named streams")
	clear := fs.Bool("clear", false, "widen the scope back to everything")
	fs.Parse(args)

	changed := *clear || *streamCSV != "" || *from != "" || *to != "" || *state != ""
	if changed && !cfg.Cache.Enabled {
		cfg.Cache.Enabled = true
	}

	conn, err := connect(cfg, logger, false)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !changed {
		if !conn.CacheActive() {
			fmt.Println("Mirror disabled; set a scope to enable it.")
			return nil
		}
		if scope := conn.CacheScope(); scope != nil {
			fmt.Printf("Scope: %s\n", scope)
		} else {
			fmt.Println("Scope: everything")
		}
		return nil
	}

	var f *domain.Filter
	if !*clear {
		f, err = buildFilter(*streamCSV, *from, *to, 0, *state)
		if err != nil {
			return err
		}
	}

	if f != nil && *subtree && len(f.StreamIDs) > 0 {
		expanded, err := expandSubtrees(conn, f.StreamIDs)
		if err != nil {
			return err
		}
		f.StreamIDs = expanded
	}

	if err := conn.SetupCacheScope(f); err != nil {
		return err
	}
	cfg.SetScope(f)
	if err := config.SaveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	if f != nil {
		fmt.Println(render.Success("Mirror scoped to %s", f))
	} else {
		fmt.Println(render.Success("Mirror scope cleared, everything is covered"))
	}
	return nil
}

// runSync pulls the scoped data from the server so the mirror can serve
// it offline later
func runSync(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	fs.Parse(args)

	if !cfg.Cache.Enabled {
		return fmt.Errorf("sync: the local mirror is disabled, set a scope first")
	}

	conn, err := connect(cfg, logger, false)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := context.Background()

	sres := last(conn.Streams().Get(ctx, nil))
	if sres.Err != nil {
		return sres.Err
	}

	eres := last(conn.Events().Get(ctx, conn.CacheScope()))
	if eres.Err != nil {
		return eres.Err
	}

	fmt.Println(render.Success("Mirror synced: %d streams, %d events", len(sres.Value), len(eres.Value)))
	return nil
}

func runCache(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	clear := fs.Bool("clear", false, "drop this account's mirrored data, keeping the scope")
	purge := fs.Bool("purge", false, "delete the whole cache root, every account included")
	fs.Parse(args)

	if *purge {
		if err := config.ClearCache(cfg.Cache.Dir); err != nil {
			return err
		}
		fmt.Println(render.Success("Cache root removed"))
		return nil
	}

	if !cfg.Cache.Enabled {
		fmt.Println("Mirror disabled.")
		return nil
	}

	conn, err := connect(cfg, logger, true)
	if err != nil {
		return err
	}
	defer conn.Close()

	if *clear {
		if err := conn.ClearCache(); err != nil {
			return err
		}
		fmt.Println(render.Success("Local mirror cleared"))
		return nil
	}

	fmt.Printf("Mirror: %s\n", filepath.Join(cfg.Cache.Dir, conn.CacheFolder()))
	if scope := conn.CacheScope(); scope != nil {
		fmt.Printf("Scope:  %s\n", scope)
	} else {
		fmt.Println("Scope:  everything")
	}
	return nil
}

// === Helpers ===

// connect builds the connection from the saved account. In offline mode
// the server is never contacted and the mirror must be enabled.
func connect(cfg *config.Config, logger *slog.Logger, offline bool) (*connection.Connection, error) {
	if offline && !cfg.Cache.Enabled {
		return nil, fmt.Errorf("offline mode needs the local mirror enabled")
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = config.GetCachePath()
	}

	conn, err := connection.New(connection.Options{
		Username: cfg.Account.Username,
		Domain:   cfg.Account.Domain,
		Token:    cfg.Account.Token,
		APIURL:   cfg.Account.APIURL,
		UseCache: cfg.Cache.Enabled,
		CacheDir: cfg.Cache.Dir,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	if offline {
		conn.SetAPIActive(false)
	}
	if scope := cfg.ScopeFilter(); scope != nil && cfg.Cache.Enabled {
		if err := conn.SetupCacheScope(scope); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// expandSubtrees widens stream ids to their whole subtrees, fetching the
// hierarchy first so the registry knows the children.
func expandSubtrees(conn *connection.Connection, ids []string) ([]string, error) {
	res := last(conn.Streams().Get(context.Background(), nil))
	if res.Err != nil {
		return nil, res.Err
	}

	reg := conn.Registry()
	seen := make(map[string]bool)
	var expanded []string
	for _, id := range ids {
		for _, sid := range reg.SubtreeIDs(id) {
			if !seen[sid] {
				seen[sid] = true
				expanded = append(expanded, sid)
			}
		}
	}
	return expanded, nil
}

// last drains a result channel and returns the authoritative result.
func last[T any](ch <-chan accessor.Result[T]) accessor.Result[T] {
	var res accessor.Result[T]
	for r := range ch {
		res = r
	}
	return res
}

func printFooter(source accessor.Source, n int, noun string) {
	origin := "synced from server"
	if source == accessor.SourceCache {
		origin = "offline copy"
	}
	fmt.Println(render.DimStyle.Render(fmt.Sprintf("%d %s, %s", n, noun, origin)))
}

// buildFilter assembles a filter from flag values. All empty means nil,
// which selects everything in its default state.
func buildFilter(streamCSV, from, to string, limit int, state string) (*domain.Filter, error) {
	f := &domain.Filter{Limit: limit, State: state}
	for _, id := range strings.Split(streamCSV, ",") {
		if id = strings.TrimSpace(id); id != "" {
			f.StreamIDs = append(f.StreamIDs, id)
		}
	}
	if from != "" {
		seconds, err := parseTimePoint(from)
		if err != nil {
			return nil, err
		}
		f.FromTime = domain.Time(seconds)
	}
	if to != "" {
		seconds, err := parseTimePoint(to)
		if err != nil {
			return nil, err
		}
		f.ToTime = domain.Time(seconds)
	}
	if len(f.StreamIDs) == 0 && f.FromTime == nil && f.ToTime == nil && limit == 0 && state == "" {
		return nil, nil
	}
	return f, nil
}

// parseTimePoint accepts unix seconds, RFC3339 or calendar dates in the
// local zone.
func parseTimePoint(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return float64(t.UnixMilli()) / 1000, nil
		}
	}
	return 0, fmt.Errorf("unrecognized time %q (want RFC3339, YYYY-MM-DD or unix seconds)", s)
}

// parseContent keeps numbers numeric and JSON structured; anything else
// stays a plain string.
func parseContent(raw string) any {
	if raw == "" {
		return nil
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return raw
}
