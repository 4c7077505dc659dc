package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/nakama/internal/cli"
	"github.com/hyperjump/nakama/internal/config"
	"github.com/hyperjump/nakama/internal/drive"
	"github.com/hyperjump/nakama/internal/events"
	"github.com/hyperjump/nakama/internal/extract"
	"github.com/hyperjump/nakama/internal/ingest"
	"github.com/hyperjump/nakama/internal/models"
	"github.com/hyperjump/nakama/internal/server"
	"github.com/hyperjump/nakama/internal/storage"
	"github.com/hyperjump/nakama/internal/watcher"
)

const defaultServerURL = "http://localhost:5000"

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	g, gctx := errgroup.WithContext(ctx)
	closeWorkers, err := startWorkers(gctx, g, cfg, components, logger)
	if err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}
	defer closeWorkers()

	srv := server.NewServer(server.Deps{
		Engine:   components.Engine,
		Booklets: components.Booklets,
		Storage:  components.Storage,
		Ingest:   components.Ingest,
		Regions:  components.Regions,
		Config:   cfg,
		Version:  version,
	}, &cfg.Server, logger)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
	}
}

func runWorker(args []string) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	g, gctx := errgroup.WithContext(ctx)
	closeWorkers, err := startWorkers(gctx, g, cfg, components, logger)
	if err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}
	defer closeWorkers()

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
}

// startWorkers starts the inbox watcher and the upload consumer when they are configured.
// The returned func closes the broker connection.
func startWorkers(ctx context.Context, g *errgroup.Group, cfg *config.Config, c *Components, logger *zap.Logger) (func(), error) {
	closer := func() {}
	if len(cfg.Ingest.Directories) > 0 {
		inbox := watcher.NewInbox(cfg.Ingest.Directories, c.Ingest,
			watcher.WithExtensions(cfg.Ingest.Extensions),
			watcher.WithRecursive(cfg.Ingest.RecursiveOrDefault()),
			watcher.WithLogger(logger),
		)
		g.Go(func() error { return inbox.Run(ctx) })
	}
	if cfg.Events.AMQPURI != "" {
		fetcher, err := drive.NewFetcher(ctx, cfg.Drive, drive.WithLogger(logger))
		if err != nil {
			return closer, err
		}
		handler := events.NewHandler(fetcher, c.Ingest, events.WithLogger(logger))
		consumer, err := events.NewConsumer(cfg.Events, handler, logger)
		if err != nil {
			return closer, err
		}
		closer = func() { _ = consumer.Close() }
		g.Go(func() error { return consumer.Run(ctx) })
	}
	return closer, nil
}

// searchArgsReorder moves any flags (and their values) that appear after the terms
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 1 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildSearchQuery fills terms not given by flag from the positional arguments:
// the first is the hobby and the second the birthplace. "-" leaves a term empty.
func buildSearchQuery(hobby, birthplace string, positional []string) models.Query {
	q := models.Query{Hobby: hobby, Birthplace: birthplace}
	if len(positional) > 0 && q.Hobby == "" && positional[0] != "-" {
		q.Hobby = positional[0]
	}
	if len(positional) > 1 && q.Birthplace == "" && positional[1] != "-" {
		q.Birthplace = positional[1]
	}
	q.Normalize()
	return q
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	hobby := fs.String("hobby", "", "hobby term")
	birthplace := fs.String("birthplace", "", "birthplace term")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(searchArgsReorder(args))

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	query := buildSearchQuery(*hobby, *birthplace, fs.Args())
	if err := query.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\nUsage: nakama search [flags] [hobby] [birthplace]\n", err)
		os.Exit(1)
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = searchViaHTTP(*serverURL, &query)
	} else {
		cfg, logger := setup(*configPath, *debug)
		defer logger.Sync()
		ctx := context.Background()
		var components *Components
		components, err = initializeComponents(ctx, cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		response, err = components.Engine.Search(ctx, &query)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL string, query *models.Query) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, response.Error)
	}
	return &response, nil
}

func runBooklet(args []string) {
	fs := flag.NewFlagSet("booklet", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	hobby := fs.String("hobby", "", "hobby term")
	birthplace := fs.String("birthplace", "", "birthplace term")
	outDir := fs.String("out", ".", `output directory, or "-" for stdout`)
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	query := models.Query{Hobby: *hobby, Birthplace: *birthplace}
	if err := query.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\nUsage: nakama booklet --hobby <hobby> --birthplace <birthplace>\n", err)
		os.Exit(1)
	}

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	b := components.Booklets.Generate(ctx, query.Hobby, query.Birthplace)
	if *outDir == "-" {
		fmt.Print(b.Content)
		return
	}
	path := filepath.Join(*outDir, b.FileName)
	if err := os.WriteFile(path, []byte(b.Content), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write booklet: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Booklet written: %s (%s)\n", path, b.Source)
}

// fileIngester is the part of the pipeline the ingest command uses.
type fileIngester interface {
	Accepts(name string) bool
	IngestFile(ctx context.Context, path string) (*ingest.Result, error)
}

// ingestDirectory ingests every supported target file under dir.
func ingestDirectory(ctx context.Context, p fileIngester, dir string, w io.Writer) (ingested, failed int, err error) {
	ex := extract.NewExtractor()
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !ex.Supported(filepath.Ext(path)) || !p.Accepts(path) {
			return nil
		}
		res, err := p.IngestFile(ctx, path)
		if err != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", path, err)
			return nil
		}
		ingested++
		fmt.Fprintf(w, "OK   %s (%d profiles)\n", path, len(res.Profiles))
		return nil
	})
	return ingested, failed, err
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	all := fs.Bool("all", false, "ingest every supported file, ignoring the target file names")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Println("Usage: nakama ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	pipeline := components.Ingest
	if *all {
		pipeline = ingest.NewPipeline(components.Storage, components.LLM, ingest.WithLogger(logger))
	}

	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		n, failed, err := ingestDirectory(ctx, pipeline, path, os.Stdout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingesting directory failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Ingested %d file(s) from %s, %d failed\n", n, path, failed)
		if failed > 0 {
			os.Exit(1)
		}
		return
	}
	res, err := pipeline.IngestFile(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingestion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %d profile(s) from %s (source %s)\n", len(res.Profiles), path, res.Source)
}

// importDocuments stores each document from r, a JSON array of objects or a single
// object. "id" or "_id" becomes the profile ID. With derive set, missing keyword
// fields are filled from the raw hobby and birthplace.
func importDocuments(ctx context.Context, store storage.Storage, r io.Reader, derive bool) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	var docs []map[string]any
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var doc map[string]any
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return 0, fmt.Errorf("invalid JSON: %w", err)
		}
		docs = append(docs, doc)
	} else if err := json.Unmarshal(trimmed, &docs); err != nil {
		return 0, fmt.Errorf("invalid JSON: %w", err)
	}

	for i, doc := range docs {
		id := idOf(doc)
		delete(doc, models.FieldID)
		delete(doc, "_id")
		if derive {
			p := models.ProfileFromDocument(id, doc).WithDerivedKeywords()
			if _, ok := doc[models.FieldHobbyKeywords]; !ok && p.HobbyKeywords != nil {
				doc[models.FieldHobbyKeywords] = p.HobbyKeywords
			}
			if _, ok := doc[models.FieldBirthplaceKeywords]; !ok && p.BirthplaceKeywords != nil {
				doc[models.FieldBirthplaceKeywords] = p.BirthplaceKeywords
			}
		}
		if _, err := store.ImportDocument(ctx, id, doc); err != nil {
			return i, fmt.Errorf("document %d: %w", i, err)
		}
	}
	return len(docs), nil
}

func idOf(doc map[string]any) string {
	for _, key := range []string{models.FieldID, "_id"} {
		switch v := doc[key].(type) {
		case string:
			return v
		case float64:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	derive := fs.Bool("derive-keywords", false, "fill missing keyword fields from hobby and birthplace")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Println("Usage: nakama import [flags] <file.json>")
		os.Exit(1)
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	n, err := importDocuments(ctx, store, f, *derive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed after %d document(s): %v\n", n, err)
		os.Exit(1)
	}
	fmt.Printf("Imported %d document(s)\n", n)
}

// statusResponse is the shape of GET /status.
type statusResponse struct {
	Profiles       int64          `json:"profiles"`
	Version        string         `json:"version,omitempty"`
	IngestEnabled  bool           `json:"ingest_enabled"`
	Regions        int            `json:"regions"`
	DiskUsageBytes *int64         `json:"disk_usage_bytes,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	var status *statusResponse
	var err error
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
	} else {
		status, err = statusDirect(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		if err := cli.WriteJSON(os.Stdout, status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		writeStatusText(os.Stdout, status)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusDirect(configPath string) (*statusResponse, error) {
	cfg, logger := setup(configPath, false)
	defer logger.Sync()
	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	count, err := store.CountProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("count profiles: %w", err)
	}
	regions, err := loadRegions(&cfg.Search)
	if err != nil {
		return nil, err
	}
	status := &statusResponse{
		Profiles:      count,
		Version:       version,
		IngestEnabled: true,
		Regions:       len(regions.Labels()),
		Config: map[string]any{
			"storage_driver":   cfg.Storage.Driver,
			"search_mode":      cfg.Search.Mode,
			"search_sources":   cfg.Search.Sources,
			"region_expansion": cfg.Search.RegionExpansionOrDefault(),
			"store_prefilter":  cfg.Search.StorePrefilter,
			"llm_provider":     cfg.LLM.Provider,
			"booklet_cache":    cfg.Cache.RedisAddr != "",
		},
	}
	if cfg.Storage.Driver == "sqlite" {
		if n, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath); err == nil {
			status.DiskUsageBytes = &n
		}
	}
	return status, nil
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func writeStatusText(w io.Writer, s *statusResponse) {
	fmt.Fprintf(w, "profiles:          %d   # stored profiles\n", s.Profiles)
	fmt.Fprintf(w, "regions:           %d   # region labels for birthplace expansion\n", s.Regions)
	fmt.Fprintf(w, "ingest_enabled:    %t\n", s.IngestEnabled)
	if s.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:  %d   # profile database on disk\n", *s.DiskUsageBytes)
	}
	if s.Version != "" {
		fmt.Fprintf(w, "version:           %s\n", s.Version)
	}
	if len(s.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		keys := make([]string, 0, len(s.Config))
		for k := range s.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%-18s %v\n", k+":", s.Config[k])
		}
	}
}

func runRegions(args []string) {
	fs := flag.NewFlagSet("regions", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	regions, err := loadRegions(&cfg.Search)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load region table: %v\n", err)
		os.Exit(1)
	}
	if *outputFormat == "json" {
		_ = cli.WriteJSON(os.Stdout, map[string]any{"regions": regions.Entries()})
		return
	}
	cli.WriteRegions(os.Stdout, regions.Entries())
}
