// Package main is the Nakama CLI entry point.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/nakama/internal/config"
	"github.com/hyperjump/nakama/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/nakama/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// A missing default file yields defaults plus the environment.
// Returns the config and the path that was actually loaded ("" when none was).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			cfg, err := config.Default()
			if err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads config and creates the logger, exiting on failure.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.Bool("debug", debugMode),
	)
	return cfg, logger
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "worker":
		runWorker(args)
	case "search":
		runSearch(args)
	case "booklet":
		runBooklet(args)
	case "ingest":
		runIngest(args)
	case "import":
		runImport(args)
	case "status":
		runStatus(args)
	case "regions":
		runRegions(args)
	case "version", "--version", "-v":
		fmt.Printf("nakama version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`nakama - Find colleagues who share your hobby or hometown

Usage:
  nakama server [flags]                    Start the HTTP server (plus inbox watcher and upload consumer when configured)
  nakama worker [flags]                    Run the inbox watcher and upload consumer without the HTTP server
  nakama search [flags] [hobby] [place]    Search profiles
  nakama booklet [flags]                   Generate a circle activity booklet
  nakama ingest [flags] <file-or-dir>      Extract profiles from self-introduction documents
  nakama import [flags] <file.json>        Import raw profile documents
  nakama status [flags]                    Show store and configuration status
  nakama regions [flags]                   List region synonyms used for birthplace search
  nakama version                           Show version
  nakama help                              Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/nakama/config.yaml, or ./config.yaml when present)
  --debug            Enable debug logging

Search Flags:
  --server string      Server URL (default: http://localhost:5000). Use empty (--server "") for direct storage.
  --hobby string       Hobby term (or first positional argument)
  --birthplace string  Birthplace term (or second positional argument)
  --output string      Output format: text, compact or json (default: text)

Booklet Flags:
  --hobby string       Hobby term
  --birthplace string  Birthplace term
  --out string         Output directory (default: current directory); "-" writes to stdout

Ingest Flags:
  --all              Ingest every supported file, ignoring the target file names

Status Flags:
  --server string    Server URL (default: http://localhost:5000). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  nakama server
  nakama search 旅行
  nakama search --birthplace 関西
  nakama search --output json 旅行 大阪府
  nakama booklet --hobby 釣り --birthplace 大阪府
  nakama ingest ./inbox
  nakama import profiles.json
  nakama status --output json`)
}
