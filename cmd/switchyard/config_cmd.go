package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/storage"
)

// resolveConfigPath returns path, or the discovered config when path is empty.
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return config.Discover()
}

func loadConfigForTool(path string) (*config.Config, error) {
	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	return config.Load(resolved)
}

type checkResult struct {
	Valid      bool   `json:"valid"`
	ConfigPath string `json:"config_path,omitempty"`
	Error      string `json:"error,omitempty"`
	BaseURI    string `json:"base_uri,omitempty"`
	Relay      string `json:"relay,omitempty"`
	Journal    string `json:"journal,omitempty"`
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	result := checkResult{Valid: true}
	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		result.Valid = false
		result.Error = err.Error()
	} else {
		result.ConfigPath = cfg.SourcePath
		result.BaseURI = cfg.Gateway.BaseURI
		result.Relay = cfg.Relay.Kind
		if cfg.Journal.Enabled {
			result.Journal = cfg.State.Path
			if err := storage.CheckLocal(cfg.State.Path); err != nil {
				result.Valid = false
				result.Error = err.Error()
			}
		}
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else if result.Valid {
		fmt.Printf("Configuration OK: %s\n", result.ConfigPath)
		fmt.Printf("  gateway: %s (timeout %s, max outstanding %d)\n", cfg.Gateway.BaseURI, cfg.Gateway.Timeout, *cfg.Gateway.MaxOutstanding)
		fmt.Printf("  relay:   %s\n", cfg.Relay.Kind)
		if result.Journal != "" {
			fmt.Printf("  journal: %s\n", result.Journal)
		}
	} else {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED:\n%s\n", result.Error)
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verbose, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Compute hashes without writing .checksums")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	report, err := config.Lock(resolved, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if verbose {
		names := make([]string, 0, len(report.Hashes))
		for name := range report.Hashes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  HASH %s: %s\n", name, report.Hashes[name])
		}
	}
	if dryRun {
		fmt.Printf("Dry run completed: %s (not written)\n", report.ChecksumPath)
		return 0
	}
	fmt.Printf("Successfully locked configuration: %s\n", report.ChecksumPath)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}
