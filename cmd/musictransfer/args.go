package main

import (
	"fmt"
	"os"

	"musictransfer/internal/config"
	"musictransfer/internal/pipeline"
)

// options is the parsed command line.
type options struct {
	cfg        config.Config
	configPath string
	songIDs    []string
	mode       pipeline.Mode
	cache      bool
	mvURL      string
	mvName     string
}

// parseArgs parses command-line arguments and loads configuration.
// Priority: CLI flags > environment > config file > defaults
func parseArgs(args []string) (options, error) {
	var opts options

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			printUsage()
			os.Exit(0)
		}
		if arg == "--init-config" {
			return opts, initConfigFile()
		}
	}

	for i := 0; i < len(args); i++ {
		if args[i] == "--config" || args[i] == "-c" {
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--config requires a path argument")
			}
			opts.configPath = args[i+1]
			break
		}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return opts, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.configPath == "" {
		opts.configPath = config.FindConfigFile()
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "--verbose", "-v":
			cfg.Verbose = true

		case "--lyric", "-l":
			opts.mode = pipeline.ModeSongWithLyric

		case "--lyric-only":
			opts.mode = pipeline.ModeLyricOnly

		case "--cache":
			opts.cache = true

		case "--tag", "-t":
			cfg.TagFiles = true

		case "--parallel", "-p":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--parallel requires a number argument")
			}
			i++
			var jobs int
			if _, err := fmt.Sscanf(args[i], "%d", &jobs); err != nil {
				return opts, fmt.Errorf("invalid parallel jobs value: %s", args[i])
			}
			cfg.ParallelJobs = jobs

		case "--mv":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--mv requires a video URL")
			}
			i++
			opts.mvURL = args[i]

		case "--name":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--name requires a name argument")
			}
			i++
			opts.mvName = args[i]

		case "--config", "-c":
			i++

		default:
			if len(arg) > 0 && arg[0] == '-' {
				return opts, fmt.Errorf("unknown flag: %s", arg)
			}
			opts.songIDs = append(opts.songIDs, arg)
		}
	}

	if len(opts.songIDs) == 0 {
		return opts, fmt.Errorf("at least one song id is required")
	}
	if opts.mvURL != "" {
		if opts.mvName == "" {
			return opts, fmt.Errorf("--mv requires --name")
		}
		if len(opts.songIDs) != 1 {
			return opts, fmt.Errorf("--mv takes exactly one song id")
		}
	}

	opts.cfg = cfg
	return opts, nil
}

// initConfigFile creates a new config file with default values
func initConfigFile() error {
	path := config.GetDefaultConfigPath()

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config file already exists at: %s\n", path)
		fmt.Println("Delete it first if you want to recreate it.")
		os.Exit(0)
	}

	cfg := config.DefaultConfig()

	if err := config.SaveConfigFile(cfg, path); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	fmt.Printf("Created default config file at: %s\n", path)
	fmt.Println("\nYou can now edit this file to customize your settings.")
	fmt.Println("Available options:")
	fmt.Println("  paths: song, mv, lyric and cache destination folders")
	fmt.Println("  transfer: timeouts, retry_count, retry_delay, rate_limit (bytes/s)")
	fmt.Println("  parallel_jobs: 1-10 (number of parallel transfers)")
	fmt.Println("  tag_files: true/false (write tags and cover art into songs)")
	fmt.Println("  lyrics_fallback: true/false (ask LRCLib when no lyric link exists)")
	fmt.Println("  verbose: true/false (enable detailed logging)")

	os.Exit(0)
	return nil
}

// printUsage displays the help message
func printUsage() {
	fmt.Println("musictransfer - Download songs, lyrics and videos by song id")
	fmt.Println()
	fmt.Println("Usage: musictransfer [options] <song_id>...")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -l, --lyric                Also download the lyric of each song")
	fmt.Println("      --lyric-only           Download only the lyrics")
	fmt.Println("      --cache                Save into the cache folder")
	fmt.Println("  -t, --tag                  Write tags into finished songs")
	fmt.Println("      --mv <url> --name <n>  Download a music video for one song id")
	fmt.Println("  -p, --parallel <n>         Number of parallel transfers (1-10, default: 4)")
	fmt.Println("  -v, --verbose              Show detailed output")
	fmt.Println("  -c, --config <path>        Path to config file")
	fmt.Println("  -h, --help                 Show this help message")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  --init-config              Create a default config file")
	fmt.Println()
	fmt.Println("Config file locations (checked in order):")
	fmt.Println("  ./musictransfer.yaml")
	fmt.Println("  ~/.config/musictransfer/config.yaml")
	fmt.Println("  ~/.musictransfer.yaml")
	fmt.Println()
	fmt.Println("Every setting can be overridden with MUSICTRANSFER_* environment variables,")
	fmt.Println("also read from a .env file in the working directory.")
	fmt.Println()
	fmt.Println("Logging:")
	fmt.Println("  Normal mode: Progress bar shown, detailed logs saved to:")
	fmt.Println("    ~/.local/share/musictransfer/logs/")
	fmt.Println("  Verbose mode: All output to stdout, no progress bar, no file logging")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Download a song with its lyric")
	fmt.Println("  musictransfer -l 12345")
	fmt.Println()
	fmt.Println("  # Download several songs into the cache, 8 at a time")
	fmt.Println("  musictransfer --cache -p 8 12345 67890 24680")
	fmt.Println()
	fmt.Println("  # Download a music video")
	fmt.Println("  musictransfer --mv https://example.com/v.mp4 --name \"Foo\" 12345")
}
