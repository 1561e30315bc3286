// Command gifpress compresses animated GIFs and short videos to a target
// size from the command line.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/gifpress/gifpress"
	"github.com/gifpress/gifpress/adapters/fallback"
	"github.com/gifpress/gifpress/adapters/vips"
	"github.com/gifpress/gifpress/config"
	"github.com/gifpress/gifpress/core"
	"github.com/gifpress/gifpress/hooks"
)

var rootCmd = &cli.Command{
	Name:      "gifpress",
	Usage:     "Compress animated GIFs (and short videos) down to a target size",
	ArgsUsage: "FILE... (directories with --batch)",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output path (single input only; default: <name>-min.gif)",
		},
		&cli.FloatFlag{
			Name:    "size",
			Aliases: []string{"s"},
			Usage:   "Target size in megabytes",
			Value:   1.0,
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Aliases: []string{"m"},
			Usage:   "Maximum compression attempts",
		},
		&cli.BoolFlag{
			Name:    "batch",
			Aliases: []string{"b"},
			Usage:   "Treat arguments as directories and compress every animation inside",
		},
		&cli.IntFlag{
			Name:  "min-colors",
			Usage: "Palette floor for color reduction (2-256)",
		},
		&cli.FloatFlag{
			Name:  "min-scale",
			Usage: "Smallest allowed scale factor (0-1]",
		},
		&cli.BoolFlag{
			Name:  "force-scaling",
			Usage: "Try downscaling before color reduction",
		},
		&cli.FloatFlag{
			Name:    "frame-rate",
			Aliases: []string{"fps"},
			Usage:   "Fraction of frames to keep up front (0-1]",
		},
		&cli.FloatFlag{
			Name:  "speed",
			Usage: "Playback speed multiplier (e.g. 1.5)",
		},
		&cli.StringFlag{
			Name:  "crop",
			Usage: "Margins to trim as top,bottom,left,right in pixels",
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "Backend: auto, gifsicle, fallback, or vips",
			Value: "auto",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a TOML configuration file",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Log every pipeline stage",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Suppress per-attempt progress output",
		},
	},
	Action: run,
}

func main() {
	if err := rootCmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "gifpress: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		cli.ShowAppHelpAndExit(cmd, 0)
	}

	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return err
	}

	policy, err := policyFromFlags(cmd, cfg)
	if err != nil {
		return err
	}

	press, err := buildCompressor(cmd, cfg)
	if err != nil {
		return err
	}
	if !cmd.Bool("quiet") {
		press.AddAttemptObserver(&hooks.ProgressWriter{W: os.Stdout})
	}

	if cmd.Bool("batch") {
		return runBatch(ctx, press, args, policy)
	}

	if cmd.String("output") != "" && len(args) > 1 {
		return fmt.Errorf("--output works with a single input; got %d", len(args))
	}
	for _, path := range args {
		if err := compressOne(ctx, press, path, cmd.String("output"), policy); err != nil {
			return err
		}
	}
	return nil
}

func buildCompressor(cmd *cli.Command, cfg config.Config) (*gifpress.Compressor, error) {
	if cmd.Bool("verbose") {
		cfg.LogLevel = "debug"
	}
	logger := hooks.NewSlogLogger(newSlog(cfg.LogLevel))

	var opts []gifpress.Option
	switch cmd.String("backend") {
	case "auto", "gifsicle":
		// Probed default: gifsicle when it responds, pure Go otherwise.
	case "fallback":
		opts = append(opts, gifpress.WithBackend(fallback.New()))
	case "vips":
		opts = append(opts, gifpress.WithBackend(vips.New(vips.Options{}, fallback.New())))
	default:
		return nil, fmt.Errorf("unknown backend %q", cmd.String("backend"))
	}

	press := gifpress.New(cfg, opts...)
	press.SetLogger(logger)
	if cmd.Bool("verbose") {
		press.AddHook(hooks.NewLoggingHook(logger))
	}

	if cmd.String("backend") == "gifsicle" && !press.Capabilities().NativeEncoder {
		return nil, fmt.Errorf("gifsicle backend requested but %q did not respond", cfg.GifsicleBinary)
	}
	return press, nil
}

func compressOne(ctx context.Context, press *gifpress.Compressor, inPath, outPath string, policy core.Policy) error {
	src, closer, err := gifpress.FromFile(inPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	res, err := press.Compress(ctx, src, policy)
	if err != nil {
		return fmt.Errorf("%s: %w", inPath, err)
	}

	if outPath == "" {
		outPath = defaultOutputPath(inPath)
	}
	if err := os.WriteFile(outPath, res.Data, 0o644); err != nil {
		return err
	}

	fmt.Println(renderSummary(inPath, outPath, res))
	return nil
}

func defaultOutputPath(inPath string) string {
	ext := filepath.Ext(inPath)
	base := strings.TrimSuffix(inPath, ext)
	return base + "-min.gif"
}

func policyFromFlags(cmd *cli.Command, cfg config.Config) (core.Policy, error) {
	p := core.Policy{
		TargetBytes:  core.TargetBytesFromMB(cmd.Float("size")),
		MaxAttempts:  int(cmd.Int("max-attempts")),
		MinColors:    int(cmd.Int("min-colors")),
		MinScale:     cmd.Float("min-scale"),
		ForceScaling: cmd.Bool("force-scaling") || cfg.Search.ForceScaling,
		FrameRate:    cmd.Float("frame-rate"),
		SpeedFactor:  cmd.Float("speed"),
	}
	if s := cmd.String("crop"); s != "" {
		crop, err := parseCrop(s)
		if err != nil {
			return core.Policy{}, err
		}
		p.Crop = crop
	}
	return p, nil
}

// parseCrop parses "top,bottom,left,right" pixel margins.
func parseCrop(s string) (core.CropMargins, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return core.CropMargins{}, fmt.Errorf("crop wants top,bottom,left,right; got %q", s)
	}
	vals := make([]int, 4)
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 {
			return core.CropMargins{}, fmt.Errorf("crop margin %q must be a non-negative integer", part)
		}
		vals[i] = v
	}
	return core.CropMargins{Top: vals[0], Bottom: vals[1], Left: vals[2], Right: vals[3]}, nil
}

func newSlog(level string) *slog.Logger {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}
