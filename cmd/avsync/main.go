package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/keagan/avsync/internal/compositor"
	"github.com/keagan/avsync/internal/config"
	"github.com/keagan/avsync/internal/ffmpeg"
	"github.com/keagan/avsync/internal/logging"
	"github.com/keagan/avsync/internal/manifest"
	"github.com/keagan/avsync/internal/pipeline"
	"github.com/keagan/avsync/internal/store"
	"github.com/keagan/avsync/internal/timeline"
	"github.com/keagan/avsync/internal/validate"
	"github.com/keagan/avsync/internal/watch"
	"github.com/keagan/avsync/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile string
	verbose bool

	// logger is replaced with the configured cli logger before any command runs.
	logger = zerolog.Nop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "avsync",
	Short:        "avsync - narration-driven audio/visual synchronization",
	Long:         "Plans when each visual appears against narration timing, reconciles rendered clips with their audio and assembles a gapless timeline.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)
		logger = logging.WithComponent("cli")

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

var (
	outPath      string
	outFormat    string
	record       bool
	keepSegments bool
	debounce     time.Duration
	historyLimit int
	forceInit    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./avsync.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	for _, cmd := range []*cobra.Command{assembleCmd, composeCmd, watchCmd} {
		cmd.Flags().StringVarP(&outPath, "out", "o", "", "sync metadata file (default: <manifest>.sync.json)")
		cmd.Flags().StringVar(&outFormat, "format", "", "metadata format: json or yaml (default: from --out extension)")
		cmd.Flags().BoolVar(&record, "record", false, "record the run in the history database")
	}
	validateCmd.Flags().BoolVar(&record, "record", false, "attach the report to the recorded run")
	composeCmd.Flags().BoolVar(&keepSegments, "keep-segments", false, "keep conformed segment files")
	watchCmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "delay before re-running after a change")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list (0 for all)")
	configInitCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "overwrite an existing file")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(composeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)

	historyCmd.AddCommand(historyShowCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan [manifest]",
	Short: "Compute sync points for every segment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		project, segs, err := loadManifest(args[0])
		if err != nil {
			return err
		}

		pipe := pipeline.New(log.Logger, nil, pipeline.OptionsFromConfig(cfg))
		plans, err := pipe.Plan(cmd.Context(), segs)
		if err != nil {
			return err
		}

		printPlans(os.Stdout, project, segs, plans)
		return nil
	},
}

var assembleCmd = &cobra.Command{
	Use:   "assemble [manifest]",
	Short: "Plan, reconcile and assemble the timeline, then write sync metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		res, _, err := assemble(cmd.Context(), cfg, args[0])
		if err != nil {
			return err
		}

		printTimeline(os.Stdout, res.Timeline)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [metadata] [measurements]",
	Short: "Compare intended visual starts with measured ones",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		meta, err := timeline.ReadMetadata(args[0])
		if err != nil {
			return err
		}
		measured, err := manifest.LoadMeasurements(args[1])
		if err != nil {
			return err
		}

		rep := validate.New(log.Logger, cfg.Validation.Tolerance).Validate(meta.IntendedStarts(), measured)
		printReport(os.Stdout, rep)

		if record && meta.RunID != "" {
			if err := withStore(cfg, func(s *store.Store) error {
				return s.SaveReport(cmd.Context(), meta.RunID, rep)
			}); err != nil {
				return err
			}
			logger.Info().Str("run", meta.RunID).Msg("report recorded")
		}

		if !rep.Passed {
			return fmt.Errorf("sync validation failed: p95 %s exceeds %s or nothing was measured",
				rep.P95, rep.Tolerance)
		}
		return nil
	},
}

var composeCmd = &cobra.Command{
	Use:   "compose [manifest] [output]",
	Short: "Assemble the timeline and render the final video with ffmpeg",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		media, err := newExecutor(cfg)
		if err != nil {
			return err
		}

		res, segs, err := assemble(cmd.Context(), cfg, args[0])
		if err != nil {
			return err
		}

		sources := make(map[string]compositor.Source, len(segs))
		for _, s := range segs {
			sources[s.ID] = compositor.Source{ClipPath: s.ClipPath, AudioPath: s.AudioPath}
		}

		opts := compositor.OptionsFromConfig(cfg)
		opts.KeepSegments = keepSegments
		out, err := compositor.New(log.Logger, media, opts).Compose(cmd.Context(), res.Timeline, sources, args[1])
		if err != nil {
			return err
		}

		logger.Info().
			Str("output", out.Output).
			Dur("duration", out.Actual).
			Dur("drift", out.Drift).
			Msg("video composed")
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [manifest]",
	Short: "Re-assemble whenever the manifest changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		rerun := func(ctx context.Context) {
			res, _, err := assemble(ctx, cfg, args[0])
			if err != nil {
				logger.Error().Err(err).Msg("assemble failed")
				return
			}
			printTimeline(os.Stdout, res.Timeline)
		}

		w, err := watch.New(log.Logger, args[0], debounce, rerun)
		if err != nil {
			return err
		}

		rerun(cmd.Context())
		return w.Run(cmd.Context())
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		return withStore(cfg, func(s *store.Store) error {
			runs, err := s.ListRuns(cmd.Context(), historyLimit)
			if err != nil {
				return err
			}
			printRuns(os.Stdout, runs)
			return nil
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [run id]",
	Short: "Show one recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		return withStore(cfg, func(s *store.Store) error {
			run, segs, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRun(os.Stdout, run, segs)
			return nil
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "./avsync.yaml"
		if len(args) == 1 {
			path = args[0]
		}

		if util.FileExists(path) && !forceInit {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		if err := config.Default().Save(path); err != nil {
			return err
		}
		logger.Info().Str("path", path).Msg("config written")
		return nil
	},
}

func loadManifest(path string) (*manifest.Project, []pipeline.Segment, error) {
	project, err := manifest.Load(path)
	if err != nil {
		return nil, nil, err
	}

	return project, project.PipelineSegments(), nil
}

// assemble runs the pipeline over a manifest with pre-rendered clips and
// writes the sync metadata.
func assemble(ctx context.Context, cfg *config.Config, manifestPath string) (*pipeline.Result, []pipeline.Segment, error) {
	_, segs, err := loadManifest(manifestPath)
	if err != nil {
		return nil, nil, err
	}

	// Probing is only needed for clips without a declared duration.
	var prober pipeline.Prober
	if media, err := newExecutor(cfg); err == nil {
		prober = media
	} else {
		logger.Debug().Err(err).Msg("ffmpeg unavailable, clip durations must be declared")
	}

	renderer := pipeline.NewClipRenderer(log.Logger, prober)
	res, err := pipeline.New(log.Logger, renderer, pipeline.OptionsFromConfig(cfg)).Run(ctx, segs)
	if err != nil {
		return nil, nil, err
	}

	path := metadataPath(manifestPath, outPath, outFormat)
	meta := res.Timeline.Metadata(res.RunID, res.StartedAt)
	if err := timeline.WriteMetadata(path, meta); err != nil {
		return nil, nil, err
	}
	logger.Info().Str("path", path).Str("run", res.RunID).Msg("sync metadata written")

	if record {
		if err := withStore(cfg, func(s *store.Store) error {
			return s.SaveRun(ctx, res)
		}); err != nil {
			return nil, nil, err
		}
	}

	return res, segs, nil
}

// metadataPath resolves where sync metadata goes. An explicit format
// replaces the extension of the chosen path.
func metadataPath(manifestPath, out, format string) string {
	path := out
	if path == "" {
		base := strings.TrimSuffix(manifestPath, filepath.Ext(manifestPath))
		path = base + ".sync.json"
	}

	switch strings.ToLower(format) {
	case timeline.FormatYAML, "yml":
		if timeline.FormatFor(path) != timeline.FormatYAML {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".yaml"
		}
	case timeline.FormatJSON:
		if timeline.FormatFor(path) != timeline.FormatJSON || filepath.Ext(path) == "" {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
		}
	}
	return path
}

func newExecutor(cfg *config.Config) (*ffmpeg.Executor, error) {
	return ffmpeg.New(log.Logger, ffmpeg.Options{
		FFmpegPath:  cfg.FFmpeg.BinaryPath,
		FFprobePath: cfg.FFmpeg.ProbePath,
		Threads:     cfg.FFmpeg.Threads,
	})
}

func withStore(cfg *config.Config, fn func(*store.Store) error) error {
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
