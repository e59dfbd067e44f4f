package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/salcache/internal/artifact"
	"github.com/ivlev/salcache/internal/batch"
	"github.com/ivlev/salcache/internal/cache"
	"github.com/ivlev/salcache/internal/config"
	"github.com/ivlev/salcache/internal/logging"
	"github.com/ivlev/salcache/internal/saliency"
	"github.com/ivlev/salcache/internal/system"
	"github.com/ivlev/salcache/internal/video"
)

var generateFlags struct {
	dataPath, cachePath, method, extension, resume, artifactExt string
	batchSize, workers                                          int
	rescale                                                     float64
	saveScaled                                                  bool
	jobTimeout                                                  string
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Compute saliency maps for every video in the corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyGenerateFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger := logging.WithComponent("generate")

		method, err := newMethod(cfg, cfg.Method)
		if err != nil {
			return err
		}
		format, err := batchFormat(cfg, method)
		if err != nil {
			return err
		}
		store := cache.New(cfg.CachePath,
			cache.WithFormat(format),
			cache.WithJPEGQuality(cfg.JPEGQuality),
			cache.WithNormalization(artifact.Clamp),
			cache.WithLogger(logging.WithComponent("cache")),
		)
		decoder, err := video.NewFFmpeg(cfg.FFmpeg, logger)
		if err != nil {
			return err
		}

		resume, err := batch.ParseResumeMode(cfg.Resume)
		if err != nil {
			return err
		}
		driver := batch.NewDriver(batch.Options{
			DataPath:    cfg.DataPath,
			Extension:   cfg.Extension,
			BatchSize:   cfg.BatchSize,
			Workers:     cfg.Workers,
			Rescale:     cfg.Rescale,
			SaveScaled:  cfg.SaveScaled,
			Resume:      resume,
			JobTimeout:  cfg.JobTimeout,
			StagingDirs: cfg.StagingDirs,
		}, decoder, store, method, logger)
		driver.SetObserver(batch.NewConsoleObserver(os.Stdout))

		rep, err := driver.Run(cmd.Context())
		if rep != nil {
			fmt.Printf("[*] Done in %s: %d cached, %d skipped, %d failed of %d videos\n",
				rep.Duration.Round(time.Millisecond), rep.Persisted, rep.Skipped, rep.Failed, rep.Total)
		}
		if err != nil {
			return err
		}
		return nil
	},
}

// newMethod resolves name, printing the available methods when it is
// unknown.
func newMethod(cfg *config.Config, name string) (saliency.Method, error) {
	opts := saliency.Options{External: cfg.External, Logger: logging.WithComponent("saliency")}
	m, err := saliency.New(name, opts)
	if errors.Is(err, saliency.ErrUnknownMethod) {
		fmt.Fprintf(os.Stderr, "[!] Unknown method %q. Available methods: %s\n", name, strings.Join(saliency.Names(opts), ", "))
	}
	return m, err
}

// batchFormat picks the artifact format a method's output is stored in.
func batchFormat(cfg *config.Config, m saliency.Method) (artifact.Format, error) {
	if dc, ok := m.(saliency.DirectoryComputer); ok {
		return artifact.FormatFromExt(dc.OutputExt())
	}
	return artifact.FormatFromExt(m.Output().Ext(cfg.ArtifactExt))
}

func applyGenerateFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("data-path") {
		cfg.DataPath = generateFlags.dataPath
	}
	if f.Changed("saliency-path") {
		cfg.CachePath = generateFlags.cachePath
	}
	if f.Changed("method") {
		cfg.Method = generateFlags.method
	}
	if f.Changed("extension") {
		cfg.Extension = generateFlags.extension
	}
	if f.Changed("batch-size") {
		cfg.BatchSize = generateFlags.batchSize
	}
	if f.Changed("workers") {
		cfg.Workers = generateFlags.workers
		if cfg.Workers == 0 {
			cfg.Workers = system.DefaultWorkers()
		}
	}
	if f.Changed("rescale") {
		cfg.Rescale = generateFlags.rescale
	}
	if f.Changed("save-scaled") {
		cfg.SaveScaled = generateFlags.saveScaled
	}
	if f.Changed("resume") {
		cfg.Resume = generateFlags.resume
	}
	if f.Changed("artifact-ext") {
		cfg.ArtifactExt = generateFlags.artifactExt
	}
	if f.Changed("job-timeout") {
		d, err := parseDuration(generateFlags.jobTimeout)
		if err != nil {
			return fmt.Errorf("--job-timeout: %w", err)
		}
		cfg.JobTimeout = d
	}
	return nil
}

func init() {
	d := config.Default()
	f := generateCmd.Flags()
	f.StringVar(&generateFlags.dataPath, "data-path", d.DataPath, "root of the video corpus")
	f.StringVar(&generateFlags.cachePath, "saliency-path", d.CachePath, "root of the saliency cache")
	f.StringVar(&generateFlags.method, "method", d.Method, "saliency method (see 'salcache methods')")
	f.StringVar(&generateFlags.extension, "extension", d.Extension, "video file extension to look for")
	f.IntVarP(&generateFlags.batchSize, "batch-size", "b", d.BatchSize, "videos per progress batch")
	f.IntVarP(&generateFlags.workers, "workers", "j", d.Workers, "parallel video jobs (0 = size from CPU and memory)")
	f.Float64VarP(&generateFlags.rescale, "rescale", "r", d.Rescale, "scale factor applied to frames before computing")
	f.BoolVar(&generateFlags.saveScaled, "save-scaled", d.SaveScaled, "keep maps at the rescaled size")
	f.StringVar(&generateFlags.resume, "resume", d.Resume, "resume mode: directory (skip existing destinations) or manifest")
	f.StringVar(&generateFlags.jobTimeout, "job-timeout", d.JobTimeout.String(), "time limit for one video (0 = none)")
	f.StringVar(&generateFlags.artifactExt, "artifact-ext", d.ArtifactExt, "raster map format: jpg or png")
}
