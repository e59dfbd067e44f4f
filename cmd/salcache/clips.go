package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ivlev/salcache/internal/artifact"
	"github.com/ivlev/salcache/internal/cache"
	"github.com/ivlev/salcache/internal/clip"
	"github.com/ivlev/salcache/internal/config"
	"github.com/ivlev/salcache/internal/logging"
	"github.com/ivlev/salcache/internal/system"
	"github.com/ivlev/salcache/internal/video"
)

const metadataName = "clips.yaml"

var clipsFlags struct {
	dataPath, cachePath, method, metadata string
	framesPerClip, step, limit            int
	rebuild                               bool
}

var clipsCmd = &cobra.Command{
	Use:   "clips",
	Short: "Warm the per-frame cache by loading fixed-length clips",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		if f.Changed("data-path") {
			cfg.DataPath = clipsFlags.dataPath
		}
		if f.Changed("saliency-path") {
			cfg.CachePath = clipsFlags.cachePath
		}
		if f.Changed("method") {
			cfg.Method = clipsFlags.method
		}
		if f.Changed("frames-per-clip") {
			cfg.Clips.FramesPerClip = clipsFlags.framesPerClip
		}
		if f.Changed("step") {
			cfg.Clips.Step = clipsFlags.step
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx := cmd.Context()
		logger := logging.WithComponent("clips")

		method, err := newMethod(cfg, cfg.Method)
		if err != nil {
			return err
		}
		format, err := artifact.FormatFromExt(cfg.Clips.CacheExt)
		if err != nil {
			return err
		}
		decoder, err := video.NewFFmpeg(cfg.FFmpeg, logger)
		if err != nil {
			return err
		}

		metaPath := clipsFlags.metadata
		if metaPath == "" {
			metaPath = filepath.Join(cfg.CachePath, metadataName)
		}
		meta, err := loadOrBuildMetadata(cmd, metaPath, decoder)
		if err != nil {
			return err
		}

		clips, err := clip.NewClips(meta, cfg.Clips.FramesPerClip, cfg.Clips.Step)
		if err != nil {
			return err
		}
		store := cache.New(cfg.CachePath,
			cache.WithFormat(format),
			cache.WithNormalization(artifact.MinMax),
			cache.WithLogger(logging.WithComponent("cache")),
		)
		resolver, err := clip.NewResolver(store, clips, clip.Names(meta.VideoPaths), method)
		if err != nil {
			return err
		}
		dataset := clip.NewDataset(clip.NewFFmpegSource(clips, decoder), resolver, clip.DatasetOptions{
			MaxAttempts: cfg.Clips.MaxAttempts,
			Seed:        cfg.Clips.Seed,
			Logger:      logger,
		})

		fmt.Printf("[*] %d clips of %d frames over %d videos\n", dataset.Len(), cfg.Clips.FramesPerClip, clips.NumVideos())
		rep, err := dataset.Warm(ctx, clipsFlags.limit, cfg.Workers, func(done, total int) {
			fmt.Printf("[>] Ready: %d/%d\n", done, total)
		})
		if rep != nil {
			fmt.Printf("[*] Served %d of %d clips, %d failed\n", rep.Served, rep.Requested, rep.Failed)
		}
		if err != nil {
			return err
		}
		return nil
	},
}

// loadOrBuildMetadata reuses the probed frame timestamps from an earlier
// run unless --rebuild is set.
func loadOrBuildMetadata(cmd *cobra.Command, path string, dec video.Decoder) (*clip.Metadata, error) {
	if !clipsFlags.rebuild {
		meta, err := clip.LoadMetadata(path)
		if err == nil {
			fmt.Printf("[*] Loaded metadata for %d videos from %s\n", len(meta.VideoPaths), path)
			return meta, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	videos, err := system.ScanVideos(cfg.DataPath, cfg.Extension)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(videos))
	for i, v := range videos {
		paths[i] = v.AbsPath
	}
	fmt.Printf("[*] Probing %d videos...\n", len(paths))
	meta, err := clip.BuildMetadata(cmd.Context(), dec, paths, cfg.Workers, logging.WithComponent("metadata"))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := meta.Save(path); err != nil {
		return nil, err
	}
	return meta, nil
}

func init() {
	d := config.Default()
	f := clipsCmd.Flags()
	f.StringVar(&clipsFlags.dataPath, "data-path", d.DataPath, "root of the video corpus")
	f.StringVar(&clipsFlags.cachePath, "saliency-path", d.CachePath, "root of the saliency cache")
	f.StringVar(&clipsFlags.method, "method", d.Method, "per-frame saliency method")
	f.StringVar(&clipsFlags.metadata, "metadata", "", "clip metadata file (default: <saliency-path>/"+metadataName+")")
	f.IntVar(&clipsFlags.framesPerClip, "frames-per-clip", d.Clips.FramesPerClip, "frames in one clip")
	f.IntVar(&clipsFlags.step, "step", d.Clips.Step, "frame step between clip starts")
	f.IntVar(&clipsFlags.limit, "limit", 0, "warm only the first N clips (0 = all)")
	f.BoolVar(&clipsFlags.rebuild, "rebuild", false, "re-probe videos even if metadata exists")
}
