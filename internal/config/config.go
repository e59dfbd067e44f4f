package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	ResumeManifest  = "manifest"
	ResumeDirectory = "directory"
)

type Config struct {
	DataPath    string        `yaml:"data_path"    env:"SALCACHE_DATA_PATH"`
	CachePath   string        `yaml:"cache_path"   env:"SALCACHE_CACHE_PATH"`
	Method      string        `yaml:"method"       env:"SALCACHE_METHOD"`
	Extension   string        `yaml:"extension"    env:"SALCACHE_EXTENSION"`
	BatchSize   int           `yaml:"batch_size"   env:"SALCACHE_BATCH_SIZE"`
	Workers     int           `yaml:"workers"      env:"SALCACHE_WORKERS"`
	Rescale     float64       `yaml:"rescale"      env:"SALCACHE_RESCALE"`
	SaveScaled  bool          `yaml:"save_scaled"  env:"SALCACHE_SAVE_SCALED"`
	Resume      string        `yaml:"resume"       env:"SALCACHE_RESUME"`
	JobTimeout  time.Duration `yaml:"job_timeout"  env:"SALCACHE_JOB_TIMEOUT"`
	ArtifactExt string        `yaml:"artifact_ext" env:"SALCACHE_ARTIFACT_EXT"`
	JPEGQuality int           `yaml:"jpeg_quality" env:"SALCACHE_JPEG_QUALITY"`
	StagingDirs []string      `yaml:"staging_dirs" env:"SALCACHE_STAGING_DIRS" envSeparator:":"`

	Clips    ClipConfig                `yaml:"clips"`
	FFmpeg   FFmpegConfig              `yaml:"ffmpeg"`
	External map[string]ExternalMethod `yaml:"external"`

	LogLevel        string `yaml:"log_level"        env:"SALCACHE_LOG_LEVEL"`
	MetricsAddr     string `yaml:"metrics_addr"     env:"SALCACHE_METRICS_ADDR"`
	TracingEndpoint string `yaml:"tracing_endpoint" env:"SALCACHE_TRACING_ENDPOINT"`
}

// ClipConfig drives the per-frame clip cache (the training-time path).
type ClipConfig struct {
	FramesPerClip int    `yaml:"frames_per_clip" env:"SALCACHE_FRAMES_PER_CLIP"`
	Step          int    `yaml:"step"            env:"SALCACHE_CLIP_STEP"`
	MaxAttempts   int    `yaml:"max_attempts"    env:"SALCACHE_CLIP_MAX_ATTEMPTS"`
	CacheExt      string `yaml:"cache_ext"       env:"SALCACHE_CLIP_CACHE_EXT"`
	Seed          int64  `yaml:"seed"            env:"SALCACHE_CLIP_SEED"`
}

type FFmpegConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"  env:"SALCACHE_FFMPEG"`
	FFprobePath string `yaml:"ffprobe_path" env:"SALCACHE_FFPROBE"`
	Threads     int    `yaml:"threads"      env:"SALCACHE_FFMPEG_THREADS"`
}

// ExternalMethod is a directory-based tool. {input} and {output} in Command
// are replaced with the staged frame directory and the destination.
type ExternalMethod struct {
	Command []string `yaml:"command"`
	Ext     string   `yaml:"ext"`
}

func Default() *Config {
	return &Config{
		DataPath:    "../kinetics/",
		CachePath:   "./saliency_cache/",
		Method:      "harris",
		Extension:   "mp4",
		BatchSize:   8,
		Workers:     16,
		Rescale:     1,
		Resume:      ResumeDirectory,
		JobTimeout:  30 * time.Minute,
		ArtifactExt: "jpg",
		JPEGQuality: 50,
		StagingDirs: []string{"/scratch/"},
		Clips: ClipConfig{
			FramesPerClip: 16,
			Step:          1,
			MaxAttempts:   10,
			CacheExt:      "png",
		},
		FFmpeg: FFmpegConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		External: map[string]ExternalMethod{
			"mbs": {
				Command: []string{"docker", "run", "--rm", "-v", "{input}:/input", "-v", "{output}:/output", "saliency/mbs"},
				Ext:     "jpg",
			},
			"eqcut": {
				Command: []string{"docker", "run", "--rm", "-v", "{input}:/input", "-v", "{output}:/output", "saliency/eqcut"},
				Ext:     "jpg",
			},
		},
		LogLevel: "info",
	}
}

// Load applies, in order: defaults, the YAML file, SALCACHE_* environment
// variables. An empty path probes the usual locations; a missing file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DataPath) == "" {
		errs = append(errs, errors.New("data_path is required"))
	}
	if strings.TrimSpace(c.CachePath) == "" {
		errs = append(errs, errors.New("cache_path is required"))
	}
	if c.Rescale <= 0 {
		errs = append(errs, fmt.Errorf("rescale must be > 0, got %v", c.Rescale))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", c.Workers))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize))
	}
	if c.Resume != ResumeManifest && c.Resume != ResumeDirectory {
		errs = append(errs, fmt.Errorf("resume must be %q or %q, got %q", ResumeManifest, ResumeDirectory, c.Resume))
	}
	if c.Clips.FramesPerClip < 1 || c.Clips.Step < 1 {
		errs = append(errs, errors.New("clips.frames_per_clip and clips.step must be >= 1"))
	}
	if c.Clips.MaxAttempts < 1 {
		errs = append(errs, errors.New("clips.max_attempts must be >= 1"))
	}
	for name, m := range c.External {
		if len(m.Command) == 0 {
			errs = append(errs, fmt.Errorf("external.%s.command is empty", name))
		}
	}
	return errors.Join(errs...)
}

func findConfigFile() string {
	candidates := []string{
		"./salcache.yaml",
		"./salcache.yml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".salcache", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
