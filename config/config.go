package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/xeptore/trackfetch/redact"
)

type Config struct {
	Log        Log        `yaml:"log"`
	Storage    Storage    `yaml:"storage"`
	Import     Import     `yaml:"import"`
	RateLimit  RateLimit  `yaml:"rate_limit"`
	Validation Validation `yaml:"validation"`
	Resolver   Resolver   `yaml:"resolver"`
	Cascade    Cascade    `yaml:"cascade"`
	Convert    Convert    `yaml:"convert"`
	Queue      Queue      `yaml:"queue"`
	Events     Events     `yaml:"events"`
}

func (c *Config) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("log", c.Log.ToDict()).
		Dict("storage", c.Storage.ToDict()).
		Dict("import", c.Import.ToDict()).
		Dict("rate_limit", c.RateLimit.ToDict()).
		Dict("validation", c.Validation.ToDict()).
		Dict("resolver", c.Resolver.ToDict()).
		Dict("cascade", c.Cascade.ToDict()).
		Dict("convert", c.Convert.ToDict()).
		Dict("queue", c.Queue.ToDict()).
		Dict("events", c.Events.ToDict())
}

func (c *Config) setDefaults() {
	c.Log.setDefaults()
	c.Storage.setDefaults()
	c.Import.setDefaults()
	c.RateLimit.setDefaults()
	c.Validation.setDefaults()
	c.Resolver.setDefaults()
	c.Cascade.setDefaults()
	c.Convert.setDefaults()
	c.Queue.setDefaults()
	c.Events.setDefaults()
}

func (c *Config) validate() error {
	if err := c.Log.validate(); nil != err {
		return fmt.Errorf("log config validation failed: %v", err)
	}

	if err := c.Storage.validate(); nil != err {
		return fmt.Errorf("storage config validation failed: %v", err)
	}

	if err := c.Import.validate(); nil != err {
		return fmt.Errorf("import config validation failed: %v", err)
	}

	if err := c.RateLimit.validate(); nil != err {
		return fmt.Errorf("rate_limit config validation failed: %v", err)
	}

	if err := c.Validation.validate(); nil != err {
		return fmt.Errorf("validation config validation failed: %v", err)
	}

	if err := c.Resolver.validate(); nil != err {
		return fmt.Errorf("resolver config validation failed: %v", err)
	}

	if err := c.Cascade.validate(); nil != err {
		return fmt.Errorf("cascade config validation failed: %v", err)
	}

	if err := c.Convert.validate(); nil != err {
		return fmt.Errorf("convert config validation failed: %v", err)
	}

	if err := c.Queue.validate(); nil != err {
		return fmt.Errorf("queue config validation failed: %v", err)
	}

	if err := c.Events.validate(); nil != err {
		return fmt.Errorf("events config validation failed: %v", err)
	}

	return nil
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Log) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("level", c.Level).
		Str("format", c.Format)
}

func (c *Log) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "pretty"
	}
}

func (c *Log) validate() error {
	if !slices.Contains([]string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}, c.Level) {
		return fmt.Errorf(
			"level must be one of: trace, debug, info, warn, error, fatal, panic, got: %s",
			c.Level,
		)
	}

	if !slices.Contains([]string{"json", "pretty"}, c.Format) {
		return fmt.Errorf("format must be 'json' or 'pretty', got: %s", c.Format)
	}

	return nil
}

type Storage struct {
	MediaDir   string `yaml:"media_dir"`
	StagingDir string `yaml:"staging_dir"`
	DBPath     string `yaml:"db_path"`
}

func (c *Storage) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("media_dir", c.MediaDir).
		Str("staging_dir", c.StagingDir).
		Str("db_path", c.DBPath)
}

func (c *Storage) setDefaults() {
	if c.MediaDir == "" {
		c.MediaDir = "./media"
	}

	if c.StagingDir == "" {
		c.StagingDir = "./staging"
	}

	if c.DBPath == "" {
		c.DBPath = "trackfetch.db"
	}
}

func (c *Storage) validate() error {
	for name, dir := range map[string]string{"media_dir": c.MediaDir, "staging_dir": c.StagingDir} {
		if i, err := os.Stat(dir); nil != err {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%s does not exist", name)
			}

			return fmt.Errorf("failed to stat %s: %v", name, err)
		} else if !i.IsDir() {
			return fmt.Errorf("%s must be a directory", name)
		}
	}

	return nil
}

type Import struct {
	BatchWidth    int `yaml:"batch_width"`
	CoverGridSize int `yaml:"cover_grid_size"`
	CoverSize     int `yaml:"cover_size"`
}

func (c *Import) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("batch_width", c.BatchWidth).
		Int("cover_grid_size", c.CoverGridSize).
		Int("cover_size", c.CoverSize)
}

func (c *Import) setDefaults() {
	if c.BatchWidth == 0 {
		c.BatchWidth = 5
	}

	if c.CoverGridSize == 0 {
		c.CoverGridSize = 4
	}

	if c.CoverSize == 0 {
		c.CoverSize = 600
	}
}

func (c *Import) validate() error {
	if c.BatchWidth < 1 {
		return errors.New("batch_width must be greater than 0")
	}

	if c.CoverGridSize < 1 || c.CoverGridSize > 4 {
		return errors.New("cover_grid_size must be between 1 and 4")
	}

	if c.CoverSize < 1 {
		return errors.New("cover_size must be greater than 0")
	}

	return nil
}

type RateLimit struct {
	MinInterval Duration `yaml:"min_interval"`
	MaxJitter   Duration `yaml:"max_jitter"`
}

func (c *RateLimit) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("min_interval", c.MinInterval.String()).
		Str("max_jitter", c.MaxJitter.String())
}

func (c *RateLimit) setDefaults() {
	if c.MinInterval.Duration == 0 {
		c.MinInterval.Duration = 1500 * time.Millisecond
	}
}

func (c *RateLimit) validate() error {
	if c.MinInterval.Duration < 0 {
		return errors.New("min_interval must be greater than 0")
	}

	if c.MaxJitter.Duration < 0 {
		return errors.New("max_jitter must not be negative")
	}

	return nil
}

type Validation struct {
	StrictMinBytes   int64    `yaml:"strict_min_bytes"`
	StandardMinBytes int64    `yaml:"standard_min_bytes"`
	MinDuration      Duration `yaml:"min_duration"`
}

func (c *Validation) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int64("strict_min_bytes", c.StrictMinBytes).
		Int64("standard_min_bytes", c.StandardMinBytes).
		Str("min_duration", c.MinDuration.String())
}

func (c *Validation) setDefaults() {
	if c.StrictMinBytes == 0 {
		c.StrictMinBytes = 300_000
	}

	if c.StandardMinBytes == 0 {
		c.StandardMinBytes = 200_000
	}

	if c.MinDuration.Duration == 0 {
		c.MinDuration.Duration = 30 * time.Second
	}
}

func (c *Validation) validate() error {
	if c.StrictMinBytes < 0 {
		return errors.New("strict_min_bytes must be greater than 0")
	}

	if c.StandardMinBytes < 0 {
		return errors.New("standard_min_bytes must be greater than 0")
	}

	if c.StandardMinBytes > c.StrictMinBytes {
		return errors.New("standard_min_bytes must not exceed strict_min_bytes")
	}

	if c.MinDuration.Duration < 0 {
		return errors.New("min_duration must be greater than 0")
	}

	return nil
}

type Resolver struct {
	SearchURL       string   `yaml:"search_url"`
	QueryTemplates  []string `yaml:"query_templates"`
	DisallowedTerms []string `yaml:"disallowed_terms"`
	MinDuration     Duration `yaml:"min_duration"`
	SearchTimeout   Duration `yaml:"search_timeout"`
	SearchRetries   uint64   `yaml:"search_retries"`
	CacheTTL        Duration `yaml:"cache_ttl"`
}

func (c *Resolver) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("search_url", c.SearchURL).
		Strs("query_templates", c.QueryTemplates).
		Strs("disallowed_terms", c.DisallowedTerms).
		Str("min_duration", c.MinDuration.String()).
		Str("search_timeout", c.SearchTimeout.String()).
		Uint64("search_retries", c.SearchRetries).
		Str("cache_ttl", c.CacheTTL.String())
}

func (c *Resolver) setDefaults() {
	if len(c.QueryTemplates) == 0 {
		c.QueryTemplates = []string{
			"{title} {artist} official audio",
			"{title} {artist} audio",
			"{title} {artist} topic",
			"{artist} {title}",
		}
	}

	if c.DisallowedTerms == nil {
		c.DisallowedTerms = []string{"live", "remix", "cover", "karaoke", "instrumental", "reaction"}
	}

	if c.MinDuration.Duration == 0 {
		c.MinDuration.Duration = 90 * time.Second
	}

	if c.SearchTimeout.Duration == 0 {
		c.SearchTimeout.Duration = 10 * time.Second
	}

	if c.SearchRetries == 0 {
		c.SearchRetries = 3
	}

	if c.CacheTTL.Duration == 0 {
		c.CacheTTL.Duration = 1 * time.Hour
	}
}

func (c *Resolver) validate() error {
	if c.SearchURL == "" {
		return errors.New("search_url is required")
	}

	for _, tmpl := range c.QueryTemplates {
		if !strings.Contains(tmpl, "{title}") && !strings.Contains(tmpl, "{artist}") {
			return fmt.Errorf("query template %q references neither {title} nor {artist}", tmpl)
		}
	}

	if c.MinDuration.Duration < 0 {
		return errors.New("min_duration must not be negative")
	}

	if c.SearchTimeout.Duration < 0 {
		return errors.New("search_timeout must be greater than 0")
	}

	return nil
}

type Cascade struct {
	PrimaryURL   string   `yaml:"primary_url"`
	Mirrors      []string `yaml:"mirrors"`
	SecondaryURL string   `yaml:"secondary_url"`
	SecondaryKey string   `yaml:"-"`
	ExtractorCmd []string `yaml:"extractor_cmd"`
	TierTimeout  Duration `yaml:"tier_timeout"`
}

func (c *Cascade) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("primary_url", c.PrimaryURL).
		Strs("mirrors", c.Mirrors).
		Str("secondary_url", c.SecondaryURL).
		Str("secondary_key", lo.Ternary(c.SecondaryKey == "", "", redact.String(c.SecondaryKey))).
		Strs("extractor_cmd", c.ExtractorCmd).
		Str("tier_timeout", c.TierTimeout.String())
}

func (c *Cascade) setDefaults() {
	if c.TierTimeout.Duration == 0 {
		c.TierTimeout.Duration = 60 * time.Second
	}
}

func (c *Cascade) validate() error {
	if c.PrimaryURL == "" && len(c.Mirrors) == 0 && c.SecondaryURL == "" && len(c.ExtractorCmd) == 0 {
		return errors.New("at least one download tier must be configured")
	}

	if c.TierTimeout.Duration < 0 {
		return errors.New("tier_timeout must be greater than 0")
	}

	return nil
}

type Convert struct {
	FFmpeg  string `yaml:"ffmpeg"`
	FFprobe string `yaml:"ffprobe"`
	Format  string `yaml:"format"`
}

func (c *Convert) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("ffmpeg", c.FFmpeg).
		Str("ffprobe", c.FFprobe).
		Str("format", c.Format)
}

func (c *Convert) setDefaults() {
	if c.FFmpeg == "" {
		c.FFmpeg = "ffmpeg"
	}

	if c.FFprobe == "" {
		c.FFprobe = "ffprobe"
	}

	if c.Format == "" {
		c.Format = "m4a"
	}
}

func (c *Convert) validate() error {
	if !slices.Contains([]string{"m4a", "mp3"}, c.Format) {
		return fmt.Errorf("format must be 'm4a' or 'mp3', got: %s", c.Format)
	}

	return nil
}

type Queue struct {
	RetryCap          int      `yaml:"retry_cap"`
	RetryBackoff      Duration `yaml:"retry_backoff"`
	DurationTolerance Duration `yaml:"duration_tolerance"`
}

func (c *Queue) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("retry_cap", c.RetryCap).
		Str("retry_backoff", c.RetryBackoff.String()).
		Str("duration_tolerance", c.DurationTolerance.String())
}

func (c *Queue) setDefaults() {
	if c.RetryCap == 0 {
		c.RetryCap = 3
	}

	if c.RetryBackoff.Duration == 0 {
		c.RetryBackoff.Duration = 500 * time.Millisecond
	}
}

func (c *Queue) validate() error {
	if c.RetryCap < 0 {
		return errors.New("retry_cap must not be negative")
	}

	if c.RetryBackoff.Duration < 0 {
		return errors.New("retry_backoff must not be negative")
	}

	if c.DurationTolerance.Duration < 0 {
		return errors.New("duration_tolerance must not be negative")
	}

	return nil
}

type Events struct {
	Buffer int `yaml:"buffer"`
}

func (c *Events) ToDict() *zerolog.Event {
	return zerolog.Dict().Int("buffer", c.Buffer)
}

func (c *Events) setDefaults() {
	if c.Buffer == 0 {
		c.Buffer = 256
	}
}

func (c *Events) validate() error {
	if c.Buffer < 1 {
		return errors.New("buffer must be greater than 0")
	}

	return nil
}

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("failed to parse duration: %v", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("failed to parse duration: %v", err)
	}

	d.Duration = parsed

	return nil
}

func Load(filename string) (*Config, error) {
	filename = lo.Ternary(len(filename) > 0, filename, "config.yaml")

	data, err := os.ReadFile(filename)
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var conf Config
	if err := yaml.Unmarshal(data, &conf); nil != err {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	conf.Cascade.SecondaryKey = os.Getenv("SECONDARY_API_KEY")
	conf.setDefaults()

	if err := conf.validate(); nil != err {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return &conf, nil
}
