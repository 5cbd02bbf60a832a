// Package config loads the askapmetry run configuration from YAML, applies
// ASKAPMETRY_* environment overrides and builds the search components it
// describes.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/askapmetry/core"
	"github.com/signalsfoundry/askapmetry/internal/catalogue"
	"github.com/signalsfoundry/askapmetry/internal/observability"
)

// BeamCount is the number of beams in a full ASKAP footprint.
const BeamCount = 36

// Config is the top-level askapmetry.yml document.
type Config struct {
	Input         InputConfig                 `yaml:"input"`
	ReferenceBeam int                         `yaml:"reference_beam"`
	SkipAlignment bool                        `yaml:"skip_alignment,omitempty"`
	Search        SearchConfig                `yaml:"search"`
	Filter        catalogue.FilterOptions     `yaml:"filter"`
	Output        OutputConfig                `yaml:"output"`
	Redis         *RedisConfig                `yaml:"redis,omitempty"`
	MetricsAddr   string                      `yaml:"metrics_addr,omitempty"`
	Tracing       observability.TracingConfig `yaml:"tracing"`
}

// InputConfig locates the per-beam component catalogues and the reference.
type InputConfig struct {
	Dir       string `yaml:"dir"`
	SBID      int    `yaml:"sbid"`
	Beams     []int  `yaml:"beams,omitempty"`
	Pattern   string `yaml:"pattern,omitempty"`
	Reference string `yaml:"reference"`
}

// SearchConfig describes the trial grid and the statistic. Extent/Step give
// a symmetric grid; RA and Dec, when set, override it per axis.
type SearchConfig struct {
	Extent      float64    `yaml:"extent"`
	Step        float64    `yaml:"step"`
	RA          *core.Axis `yaml:"ra,omitempty"`
	Dec         *core.Axis `yaml:"dec,omitempty"`
	Statistic   string     `yaml:"statistic"`
	Cutoff      float64    `yaml:"cutoff"`
	Metric      string     `yaml:"metric"`
	Workers     int        `yaml:"workers,omitempty"`
	BeamWorkers int        `yaml:"beam_workers,omitempty"`
}

// OutputConfig selects the report sinks.
type OutputConfig struct {
	JSON    string `yaml:"json,omitempty"` // path, or "-" for stdout
	Table   bool   `yaml:"table"`
	GridDir string `yaml:"grid_dir,omitempty"`
}

// RedisConfig enables publication of per-beam results.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}

// Default returns a configuration for all 36 beams aligned to beam 0, a
// ±5" grid at 0.5" and the clipped-sum statistic.
func Default() *Config {
	beams := make([]int, BeamCount)
	for i := range beams {
		beams[i] = i
	}
	return &Config{
		Input: InputConfig{
			Dir:     ".",
			Beams:   beams,
			Pattern: catalogue.DefaultPattern,
		},
		ReferenceBeam: 0,
		Search: SearchConfig{
			Extent:      5,
			Step:        0.5,
			Statistic:   "sum",
			Cutoff:      5,
			Metric:      "planar",
			BeamWorkers: 4,
		},
		Filter:  catalogue.DefaultFilterOptions(),
		Output:  OutputConfig{Table: true},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load reads path on top of Default, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays ASKAPMETRY_* environment variables. Tracing variables
// are handled by observability.TracingConfigFromEnv.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("ASKAPMETRY_INPUT_DIR"); v != "" {
		c.Input.Dir = v
	}
	if v := os.Getenv("ASKAPMETRY_REFERENCE"); v != "" {
		c.Input.Reference = v
	}
	if v := os.Getenv("ASKAPMETRY_SBID"); v != "" {
		sbid, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ASKAPMETRY_SBID: %w", err)
		}
		c.Input.SBID = sbid
	}
	if v := os.Getenv("ASKAPMETRY_BEAMS"); v != "" {
		beams, err := ParseBeams(v)
		if err != nil {
			return fmt.Errorf("ASKAPMETRY_BEAMS: %w", err)
		}
		c.Input.Beams = beams
	}
	if v := os.Getenv("ASKAPMETRY_STATISTIC"); v != "" {
		c.Search.Statistic = v
	}
	if v := os.Getenv("ASKAPMETRY_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ASKAPMETRY_WORKERS: %w", err)
		}
		c.Search.Workers = n
	}
	if v := os.Getenv("ASKAPMETRY_REDIS_ADDR"); v != "" {
		if c.Redis == nil {
			c.Redis = &RedisConfig{}
		}
		c.Redis.Addr = v
	}
	if v := os.Getenv("ASKAPMETRY_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	c.Tracing = observability.TracingConfigFromEnv(c.Tracing)
	return nil
}

// Validate checks the whole document. It does not touch the filesystem.
func (c *Config) Validate() error {
	if len(c.Input.Beams) == 0 {
		return errors.New("input.beams must list at least one beam")
	}
	seen := make(map[int]bool, len(c.Input.Beams))
	for _, b := range c.Input.Beams {
		if b < 0 || b >= BeamCount {
			return fmt.Errorf("input.beams: beam %d outside 0..%d", b, BeamCount-1)
		}
		if seen[b] {
			return fmt.Errorf("input.beams: beam %d listed twice", b)
		}
		seen[b] = true
	}
	if !c.SkipAlignment && !seen[c.ReferenceBeam] {
		return fmt.Errorf("reference_beam %d is not in input.beams", c.ReferenceBeam)
	}

	if _, err := c.Search.Grid(); err != nil {
		return err
	}
	if _, err := c.Search.BuildStatistic(); err != nil {
		return fmt.Errorf("search.statistic: %w", err)
	}
	if _, err := core.ParseMetric(c.Search.Metric); err != nil {
		return fmt.Errorf("search.metric: %w", err)
	}
	if c.Search.Workers < 0 || c.Search.BeamWorkers < 0 {
		return errors.New("search workers must be >= 0 (0 = automatic)")
	}

	if err := c.Filter.Validate(); err != nil {
		return fmt.Errorf("filter: %w", err)
	}

	if c.Redis != nil {
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required when redis is configured")
		}
		if c.Redis.TTL < 0 {
			return fmt.Errorf("redis.ttl must not be negative, got %s", c.Redis.TTL)
		}
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %g", c.Tracing.SampleRatio)
	}
	return nil
}

// Grid resolves the configured trial grid.
func (s SearchConfig) Grid() (core.GridSpec, error) {
	g := core.SymmetricGrid(s.Extent, s.Step)
	if s.RA != nil {
		g.RA = *s.RA
	}
	if s.Dec != nil {
		g.Dec = *s.Dec
	}
	if err := g.Validate(); err != nil {
		return core.GridSpec{}, err
	}
	return g, nil
}

// BuildStatistic resolves the configured statistic and cutoff.
func (s SearchConfig) BuildStatistic() (core.Statistic, error) {
	return core.ParseStatistic(s.Statistic, s.Cutoff)
}

// SearchOptions translates the search section into Searcher options.
func (s SearchConfig) SearchOptions() ([]core.SearchOption, error) {
	grid, err := s.Grid()
	if err != nil {
		return nil, err
	}
	stat, err := s.BuildStatistic()
	if err != nil {
		return nil, err
	}
	metric, err := core.ParseMetric(s.Metric)
	if err != nil {
		return nil, err
	}
	return []core.SearchOption{
		core.WithGrid(grid),
		core.WithStatistic(stat),
		core.WithMetric(metric),
		core.WithWorkers(s.Workers),
		core.WithBeamWorkers(s.BeamWorkers),
	}, nil
}

// LoadOptions returns the catalogue loader settings.
func (c *Config) LoadOptions() catalogue.LoadOptions {
	return catalogue.LoadOptions{
		Dir:     c.Input.Dir,
		SBID:    c.Input.SBID,
		Beams:   append([]int(nil), c.Input.Beams...),
		Pattern: c.Input.Pattern,
		Filter:  c.Filter,
	}
}

// ParseBeams parses a beam list such as "0-5,8,10-11".
func ParseBeams(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("bad beam %q", part)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("bad beam range %q", part)
			}
		}
		if last < first {
			return nil, fmt.Errorf("bad beam range %q", part)
		}
		if first < 0 || last >= BeamCount {
			return nil, fmt.Errorf("beam range %q outside 0-%d", part, BeamCount-1)
		}
		for b := first; b <= last; b++ {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty beam list")
	}
	return out, nil
}
