// Package config describes a pipeline run: which tickers, which date range and
// which external programs make up each stage. Definitions come from a YAML
// file or from one of the built-in presets.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Alias1177/PredictorPipeline/models"
	"github.com/Alias1177/PredictorPipeline/pkg/checksum"
	"gopkg.in/yaml.v3"
)

// DefaultParamsSuffix is appended to a symbol to name its tuned hyperparameters file.
const DefaultParamsSuffix = "_best_params.json"

var (
	ErrNoTickers   = errors.New("pipeline has no tickers")
	ErrNoStages    = errors.New("pipeline has no stages")
	ErrNoEndDate   = errors.New("end_date is required")
	ErrNoCleanup   = errors.New("cleanup needs a command or paths")
	ErrUnknownFlag = errors.New("unknown stage flag")
)

// Pipeline is the immutable definition of one run.
type Pipeline struct {
	Name         string            `yaml:"name"`
	EndDate      string            `yaml:"end_date"`
	Tickers      map[string]Ticker `yaml:"tickers"`
	ParamsSuffix string            `yaml:"params_suffix,omitempty"` // empty: no --best_params
	Cleanup      Cleanup           `yaml:"cleanup"`
	Stages       []Stage           `yaml:"stages"`
}

// Ticker is one entry of the ticker map. In YAML it can be written either as
// a bare start date or as a mapping.
type Ticker struct {
	StartDate    string `yaml:"start_date"`
	SourceSymbol string `yaml:"source_symbol,omitempty"`
}

// UnmarshalYAML accepts `GLD: 2000-01-01` as well as the full mapping form.
func (t *Ticker) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		t.StartDate = value.Value
		return nil
	}
	type plain Ticker
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*t = Ticker(p)
	return nil
}

// Cleanup is either an external command or a list of paths to remove.
type Cleanup struct {
	Command []string `yaml:"command,omitempty"`
	Paths   []string `yaml:"paths,omitempty"`
}

// Stage is one external program invoked per ticker.
type Stage struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
	Flags   []string `yaml:"flags"`
}

var knownFlags = map[string]bool{
	models.FlagTicker:         true,
	models.FlagStartDate:      true,
	models.FlagEndDate:        true,
	models.FlagBestParams:     true,
	models.FlagYFinanceTicker: true,
}

// Load reads a YAML pipeline definition and validates it.
func Load(path string) (*Pipeline, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pipeline: %w", err)
	}
	defer file.Close()

	var p Pipeline
	if err := yaml.NewDecoder(file).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(strings.TrimSuffix(baseName(path), ".yaml"), ".yml")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", path, err)
	}
	return &p, nil
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Validate checks the definition before anything is executed.
func (p *Pipeline) Validate() error {
	if p == nil {
		return errors.New("pipeline is nil")
	}
	if len(p.Tickers) == 0 {
		return ErrNoTickers
	}
	if p.EndDate == "" {
		return ErrNoEndDate
	}
	if _, err := models.ParseDate(p.EndDate); err != nil {
		return fmt.Errorf("end_date: %w", err)
	}
	for symbol, t := range p.Tickers {
		if strings.TrimSpace(symbol) == "" {
			return errors.New("empty ticker symbol")
		}
		if err := models.ValidateRange(t.StartDate, p.EndDate); err != nil {
			return fmt.Errorf("ticker %s: %w", symbol, err)
		}
	}
	if len(p.Cleanup.Command) == 0 && len(p.Cleanup.Paths) == 0 {
		return ErrNoCleanup
	}
	if len(p.Stages) == 0 {
		return ErrNoStages
	}
	seen := make(map[string]bool, len(p.Stages))
	for i, s := range p.Stages {
		if s.Name == "" {
			return fmt.Errorf("stage %d has no name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage %q", s.Name)
		}
		seen[s.Name] = true
		if len(s.Command) == 0 {
			return fmt.Errorf("stage %s has no command", s.Name)
		}
		for _, f := range s.Flags {
			if !knownFlags[f] {
				return fmt.Errorf("stage %s: %w %q", s.Name, ErrUnknownFlag, f)
			}
		}
	}
	return nil
}

// Symbols returns the ticker symbols in sorted order.
func (p *Pipeline) Symbols() []string {
	symbols := make([]string, 0, len(p.Tickers))
	for s := range p.Tickers {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// ParamsFile names the tuned hyperparameters file for symbol, or "" when the
// pipeline does not forward one.
func (p *Pipeline) ParamsFile(symbol string) string {
	if p.ParamsSuffix == "" {
		return ""
	}
	return symbol + p.ParamsSuffix
}

// Jobs expands the ticker map into one job per symbol, sorted by symbol.
func (p *Pipeline) Jobs() []models.TickerJob {
	jobs := make([]models.TickerJob, 0, len(p.Tickers))
	for _, symbol := range p.Symbols() {
		t := p.Tickers[symbol]
		jobs = append(jobs, models.TickerJob{
			Symbol:       symbol,
			SourceSymbol: t.SourceSymbol,
			StartDate:    t.StartDate,
			EndDate:      p.EndDate,
			ParamsFile:   p.ParamsFile(symbol),
		})
	}
	return jobs
}

// Only returns a copy restricted to the given symbols. Unknown symbols are an error.
func (p *Pipeline) Only(symbols []string) (*Pipeline, error) {
	if len(symbols) == 0 {
		return p, nil
	}
	out := *p
	out.Tickers = make(map[string]Ticker, len(symbols))
	for _, s := range symbols {
		t, ok := p.Tickers[s]
		if !ok {
			return nil, fmt.Errorf("ticker %s is not configured", s)
		}
		out.Tickers[s] = t
	}
	return &out, nil
}

// Fingerprint hashes the canonical YAML form so runs of the same definition
// can be grouped in the history.
func (p *Pipeline) Fingerprint() (string, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal pipeline: %w", err)
	}
	return checksum.Bytes(data), nil
}
