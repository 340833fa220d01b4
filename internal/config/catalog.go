package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/pelletier/go-toml/v2"

	"github.com/tensorzero/curator/internal/model"
)

// FunctionConfig describes one function in the catalog.
type FunctionConfig struct {
	Type     model.FunctionType `toml:"type"`
	Variants []string           `toml:"variants"`
}

// Catalog is the read-only set of functions and metrics loaded from TOML:
//
//	[functions.extract_entities]
//	type = "json"
//	variants = ["gpt4o", "fine_tuned"]
//
//	[metrics.exact_match]
//	type = "boolean"
//	optimize = "max"
//	level = "inference"
type Catalog struct {
	Functions map[string]FunctionConfig    `toml:"functions"`
	Metrics   map[string]model.MetricPolicy `toml:"metrics"`
}

// LoadCatalog reads and validates the catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a TOML catalog. Unknown keys are errors.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("config: parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every function type and metric policy.
func (c *Catalog) Validate() error {
	var errs []error
	for name, fn := range c.Functions {
		if !fn.Type.Valid() {
			errs = append(errs, fmt.Errorf("function %q: type must be chat or json, got %q", name, fn.Type))
		}
	}
	for name, m := range c.Metrics {
		if name == model.DemonstrationMetric {
			errs = append(errs, fmt.Errorf("metric %q: name is reserved", name))
			continue
		}
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("metric %q: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid catalog: %w", errors.Join(errs...))
	}
	return nil
}

// Function looks up a function by name.
func (c *Catalog) Function(name string) (FunctionConfig, error) {
	fn, ok := c.Functions[name]
	if !ok {
		return FunctionConfig{}, fmt.Errorf("%w: function %q", model.ErrNotFound, name)
	}
	return fn, nil
}

// Metric looks up a metric policy by name. The demonstration metric is
// always defined.
func (c *Catalog) Metric(name string) (model.MetricPolicy, error) {
	if name == model.DemonstrationMetric {
		return model.DemonstrationPolicy, nil
	}
	m, ok := c.Metrics[name]
	if !ok {
		return model.MetricPolicy{}, fmt.Errorf("%w: metric %q", model.ErrNotFound, name)
	}
	return m, nil
}

// FunctionNames returns the configured function names, sorted.
func (c *Catalog) FunctionNames() []string {
	names := make([]string, 0, len(c.Functions))
	for n := range c.Functions {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
