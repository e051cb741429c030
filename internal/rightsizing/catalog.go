package rightsizing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// InstanceTypeSpec describes one instance type's capacity and price.
type InstanceTypeSpec struct {
	VCPU        int     `yaml:"vcpu"`
	MemoryGB    float64 `yaml:"memoryGB"`
	HourlyPrice float64 `yaml:"hourlyPrice"`
}

// Catalog maps provider -> instance type -> spec. It backs both candidate
// selection and cost estimation.
type Catalog struct {
	providers map[string]map[string]InstanceTypeSpec
}

// DefaultCatalog returns the built-in price table covering the providers the
// ingest layer emits.
func DefaultCatalog() *Catalog {
	return &Catalog{providers: map[string]map[string]InstanceTypeSpec{
		"aws": {
			"t3.micro":   {VCPU: 2, MemoryGB: 1, HourlyPrice: 0.0104},
			"t3.medium":  {VCPU: 2, MemoryGB: 4, HourlyPrice: 0.0416},
			"m5.large":   {VCPU: 2, MemoryGB: 8, HourlyPrice: 0.096},
			"m5.xlarge":  {VCPU: 4, MemoryGB: 16, HourlyPrice: 0.192},
			"c5.2xlarge": {VCPU: 8, MemoryGB: 16, HourlyPrice: 0.34},
			"p3.2xlarge": {VCPU: 8, MemoryGB: 61, HourlyPrice: 3.06},
		},
		"gcp": {
			"e2-micro":      {VCPU: 2, MemoryGB: 1, HourlyPrice: 0.0084},
			"e2-medium":     {VCPU: 2, MemoryGB: 4, HourlyPrice: 0.0335},
			"n1-standard-2": {VCPU: 2, MemoryGB: 7.5, HourlyPrice: 0.095},
			"n1-standard-4": {VCPU: 4, MemoryGB: 15, HourlyPrice: 0.19},
			"c2-standard-8": {VCPU: 8, MemoryGB: 32, HourlyPrice: 0.382},
			"a2-highgpu-1g": {VCPU: 12, MemoryGB: 85, HourlyPrice: 3.67},
		},
		"oci": {
			"VM.Standard.E2.1":    {VCPU: 1, MemoryGB: 8, HourlyPrice: 0.03},
			"VM.Standard.E2.2":    {VCPU: 2, MemoryGB: 16, HourlyPrice: 0.06},
			"VM.Standard.E3.Flex": {VCPU: 4, MemoryGB: 32, HourlyPrice: 0.085},
			"VM.GPU2.1":           {VCPU: 12, MemoryGB: 72, HourlyPrice: 2.95},
		},
	}}
}

// LoadCatalog reads a catalog pack from a YAML file. An empty path falls back
// to the built-in defaults.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog pack: %w", err)
	}
	var raw struct {
		Providers map[string]map[string]InstanceTypeSpec `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog pack %s: %w", path, err)
	}
	if len(raw.Providers) == 0 {
		return nil, fmt.Errorf("catalog pack %s defines no providers", path)
	}
	for provider, types := range raw.Providers {
		for name, spec := range types {
			if spec.VCPU <= 0 || spec.HourlyPrice <= 0 {
				return nil, fmt.Errorf("catalog pack %s: %s/%s needs positive vcpu and hourlyPrice", path, provider, name)
			}
		}
	}
	return &Catalog{providers: raw.Providers}, nil
}

// Lookup returns the spec for one provider/type pair.
func (c *Catalog) Lookup(provider, instanceType string) (InstanceTypeSpec, bool) {
	spec, ok := c.providers[provider][instanceType]
	return spec, ok
}

// Types returns the type table for one provider.
func (c *Catalog) Types(provider string) map[string]InstanceTypeSpec {
	return c.providers[provider]
}
