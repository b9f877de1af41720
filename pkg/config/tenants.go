package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// TenantSeed is the on-disk YAML format used to seed tenant settings.
//
//	tenants:
//	  - tenant_id: acme-clinic
//	    agent_name: Ada
//	    model: claude-sonnet-4-5
//	    pipeline_version: v2
//	    enabled_features: [booking, knowledge]
type TenantSeed struct {
	Tenants []proto.TenantSettings `yaml:"tenants"`
	Records []SeedRecord           `yaml:"records"`
}

// SeedRecord is an initial knowledge record for a tenant.
type SeedRecord struct {
	TenantID string `yaml:"tenant_id"`
	Title    string `yaml:"title"`
	Category string `yaml:"category"`
	Content  string `yaml:"content"`
}

// LoadTenantSeed parses a tenant seed file.
func LoadTenantSeed(path string) (*TenantSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant seed %s: %w", path, err)
	}
	return ParseTenantSeed(data)
}

// ParseTenantSeed parses tenant seed YAML and validates tenant ids and pipeline versions.
func ParseTenantSeed(data []byte) (*TenantSeed, error) {
	var seed TenantSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse tenant seed: %w", err)
	}
	seen := make(map[string]bool, len(seed.Tenants))
	for i := range seed.Tenants {
		t := &seed.Tenants[i]
		if t.TenantID == "" {
			return nil, fmt.Errorf("tenant %d: tenant_id is required", i)
		}
		if seen[t.TenantID] {
			return nil, fmt.Errorf("tenant %s: duplicate tenant_id", t.TenantID)
		}
		seen[t.TenantID] = true
		switch t.PipelineVersion {
		case "", PipelineV1, PipelineV2:
		default:
			return nil, fmt.Errorf("tenant %s: unknown pipeline_version %q", t.TenantID, t.PipelineVersion)
		}
	}
	for i := range seed.Records {
		r := &seed.Records[i]
		if !seen[r.TenantID] {
			return nil, fmt.Errorf("record %q references unknown tenant %q", r.Title, r.TenantID)
		}
	}
	return &seed, nil
}
