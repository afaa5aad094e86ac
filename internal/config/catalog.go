package config

import (
	"fmt"
	"os"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape of the plan catalog.
type catalogFile struct {
	Plans []catalogPlan `yaml:"plans"`
}

type catalogPlan struct {
	domain.EsimPlan `yaml:",inline"`
	RetailPrice     string `yaml:"retail_price"`
}

// LoadPlanCatalog reads plans from a YAML file.
func LoadPlanCatalog(path string) ([]domain.EsimPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}
	return ParsePlanCatalog(data)
}

// ParsePlanCatalog decodes and validates a YAML plan catalog.
func ParsePlanCatalog(data []byte) ([]domain.EsimPlan, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal plan catalog: %w", err)
	}

	seen := make(map[int64]bool, len(file.Plans))
	plans := make([]domain.EsimPlan, 0, len(file.Plans))
	for i, p := range file.Plans {
		if p.ID <= 0 || p.ProviderPlanID == "" || p.Name == "" {
			return nil, fmt.Errorf("plan catalog entry %d: id, provider_plan_id and name are required", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("plan catalog entry %d: duplicate id %d", i, p.ID)
		}
		seen[p.ID] = true

		price, err := decimal.NewFromString(p.RetailPrice)
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("plan catalog entry %d: invalid retail_price %q", i, p.RetailPrice)
		}
		plan := p.EsimPlan
		plan.RetailPrice = price
		plans = append(plans, plan)
	}
	return plans, nil
}
