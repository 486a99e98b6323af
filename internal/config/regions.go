package config

import (
	"fmt"
	"os"

	"github.com/islandhamstar/covid-impact/internal/domain"
	"gopkg.in/yaml.v3"
)

type regionsFile struct {
	Regions []domain.Region `yaml:"regions"`
}

// LoadRegionCatalog builds the catalog of regions to score.
//
// With no path, the catalog holds ids without population data. With a path,
// the YAML file lists regions with their population; when ids is non-empty
// only those regions are kept, in ids order, and ids absent from the file are
// added without population.
func LoadRegionCatalog(path string, ids []string) (domain.RegionCatalog, error) {
	if path == "" {
		regions := make([]domain.Region, len(ids))
		for i, id := range ids {
			regions[i] = domain.Region{ID: id}
		}
		return domain.NewRegionCatalog(regions), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RegionCatalog{}, fmt.Errorf("read regions file: %w", err)
	}
	var f regionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return domain.RegionCatalog{}, fmt.Errorf("parse regions file %s: %w", path, err)
	}
	for i, r := range f.Regions {
		if r.ID == "" {
			return domain.RegionCatalog{}, fmt.Errorf("parse regions file %s: entry %d has no id", path, i)
		}
		if r.Population < 0 {
			return domain.RegionCatalog{}, fmt.Errorf("parse regions file %s: region %s has negative population", path, r.ID)
		}
	}

	if len(ids) == 0 {
		return domain.NewRegionCatalog(f.Regions), nil
	}
	fromFile := domain.NewRegionCatalog(f.Regions)
	regions := make([]domain.Region, 0, len(ids))
	for _, id := range ids {
		r, ok := fromFile.Lookup(id)
		if !ok {
			r = domain.Region{ID: id}
		}
		regions = append(regions, r)
	}
	return domain.NewRegionCatalog(regions), nil
}
