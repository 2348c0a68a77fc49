package feed

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadSeeds reads all source seed files (*.yml) from dir. A missing
// directory is not an error: seeds are optional, sources can also be
// created through subscriptions.
func LoadSeeds(dir string) ([]Seed, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find seed files: %w", err)
	}

	seeds := make([]Seed, 0, len(files))
	for _, file := range files {
		seed, err := loadSeedFile(file)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Seed loaded", "name", seed.Name, "url", seed.URL, "refresh_interval", seed.RefreshInterval)
		seeds = append(seeds, seed)
	}

	return seeds, nil
}

func loadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("failed to parse seed file: %w", err)
	}

	if seed.URL == "" {
		return Seed{}, fmt.Errorf("seed file is missing a url")
	}

	seed.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if seed.Title == "" {
		seed.Title = seed.Name
	}

	return seed, nil
}
