// Package config provides boolean channel map loading.
package config

import (
	"fmt"
	"os"

	"github.com/nexus-edge/plc-link/internal/domain"
	"gopkg.in/yaml.v3"
)

// channelEntry represents one boolean channel in YAML.
type channelEntry struct {
	Index   int    `yaml:"index"`
	Address int    `yaml:"address"`
	Label   string `yaml:"label,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// channelsFile represents the top-level boolean channels file.
type channelsFile struct {
	Version  string         `yaml:"version"`
	Channels []channelEntry `yaml:"channels"`
}

// LoadBooleanChannels loads the boolean channel map from a YAML file. A
// missing file is not an error: the factory defaults apply. A malformed file
// is an error, so a typo never silently reverts a deployment to defaults.
func LoadBooleanChannels(path string) (map[int]domain.BooleanChannel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.DefaultBooleanChannels(), nil
		}
		return nil, fmt.Errorf("failed to read boolean channels file: %w", err)
	}

	var file channelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse boolean channels file: %w", err)
	}

	channels := domain.DefaultBooleanChannels()

	seen := make(map[int]int)
	for idx, entry := range file.Channels {
		if prevIdx, exists := seen[entry.Index]; exists {
			return nil, fmt.Errorf("duplicate channel index %d at entry %d (first seen at entry %d)",
				entry.Index, idx, prevIdx)
		}
		seen[entry.Index] = idx

		if entry.Index < 1 || entry.Index > domain.MaxBooleanChannels {
			return nil, fmt.Errorf("channel index %d out of range [1,%d]",
				entry.Index, domain.MaxBooleanChannels)
		}
		if entry.Address < 0 {
			return nil, fmt.Errorf("channel %d: negative address %d", entry.Index, entry.Address)
		}

		if entry.Enabled != nil && !*entry.Enabled {
			delete(channels, entry.Index)
			continue
		}

		ch := domain.BooleanChannel{Address: entry.Address, Label: entry.Label}
		if ch.Label == "" {
			ch.Label = channels[entry.Index].Label
		}
		channels[entry.Index] = ch
	}

	return channels, nil
}
