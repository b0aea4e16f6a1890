package preset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"lab-access/backend/internal/provisioning/domain"
)

type fileEntry struct {
	Identifier  string `mapstructure:"identifier"`
	Email       string `mapstructure:"email"`
	Secret      string `mapstructure:"secret"`
	DisplayName string `mapstructure:"displayName"`
}

// LoadFile reads a preset table from a YAML, JSON or TOML file with a top-level "presets" list.
// Every entry must carry an identifier, email and secret; identifiers must be unique.
func LoadFile(path string) (*Table, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("preset: read %s: %w", path, err)
	}
	var entries []fileEntry
	if err := v.UnmarshalKey("presets", &entries); err != nil {
		return nil, fmt.Errorf("preset: decode %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, errors.New("preset: no presets defined")
	}
	presets := make([]domain.AdminPreset, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		id := strings.TrimSpace(e.Identifier)
		if id == "" || strings.TrimSpace(e.Email) == "" || e.Secret == "" {
			return nil, fmt.Errorf("preset: entry %d needs identifier, email and secret", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("preset: duplicate identifier %q", id)
		}
		seen[id] = struct{}{}
		presets = append(presets, domain.AdminPreset{
			Identifier:  id,
			Email:       strings.TrimSpace(e.Email),
			Secret:      e.Secret,
			DisplayName: strings.TrimSpace(e.DisplayName),
		})
	}
	return NewTable(presets...), nil
}
