package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/timetrial/go/internal/document"
	"github.com/mcdev12/timetrial/go/internal/models"
)

// Defaults is the initial GameState used when no state document exists yet.
type Defaults struct {
	Players                []models.Player `yaml:"players"`
	DisabledFields         map[string]bool `yaml:"disabledFields"`
	RequiredFields         map[string]bool `yaml:"requiredFields"`
	LeaderboardPageSize    int             `yaml:"leaderboardPageSize"`
	LeaderboardPages       int             `yaml:"leaderboardPages"`
	LeaderboardPageTimeout int             `yaml:"leaderboardPageTimeout"`
}

// LoadDefaults reads a YAML defaults file. A missing file yields an empty
// Defaults.
func LoadDefaults(path string) (Defaults, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("path", path).Msg("no defaults file")
		return Defaults{}, nil
	}
	if err != nil {
		return Defaults{}, fmt.Errorf("failed to read defaults file: %w", err)
	}

	var d Defaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Defaults{}, fmt.Errorf("failed to parse defaults file: %w", err)
	}
	return d, nil
}

// State renders the defaults as a GameState document. Unset settings are
// left out.
func (d Defaults) State() document.Map {
	state := document.Map{}
	if d.Players != nil {
		players := make([]any, 0, len(d.Players))
		for _, p := range d.Players {
			players = append(players, map[string]any{"name": p.Name})
		}
		state[models.KeyPlayers] = players
	}
	if d.DisabledFields != nil {
		state[models.KeyDisabledFields] = boolMap(d.DisabledFields)
	}
	if d.RequiredFields != nil {
		state[models.KeyRequiredFields] = boolMap(d.RequiredFields)
	}
	if d.LeaderboardPageSize > 0 {
		state[models.KeyLeaderboardPageSize] = float64(d.LeaderboardPageSize)
	}
	if d.LeaderboardPages > 0 {
		state[models.KeyLeaderboardPages] = float64(d.LeaderboardPages)
	}
	if d.LeaderboardPageTimeout > 0 {
		state[models.KeyLeaderboardPageTimeout] = float64(d.LeaderboardPageTimeout)
	}
	return state
}

func boolMap(in map[string]bool) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
