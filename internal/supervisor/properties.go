package supervisor

import (
	"fmt"

	"github.com/adred-codev/blockchat/internal/shared/configfile"
	"github.com/adred-codev/blockchat/internal/shared/types"
)

// Properties are the server settings an operator may keep in a YAML or JSON
// file instead of the environment. Unset keys keep the environment value.
type Properties struct {
	MOTD       *string `yaml:"motd" json:"motd"`
	MaxPlayers *int    `yaml:"max_players" json:"max_players"`
}

// ApplyProperties loads path and overrides the matching fields of cfg.
// The format is picked from the extension: .json is JSON, anything else YAML.
func ApplyProperties(cfg *types.ServerConfig, path string) error {
	var props Properties
	if err := configfile.LoadInto(path, configfile.FormatFromPath(path), &props); err != nil {
		return err
	}

	if props.MOTD != nil {
		cfg.MOTD = *props.MOTD
	}
	if props.MaxPlayers != nil {
		if *props.MaxPlayers < 0 {
			return fmt.Errorf("%s: max_players must be >= 0, got %d", path, *props.MaxPlayers)
		}
		cfg.MaxPlayers = *props.MaxPlayers
	}
	return nil
}

// WorkerCount sizes the worker pool: one slot of min(parallelism, maxWorkers)
// is reserved for networking, and the result is never negative.
func WorkerCount(parallelism, maxWorkers int) int {
	return max(min(parallelism, maxWorkers)-1, 0)
}
