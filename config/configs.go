package config

import (
	"sort"
)

// Limits shared by the bundled configurations.
const limitsConfig = `
XSW_LIMIT = 4
CONCURRENCY_LIMIT_DEFAULT = 2
CONCURRENCY_LIMIT_DEFAULT_SMALL = 3
CONCURRENCY_LIMIT_DEFAULT_LARGE = 1
`

// Presets are bundled configurations, selectable by name from the command line.
var Presets = map[string]string{
	"default": ``,

	// Twelve one cpu slots on a single agent.
	"static_slots": `
NUM_CPUS = 12
NUM_SLOTS = 12
NEGOTIATOR_INTERVAL = 4
NEGOTIATOR_CYCLE_DELAY = 4
` + limitsConfig,

	// One agent whose whole machine is a single partitionable slot.
	"partitionable_slot": `
NUM_CPUS = 12
SLOT_TYPE_1_PARTITIONABLE = True
NEGOTIATOR_INTERVAL = 4
NEGOTIATOR_CYCLE_DELAY = 4
` + limitsConfig,

	// Several agents reporting quickly, for local experiments.
	"local": `
NUM_AGENTS = 3
NUM_CPUS = 4
NUM_SLOTS = 4
UPDATE_INTERVAL = 200ms
NEGOTIATOR_INTERVAL = 500ms
NEGOTIATOR_CYCLE_DELAY = 100ms
CLASSAD_LIFETIME = 5s
` + limitsConfig,
}

// GetPreset parses the named bundled configuration.
func GetPreset(name string) (Config, error) {
	return LoadPreset(name, nil)
}

func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for n := range Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
