// Package config reads a pool's settings from a Condor style properties file
// (KEY = VALUE lines), TOLLGATE_ prefixed environment variables and command
// line flags, in increasing order of precedence.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/twitter/tollgate/limits"
	"github.com/twitter/tollgate/slots"
)

const (
	NegotiatorInterval     = "NEGOTIATOR_INTERVAL"
	NegotiatorCycleDelay   = "NEGOTIATOR_CYCLE_DELAY"
	UpdateInterval         = "UPDATE_INTERVAL"
	ClassAdLifetime        = "CLASSAD_LIFETIME"
	NumAgents              = "NUM_AGENTS"
	NumSlots               = "NUM_SLOTS"
	NumCpus                = "NUM_CPUS"
	Memory                 = "MEMORY"
	Disk                   = "DISK"
	SlotType1Partitionable = "SLOT_TYPE_1_PARTITIONABLE"
	JobRetention           = "JOB_RETENTION"
	LedgerStore            = "LEDGER_STORE"
	RedisAddr              = "REDIS_ADDR"
	Journal                = "JOURNAL"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

const envPrefix = "tollgate"

// Never used as a separator, limit names like small.license stay flat keys.
const keyDelimiter = "::"

var defaults = map[string]interface{}{
	NegotiatorInterval:     "20",
	NegotiatorCycleDelay:   "0",
	UpdateInterval:         "5",
	ClassAdLifetime:        "900",
	NumAgents:              1,
	NumSlots:               12,
	NumCpus:                12,
	Memory:                 4096,
	Disk:                   100000,
	SlotType1Partitionable: false,
	JobRetention:           "600",
	LedgerStore:            StoreMemory,
	RedisAddr:              "localhost:6379",
	Journal:                "",
}

// Config is everything needed to stand up a pool.
type Config struct {
	Limits limits.Config

	NegotiatorInterval   time.Duration
	NegotiatorCycleDelay time.Duration
	UpdateInterval       time.Duration
	ClassAdLifetime      time.Duration
	JobRetention         time.Duration

	NumAgents int
	// Per agent slot layout.
	Layout slots.Layout

	LedgerStore string
	RedisAddr   string
	// Path of the sqlite journal, empty for none.
	Journal string
}

func (c Config) String() string {
	return fmt.Sprintf("Config: agents:%d, slots:%d, partitionable:%t, machine:%s, "+
		"negotiatorInterval:%s, cycleDelay:%s, updateInterval:%s, adLifetime:%s, retention:%s, "+
		"store:%s, journal:%q, limits:%s",
		c.NumAgents, c.Layout.NumSlots, c.Layout.Partitionable, c.Layout.Total,
		c.NegotiatorInterval, c.NegotiatorCycleDelay, c.UpdateInterval, c.ClassAdLifetime, c.JobRetention,
		c.LedgerStore, c.Journal, c.Limits)
}

// NewViper returns a viper instance with every key defaulted and environment
// overrides enabled.
func NewViper() *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetConfigType("properties")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	return v
}

// Flag names, one per key that makes sense to override from the command line.
var flagKeys = map[string]string{
	"agents":              NumAgents,
	"slots":               NumSlots,
	"partitionable":       SlotType1Partitionable,
	"negotiator_interval": NegotiatorInterval,
	"cycle_delay":         NegotiatorCycleDelay,
	"update_interval":     UpdateInterval,
	"ledger_store":        LedgerStore,
	"redis_addr":          RedisAddr,
	"journal":             Journal,
}

// RegisterFlags adds the overridable keys to fs. Bind them with BindFlags.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("agents", defaults[NumAgents].(int), "number of execution agents")
	fs.Int("slots", defaults[NumSlots].(int), "static slots per agent")
	fs.Bool("partitionable", defaults[SlotType1Partitionable].(bool), "one partitionable slot per agent instead of static slots")
	fs.String("negotiator_interval", defaults[NegotiatorInterval].(string), "time between negotiation cycles (seconds or duration)")
	fs.String("cycle_delay", defaults[NegotiatorCycleDelay].(string), "minimum pause after a cycle (seconds or duration)")
	fs.String("update_interval", defaults[UpdateInterval].(string), "agent report period (seconds or duration)")
	fs.String("ledger_store", defaults[LedgerStore].(string), "limit usage store: memory, redis")
	fs.String("redis_addr", defaults[RedisAddr].(string), "redis address for the redis ledger store")
	fs.String("journal", defaults[Journal].(string), "sqlite journal path, empty to disable")
}

// BindFlags makes flags registered by RegisterFlags, when set, win over the file and env.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "binding flag %s", name)
		}
	}
	return nil
}

// Load reads path (when non-empty) and fs (when non-nil) into a Config.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	var data []byte
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return Config{}, errors.Wrapf(err, "reading config %s", path)
		}
	}
	c, err := load(data, fs)
	if err != nil && path != "" {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return c, err
}

// LoadPreset is Load for a bundled configuration.
func LoadPreset(name string, fs *pflag.FlagSet) (Config, error) {
	text, ok := Presets[name]
	if !ok {
		return Config{}, errors.Errorf("no config named %q, have %v", name, PresetNames())
	}
	return load([]byte(text), fs)
}

// Parse reads properties text, as found in a config file.
func Parse(text string) (Config, error) {
	return load([]byte(text), nil)
}

func load(data []byte, fs *pflag.FlagSet) (Config, error) {
	v := NewViper()
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return Config{}, errors.Wrap(err, "parsing config")
	}
	if fs != nil {
		if err := BindFlags(v, fs); err != nil {
			return Config{}, err
		}
	}
	return FromViper(v)
}

// FromViper converts the settings held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var (
		c   Config
		err error
	)
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{NegotiatorInterval, &c.NegotiatorInterval},
		{NegotiatorCycleDelay, &c.NegotiatorCycleDelay},
		{UpdateInterval, &c.UpdateInterval},
		{ClassAdLifetime, &c.ClassAdLifetime},
		{JobRetention, &c.JobRetention},
	}
	for _, d := range durations {
		if *d.dst, err = ParseDuration(v.GetString(d.key)); err != nil {
			return Config{}, errors.Wrapf(err, "%s", d.key)
		}
	}
	if c.UpdateInterval <= 0 {
		return Config{}, errors.Errorf("%s must be positive, got %s", UpdateInterval, c.UpdateInterval)
	}
	if c.NegotiatorInterval <= 0 {
		return Config{}, errors.Errorf("%s must be positive, got %s", NegotiatorInterval, c.NegotiatorInterval)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{NumAgents, &c.NumAgents},
		{NumSlots, &c.Layout.NumSlots},
		{NumCpus, &c.Layout.Total.Cpus},
		{Memory, &c.Layout.Total.MemoryMB},
		{Disk, &c.Layout.Total.DiskMB},
	}
	for _, i := range ints {
		if *i.dst, err = strconv.Atoi(strings.TrimSpace(v.GetString(i.key))); err != nil {
			return Config{}, errors.Wrapf(err, "%s", i.key)
		}
		if *i.dst < 0 {
			return Config{}, errors.Errorf("%s must not be negative, got %d", i.key, *i.dst)
		}
	}
	if c.NumAgents < 1 {
		return Config{}, errors.Errorf("%s must be at least 1, got %d", NumAgents, c.NumAgents)
	}
	if c.Layout.Partitionable, err = parseBool(v.GetString(SlotType1Partitionable)); err != nil {
		return Config{}, errors.Wrapf(err, "%s", SlotType1Partitionable)
	}
	if !c.Layout.Partitionable && c.Layout.NumSlots < 1 {
		return Config{}, errors.Errorf("%s must be at least 1, got %d", NumSlots, c.Layout.NumSlots)
	}

	c.LedgerStore = strings.ToLower(v.GetString(LedgerStore))
	switch c.LedgerStore {
	case StoreMemory, StoreRedis:
	default:
		return Config{}, errors.Errorf("%s must be %s or %s, got %q", LedgerStore, StoreMemory, StoreRedis, c.LedgerStore)
	}
	c.RedisAddr = v.GetString(RedisAddr)
	c.Journal = v.GetString(Journal)

	// Every key is handed over, the limit parser picks the ones it knows.
	kv := map[string]string{}
	for _, k := range v.AllKeys() {
		kv[k] = v.GetString(k)
	}
	if c.Limits, err = limits.ParseConfig(kv); err != nil {
		return Config{}, err
	}

	log.WithFields(log.Fields{"config": c.String()}).Debug("Loaded config")
	return c, nil
}

// ParseDuration accepts whole or fractional seconds ("20", "0.5") as Condor
// does, or a Go duration ("150ms").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, errors.Errorf("negative duration %q", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Errorf("invalid duration %q, expected seconds or a duration like 500ms", s)
	}
	if d < 0 {
		return 0, errors.Errorf("negative duration %q", s)
	}
	return d, nil
}

// Condor booleans are True/False in any case.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "1":
		return true, nil
	case "false", "f", "no", "0", "":
		return false, nil
	}
	return false, errors.Errorf("invalid boolean %q", s)
}
