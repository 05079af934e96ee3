package bus

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SeedEntry is one statically-configured consumer, sourced either from a
// PRODUCER_<ID> environment variable or a row of the YAML seed file named
// by SEED_FILE.
type SeedEntry struct {
	ID          ConsumerID
	Endpoint    ConsumerEndpoint
	Events      []EventName
	SendTimeout time.Duration
}

// seedFileRow is the YAML shape of one entry in the seed file, in the
// shape of plexd's config loader (gopkg.in/yaml.v3) in the pack: plain
// exported-ish lowercase keys, durations as strings.
type seedFileRow struct {
	ID          string   `yaml:"id"`
	Endpoint    string   `yaml:"endpoint"`
	Events      []string `yaml:"events"`
	SendTimeout string   `yaml:"send_timeout"`
}

// LoadSeedFile decodes a YAML seed file into SeedEntry values. An empty
// path is not an error — it simply yields no entries, since SEED_FILE is
// optional.
func LoadSeedFile(path string) ([]SeedEntry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed file %q: %w", path, err)
	}

	var rows []seedFileRow
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("seed file %q: %w", path, err)
	}

	entries := make([]SeedEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := seedEntryFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("seed file %q: %w", path, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func seedEntryFromRow(row seedFileRow) (SeedEntry, error) {
	id := ConsumerID(row.ID)
	if err := id.Validate(); err != nil {
		return SeedEntry{}, err
	}
	endpoint, err := ParseConsumerEndpoint(row.Endpoint)
	if err != nil {
		return SeedEntry{}, err
	}
	events := make([]EventName, 0, len(row.Events))
	for _, e := range row.Events {
		event := EventName(e)
		if err := event.Validate(); err != nil {
			return SeedEntry{}, err
		}
		events = append(events, event)
	}
	timeout := DefaultSendTimeout
	if row.SendTimeout != "" {
		d, err := time.ParseDuration(row.SendTimeout)
		if err != nil {
			return SeedEntry{}, fmt.Errorf("invalid send_timeout %q: %w", row.SendTimeout, err)
		}
		timeout = d
	}
	return SeedEntry{ID: id, Endpoint: endpoint, Events: events, SendTimeout: timeout}, nil
}

// EnvSeeds scans environ (typically os.Environ()) for PRODUCER_<ID>
// variables and returns one SeedEntry per match, with <ID> lowercased per
// §9's documented case-folding asymmetry: seed ids are lowercased, but
// control-plane REGISTER ids are matched case-sensitively.
func EnvSeeds(environ []string) ([]SeedEntry, error) {
	const prefix = "PRODUCER_"
	var entries []SeedEntry
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		rawID := strings.TrimPrefix(key, prefix)
		if rawID == "" {
			continue
		}
		id := ConsumerID(strings.ToLower(rawID))
		if err := id.Validate(); err != nil {
			return nil, fmt.Errorf("env %s: %w", key, err)
		}
		endpoint, err := ParseConsumerEndpoint(value)
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", key, err)
		}
		entries = append(entries, SeedEntry{ID: id, Endpoint: endpoint, SendTimeout: DefaultSendTimeout})
	}
	return entries, nil
}

// Config is the Bootstrap collaborator's configuration surface, read from
// the environment (§6): the ingress and control addresses are required
// (with defaults), the metrics address and seed file are optional.
type Config struct {
	TransportAddress string
	ControlAddress   string
	MetricsAddress   string // empty disables the metrics listener
	SeedFile         string
}

// LoadConfig reads Config from environ, applying the defaults from §4.8.
func LoadConfig(environ []string) Config {
	get := func(key, def string) string {
		for _, kv := range environ {
			if k, v, ok := strings.Cut(kv, "="); ok && k == key {
				return v
			}
		}
		return def
	}
	return Config{
		TransportAddress: get("TRANSPORT_ADDRESS", "0.0.0.0:49152"),
		ControlAddress:   get("CONTROL_ADDRESS", "0.0.0.0:49153"),
		MetricsAddress:   get("METRICS_ADDRESS", ""),
		SeedFile:         get("SEED_FILE", ""),
	}
}
