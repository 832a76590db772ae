// Package config loads muclumbus's configuration from a YAML manifest plus
// environment-variable overrides for secrets, adapted from the teacher's
// flat env-var Config and generalized to the nested component/limits/mirror
// surface spec.md §6 calls for, in the style of the nested manifests read
// by other pack repos' config loaders (gopkg.in/yaml.v3).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Component names recognised in the `components` set (spec §6).
const (
	ComponentWatcher      = "watcher"
	ComponentScanner      = "scanner"
	ComponentInsideman    = "insideman"
	ComponentInteraction  = "interaction"
	ComponentSpokesman    = "spokesman"
	ComponentMirrorServer = "mirror-server"
	ComponentMirrorClient = "mirror-client"
)

// Limits bounds the lengths of user-controlled public-room fields, spec §6.
type Limits struct {
	MaxNameLength        int `yaml:"max_name_length"`
	MaxDescriptionLength int `yaml:"max_description_length"`
	MaxSubjectLength     int `yaml:"max_subject_length"`
	MaxLanguageLength    int `yaml:"max_language_length"`
}

// MirrorEndpoint configures one side of the mirror protocol (spec §4.8/4.9).
type MirrorEndpoint struct {
	PubsubService string `yaml:"pubsub_service"`
}

// MirrorConfig is the `mirror.{server|client}` config surface.
type MirrorConfig struct {
	Server MirrorEndpoint `yaml:"server"`
	Client MirrorEndpoint `yaml:"client"`
}

// Manifest is the YAML-loaded structured configuration (spec §6 "Config
// surface"), everything that is not a secret.
type Manifest struct {
	Components         []string     `yaml:"components"`
	Seed                []string     `yaml:"seed"`
	PrivilegedEntities  []string     `yaml:"privileged_entities"`
	Limits              Limits       `yaml:"limits"`
	Mirror              MirrorConfig `yaml:"mirror"`
	AvatarWhitelist     []string     `yaml:"avatar_whitelist"`

	ScanInterval    time.Duration `yaml:"scan_interval"`
	WatchInterval   time.Duration `yaml:"watch_interval"`
	DomainExpiry    time.Duration `yaml:"domain_expiry"`
	RoomExpiry      time.Duration `yaml:"room_expiry"`
	WorkerPoolSize  int           `yaml:"worker_pool_size"`
	WorkerQueueSize int           `yaml:"worker_queue_size"`
}

// Secrets holds the flat, environment-sourced values that must never live
// in a checked-in YAML manifest, following the teacher's
// env-var-with-secret-tag convention.
type Secrets struct {
	DatabaseURL string `env:"DATABASE_URL,secret"`
	RedisURL    string `env:"REDIS_URL"`

	JWTSigningKey     string `env:"JWT_SIGNING_KEY,secret"`
	AdminUsername     string `env:"ADMIN_USERNAME"`
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH,secret"`
}

// Config is the fully assembled runtime configuration.
type Config struct {
	Environment string `env:"ENVIRONMENT"`
	LogLevel    string `env:"LOG_LEVEL"`
	AdminPort   string `env:"ADMIN_PORT"`

	Manifest Manifest
	Secrets  Secrets
}

// HasComponent reports whether name is present in the configured
// component set (spec §4.11's Supervisor wiring gate).
func (m Manifest) HasComponent(name string) bool {
	for _, c := range m.Components {
		if c == name {
			return true
		}
	}
	return false
}

// Validate enforces spec §4.9's exclusivity rule: mirror-client cannot be
// composed with any component that writes to the Store directly.
func (m Manifest) Validate() error {
	if !m.HasComponent(ComponentMirrorClient) {
		return nil
	}
	exclusive := []string{ComponentWatcher, ComponentScanner, ComponentInsideman, ComponentInteraction}
	for _, c := range exclusive {
		if m.HasComponent(c) {
			return fmt.Errorf("config: %s component cannot be run alongside %s", ComponentMirrorClient, c)
		}
	}
	return nil
}

// Load reads the YAML manifest at path and overlays environment-variable
// secrets and top-level overrides, mirroring the teacher's Load() but
// split across a structured manifest and a flat secrets block.
func Load(path string) (*Config, error) {
	manifest := defaultManifest()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read manifest: %w", err)
		}
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("config: parse manifest: %w", err)
		}
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		AdminPort:   getEnv("ADMIN_PORT", "8080"),
		Manifest:    manifest,
		Secrets: Secrets{
			DatabaseURL:       getEnv("DATABASE_URL", ""),
			RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
			JWTSigningKey:     getEnv("JWT_SIGNING_KEY", ""),
			AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
			AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
	}
	return cfg, nil
}

func defaultManifest() Manifest {
	return Manifest{
		Components: []string{ComponentScanner, ComponentWatcher, ComponentInsideman},
		Limits: Limits{
			MaxNameLength:        120,
			MaxDescriptionLength: 512,
			MaxSubjectLength:     256,
			MaxLanguageLength:    16,
		},
		ScanInterval:    6 * time.Hour,
		WatchInterval:   time.Hour,
		DomainExpiry:    30 * 24 * time.Hour,
		RoomExpiry:      7 * 24 * time.Hour,
		WorkerPoolSize:  10,
		WorkerQueueSize: 1024,
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
