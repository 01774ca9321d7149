package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Verification Gateway - Configuration with Environment Overrides
// =============================================================================

// Mode selects which verifier tier this process runs.
type Mode string

const (
	ModeObjective   Mode = "obj"
	ModeRequirement Mode = "req"
)

// ParseMode validates the positional mode argument.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeObjective, ModeRequirement:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want obj or req)", s)
}

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Verifier     VerifierConfig     `yaml:"verifier"`
	Preprocessor PreprocessorConfig `yaml:"preprocessor"`
	Session      SessionConfig      `yaml:"session"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Pooler       PoolerConfig       `yaml:"pooler"`
	Redis        RedisConfig        `yaml:"redis"`
	Requirements RequirementsConfig `yaml:"requirements"`
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	Type            string `yaml:"type"` // "fastapi" (HTTP) or "grpc"
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`

	// Downstream addresses
	ServiceDomain     string `yaml:"service_domain"`
	ServicePathsFile  string `yaml:"service_paths_file"`
	ReqVerifierHost   string `yaml:"req_verifier_host"` // host:port of the requirement instance
	CartServiceAddr   string `yaml:"cart_service_addr"` // gRPC downstream for SERVER_TYPE=grpc
	ForwardTimeoutSec int    `yaml:"forward_timeout_sec"`
}

type VerifierConfig struct {
	ConfigFile     string `yaml:"config_file"` // verifiers_config.json
	ObjectiveDir   string `yaml:"objective_dir"`
	RequirementDir string `yaml:"requirement_dir"`
	BinaryPath     string `yaml:"binary_path"` // evaluator executable
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	QueueSize      int    `yaml:"queue_size"`
	DrainGraceSec  int    `yaml:"drain_grace_sec"`
}

type PreprocessorConfig struct {
	CacheTTLSec int `yaml:"cache_ttl_sec"`
}

type SessionConfig struct {
	TTLSec      int    `yaml:"ttl_sec"`
	SweepSec    int    `yaml:"sweep_sec"`
	CookieName  string `yaml:"cookie_name"`
	DefaultUser string `yaml:"default_user"`
}

type MetricsConfig struct {
	RingSize   int `yaml:"ring_size"`
	PrintEvery int `yaml:"print_every"`
}

type PoolerConfig struct {
	IntervalSec int `yaml:"interval_sec"`
}

// RedisConfig enables the optional Redis mirror of verdict events.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RequirementsConfig maps requirement patterns to their ordered objective
// lists. Bit positions in the tier-2 facts follow this order, so the order
// is part of the wire contract with the requirement specs.
type RequirementsConfig struct {
	Mapping map[string][]string `yaml:"mapping"`
}

// Load reads the YAML config (optional), applies environment overrides and
// fills in defaults.
func Load(path string) *Config {
	cfg, err := loadFile(path)
	if err != nil {
		slog.Warn("Config: failed to load config file, using defaults", "path", path, "error", err)
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg
}

func loadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	c.Server.Type = getEnv("SERVER_TYPE", c.Server.Type)
	c.Server.ServiceDomain = getEnv("SERVICE_DOMAIN", c.Server.ServiceDomain)
	c.Server.ServicePathsFile = getEnv("SERVICE_PATHS_FILE", c.Server.ServicePathsFile)
	c.Server.ReqVerifierHost = getEnv("REQUIREMENT_VERIFIER_SERVICE", c.Server.ReqVerifierHost)
	c.Server.CartServiceAddr = getEnv("CART_SERVICE_ADDR", c.Server.CartServiceAddr)
	if v := getEnvInt("FORWARD_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ForwardTimeoutSec = v
	}

	c.Verifier.ConfigFile = getEnv("VERIFIER_CONFIG_FILE", c.Verifier.ConfigFile)
	c.Verifier.ObjectiveDir = getEnv("OBJECTIVE_SPEC_DIR", c.Verifier.ObjectiveDir)
	c.Verifier.RequirementDir = getEnv("REQUIREMENT_SPEC_DIR", c.Verifier.RequirementDir)
	c.Verifier.BinaryPath = getEnv("MONPOLY_PATH", c.Verifier.BinaryPath)
	if v := getEnvInt("VERIFIER_READ_TIMEOUT_MS", 0); v > 0 {
		c.Verifier.ReadTimeoutMs = v
	}

	if v := getEnvInt("CACHE_TTL_SEC", 0); v > 0 {
		c.Preprocessor.CacheTTLSec = v
	}
	if v := getEnvInt("SESSION_TTL_SEC", 0); v > 0 {
		c.Session.TTLSec = v
	}

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if v := getEnvInt("REDIS_DB", -1); v >= 0 {
		c.Redis.DB = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Type == "" {
		c.Server.Type = "fastapi"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if c.Server.ServicePathsFile == "" {
		c.Server.ServicePathsFile = "/etc/service-config/service_paths.json"
	}
	if c.Server.ForwardTimeoutSec == 0 {
		c.Server.ForwardTimeoutSec = 60
	}

	if c.Verifier.ConfigFile == "" {
		c.Verifier.ConfigFile = "/etc/verifier-config/verifiers_config.json"
	}
	if c.Verifier.ObjectiveDir == "" {
		c.Verifier.ObjectiveDir = "edge-mon-specs"
	}
	if c.Verifier.RequirementDir == "" {
		c.Verifier.RequirementDir = "online-boutique-reqs"
	}
	if c.Verifier.BinaryPath == "" {
		c.Verifier.BinaryPath = "monpoly"
	}
	if c.Verifier.ReadTimeoutMs == 0 {
		c.Verifier.ReadTimeoutMs = 100
	}
	if c.Verifier.QueueSize == 0 {
		c.Verifier.QueueSize = 256
	}
	if c.Verifier.DrainGraceSec == 0 {
		c.Verifier.DrainGraceSec = 3
	}

	if c.Preprocessor.CacheTTLSec == 0 {
		c.Preprocessor.CacheTTLSec = 60
	}

	if c.Session.TTLSec == 0 {
		c.Session.TTLSec = 60
	}
	if c.Session.SweepSec == 0 {
		c.Session.SweepSec = 10
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "shop_session-id"
	}
	if c.Session.DefaultUser == "" {
		c.Session.DefaultUser = "user1"
	}

	if c.Metrics.RingSize == 0 {
		c.Metrics.RingSize = 10000
	}
	if c.Metrics.PrintEvery == 0 {
		c.Metrics.PrintEvery = 50
	}

	if c.Pooler.IntervalSec == 0 {
		c.Pooler.IntervalSec = 10
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if len(c.Requirements.Mapping) == 0 {
		c.Requirements.Mapping = DefaultRequirementMapping()
	}
}

// DefaultRequirementMapping is the objective composition of each requirement
// pattern. Positions are significant: the i-th objective fills the i-th
// argument of the tier-2 predicate.
func DefaultRequirementMapping() map[string][]string {
	return map[string][]string{
		"req1": {"response", "rel-defect", "reqs-throughput"},
		"req2": {"avail-saas", "rel-fail", "response", "reqs-throughput"},
		"req3": {"fail-detector", "response", "reqs-throughput"},
	}
}

// SpecDir returns the directory holding .sig/.mfotl files for the mode.
func (c *Config) SpecDir(mode Mode) string {
	if mode == ModeRequirement {
		return c.Verifier.RequirementDir
	}
	return c.Verifier.ObjectiveDir
}

// =============================================================================
// JSON config files (service paths, verifier list)
// =============================================================================

// LoadServicePaths reads the service-key -> URL map and substitutes the
// SERVICE_DOMAIN for the plain "http://" prefix, mirroring the deployment
// convention of the downstream boutique services.
func LoadServicePaths(path, serviceDomain string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service paths: %w", err)
	}

	paths := make(map[string]string)
	if err := json.Unmarshal(raw, &paths); err != nil {
		return nil, fmt.Errorf("parse service paths: %w", err)
	}

	if serviceDomain != "" {
		for key, url := range paths {
			paths[key] = strings.Replace(url, "http://", serviceDomain, 1)
		}
	}
	return paths, nil
}

// LoadVerifierNames reads the verifier list configuration.
func LoadVerifierNames(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read verifier config: %w", err)
	}

	var cfg struct {
		Verifiers []string `json:"verifiers"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse verifier config: %w", err)
	}
	if len(cfg.Verifiers) == 0 {
		return nil, fmt.Errorf("verifier config %s lists no verifiers", path)
	}
	return cfg.Verifiers, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
