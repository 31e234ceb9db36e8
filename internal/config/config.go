package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lherron/hlutool/internal/domain"
)

// IHSClearPolicy decides when a save clears the legacy IHS classification
type IHSClearPolicy string

const (
	// ClearOnPrimaryChange clears IHS codes when the primary habitat changes
	ClearOnPrimaryChange IHSClearPolicy = "primary"
	// ClearOnPrimaryOrSecondaryChange also clears them when secondary habitats change
	ClearOnPrimaryOrSecondaryChange IHSClearPolicy = "primary_or_secondary"
	// ClearAlways clears IHS codes on every save
	ClearAlways IHSClearPolicy = "always"
)

// ParseIHSClearPolicy validates a policy name; blank selects ClearOnPrimaryChange
func ParseIHSClearPolicy(s string) (IHSClearPolicy, error) {
	switch p := IHSClearPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ClearOnPrimaryChange, nil
	case ClearOnPrimaryChange, ClearOnPrimaryOrSecondaryChange, ClearAlways:
		return p, nil
	default:
		return "", fmt.Errorf("invalid ihs clear policy %q: must be one of: primary, primary_or_secondary, always", s)
	}
}

// Config represents the application configuration
type Config struct {
	DBPath                   string         `yaml:"db_path"`
	DBDriver                 string         `yaml:"db_driver"`
	GISPath                  string         `yaml:"gis_path"`
	GeometryType             string         `yaml:"geometry_type"`
	UserID                   string         `yaml:"user_id"`
	Reason                   string         `yaml:"reason"`
	Process                  string         `yaml:"process"`
	SiteID                   int            `yaml:"site_id"`
	PageSize                 int            `yaml:"page_size"`
	IHSClearPolicy           IHSClearPolicy `yaml:"ihs_clear_policy"`
	OSMMIgnoreOnManualUpdate bool           `yaml:"osmm_ignore_on_manual_update"`
	SecondaryDelimiter       string         `yaml:"secondary_delimiter"`
	LogLevel                 string         `yaml:"log_level"`
	Output                   string         `yaml:"output"`
	MetricsTextfile          string         `yaml:"metrics_textfile"`
}

// Load builds the configuration. Later sources override earlier ones:
// defaults, ~/.config/hlutool/config.yaml, then the environment. The closest
// .env.local found walking up from the working directory (stopping at $HOME)
// is loaded into the environment first without overriding variables that
// are already set.
func Load() (*Config, error) {
	cfg := &Config{
		DBDriver:                 "sqlite3",
		GeometryType:             string(domain.GeometryPolygon),
		PageSize:                 100,
		IHSClearPolicy:           ClearOnPrimaryChange,
		OSMMIgnoreOnManualUpdate: true,
		SecondaryDelimiter:       ".",
		LogLevel:                 "info",
		Output:                   "table",
	}

	if path := findEnvLocal(); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := loadYAMLConfig(cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	policy, err := ParseIHSClearPolicy(string(cfg.IHSClearPolicy))
	if err != nil {
		return nil, err
	}
	cfg.IHSClearPolicy = policy

	if cfg.DBPath == "" {
		if cfg.DBPath, err = defaultDBPath(); err != nil {
			return nil, err
		}
	}
	if cfg.GISPath == "" && cfg.DBDriver == "sqlite3" {
		cfg.GISPath = DefaultGISPath(cfg.DBPath)
	}
	return cfg, nil
}

// applyEnv copies HLU_* variables over cfg
func applyEnv(cfg *Config) error {
	if v := envOrFile("HLU_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	strs := map[string]*string{
		"HLU_DB_DRIVER":           &cfg.DBDriver,
		"HLU_GIS_PATH":            &cfg.GISPath,
		"HLU_GEOMETRY_TYPE":       &cfg.GeometryType,
		"HLU_USER":                &cfg.UserID,
		"HLU_REASON":              &cfg.Reason,
		"HLU_PROCESS":             &cfg.Process,
		"HLU_LOG_LEVEL":           &cfg.LogLevel,
		"HLU_OUTPUT":              &cfg.Output,
		"HLU_METRICS_TEXTFILE":    &cfg.MetricsTextfile,
		"HLU_SECONDARY_DELIMITER": &cfg.SecondaryDelimiter,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("HLU_IHS_CLEAR_POLICY"); v != "" {
		cfg.IHSClearPolicy = IHSClearPolicy(v)
	}

	ints := map[string]*int{"HLU_PAGE_SIZE": &cfg.PageSize, "HLU_SITE_ID": &cfg.SiteID}
	for name, dst := range ints {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = n
	}

	if v := os.Getenv("HLU_OSMM_IGNORE_ON_MANUAL_UPDATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HLU_OSMM_IGNORE_ON_MANUAL_UPDATE: %w", err)
		}
		cfg.OSMMIgnoreOnManualUpdate = b
	}
	return nil
}

// defaultDBPath prefers a project-local .hlu/hlu.db over the per-user store
func defaultDBPath() (string, error) {
	local := filepath.Join(".hlu", "hlu.db")
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "hlutool", "hlu.db"), nil
}

// DefaultGISPath places the feature layer next to the database file
func DefaultGISPath(dbPath string) string {
	return strings.TrimSuffix(dbPath, filepath.Ext(dbPath)) + ".gis.db"
}

// Session builds the edit session for the configured user
func (c *Config) Session() (domain.Session, error) {
	geom, err := domain.ValidateGeometryType(c.GeometryType)
	if err != nil {
		return domain.Session{}, err
	}
	s := domain.Session{
		UserID:       c.GetUserID(),
		Reason:       c.Reason,
		Process:      c.Process,
		GeometryType: geom,
		PageSize:     c.PageSize,
	}
	if err := domain.ValidateSession(s); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// GetUserID returns the current user id
// Priority: HLU_USER > config.user_id > $USER
func (c *Config) GetUserID() string {
	if user := os.Getenv("HLU_USER"); user != "" {
		return user
	}
	if c.UserID != "" {
		return c.UserID
	}
	return os.Getenv("USER")
}

// Level returns the slog level for LogLevel, defaulting to info
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// loadYAMLConfig overlays ~/.config/hlutool/config.yaml; a missing file is not an error
func loadYAMLConfig(cfg *Config) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	path := filepath.Join(home, ".config", "hlutool", "config.yaml")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// envOrFile returns $name, or the trimmed contents of the file named by
// $name_FILE when $name is unset
func envOrFile(name string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	path := os.Getenv(name + "_FILE")
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// findEnvLocal returns the .env.local closest to the working directory,
// looking no higher than the home directory, or "" when there is none
func findEnvLocal() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	stop := ""
	if home, err := os.UserHomeDir(); err == nil {
		stop = filepath.Clean(home)
	}

	for dir = filepath.Clean(dir); ; {
		candidate := filepath.Join(dir, ".env.local")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if dir == stop || parent == dir {
			return ""
		}
		dir = parent
	}
}
