package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Config struct {
	Domain      DomainConfig
	Scheduler   SchedulerConfig
	HTTP        HTTPConfig
	Ingest      IngestConfig
	S3          S3Config
	DatabaseURL string
	Backend     string
	DBPath      string
	DataDir     string
	ProxyURL    string
	LogLevel    string
	LogFile     string
	ProfileDir  string
	Profiles    map[string]*SearchProfile
}

type DomainConfig struct {
	ClientID     string
	ClientSecret string
	APIKey       string
	AuthURL      string
	APIURL       string
	Scopes       string
	RateLimitMS  int
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type HTTPConfig struct {
	Addr        string
	CORSOrigins []string
}

type IngestConfig struct {
	// SkipExisting turns on the duplicate guard: listings already stored are
	// reported as existing instead of being rewritten.
	SkipExisting bool
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// SearchProfile is one saved Domain search, loaded from config/searches/*.yaml
type SearchProfile struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	ListingType   string   `yaml:"listing_type"`
	Suburb        string   `yaml:"suburb"`
	State         string   `yaml:"state"`
	Postcode      string   `yaml:"postcode"`
	PropertyTypes []string `yaml:"property_types"`
	MinBedrooms   int      `yaml:"min_bedrooms"`
	MaxPrice      int      `yaml:"max_price"`
	PageSize      int      `yaml:"page_size"`
	MaxPages      int      `yaml:"max_pages"`
	Refresh       bool     `yaml:"refresh"` // re-ingest listings already stored
	Disabled      bool     `yaml:"disabled"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Domain: DomainConfig{
			ClientID:     os.Getenv("DOMAIN_CLIENT_ID"),
			ClientSecret: os.Getenv("DOMAIN_CLIENT_SECRET"),
			APIKey:       os.Getenv("DOMAIN_API_KEY"),
			AuthURL:      getEnv("DOMAIN_AUTH_URL", "https://auth.domain.com.au/v1/connect/token"),
			APIURL:       getEnv("DOMAIN_API_URL", "https://api.domain.com.au/v1"),
			Scopes:       getEnv("DOMAIN_SCOPES", "api_agencies_read api_listings_read api_properties_read"),
			RateLimitMS:  getEnvInt("DOMAIN_RATE_LIMIT_MS", 500),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		HTTP: HTTPConfig{
			Addr:        getEnv("HTTP_ADDR", ":8080"),
			CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		},
		Ingest: IngestConfig{
			SkipExisting: getEnvBool("INGEST_SKIP_EXISTING", true),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "ap-southeast-2"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Prefix:          getEnv("S3_PREFIX", "exports/"),
		},
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      getEnv("DB_PATH", "ingest.db"),
		DataDir:     getEnv("DATA_DIR", "data"),
		ProxyURL:    os.Getenv("HTTP_PROXY_URL"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", "ingest.log"),
		ProfileDir:  getEnv("PROFILE_DIR", "config/searches"),
		Profiles:    make(map[string]*SearchProfile),
	}

	cfg.Backend = getEnv("STORE_BACKEND", "")
	if cfg.Backend == "" {
		cfg.Backend = BackendSQLite
		if cfg.DatabaseURL != "" {
			cfg.Backend = BackendPostgres
		}
	}
	if cfg.Backend != BackendPostgres && cfg.Backend != BackendSQLite {
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Backend)
	}
	if cfg.Backend == BackendPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadProfiles(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadProfiles() error {
	entries, err := os.ReadDir(c.ProfileDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(c.ProfileDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		profile, err := ParseProfile(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		c.Profiles[profile.ID] = profile
	}

	return nil
}

// ParseProfile decodes one YAML profile and fills in defaults
func ParseProfile(data []byte) (*SearchProfile, error) {
	var p SearchProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("profile has no id")
	}
	if p.Suburb == "" {
		return nil, fmt.Errorf("profile %s has no suburb", p.ID)
	}
	if p.ListingType == "" {
		p.ListingType = "Sale"
	}
	if p.PageSize <= 0 || p.PageSize > 200 {
		p.PageSize = 100
	}
	if p.MaxPages <= 0 {
		p.MaxPages = 10
	}
	return &p, nil
}

// EnabledProfiles returns the enabled profiles ordered by id
func (c *Config) EnabledProfiles() []*SearchProfile {
	var out []*SearchProfile
	for _, p := range c.Profiles {
		if !p.Disabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
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

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
