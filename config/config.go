package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"dealer_scraper/storage"
)

type Config struct {
	Scheduler   SchedulerConfig
	Scraper     ScraperConfig
	Browser     BrowserConfig
	S3          storage.S3Config
	DatabaseURL string
	LogDir      string
	LogLevel    string
	DealersCSV  string
	SnapshotDir string
	Platforms   PlatformTable
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	DelayMS      int
	StateTimeout time.Duration
	MaxPages     int
	Limit        int
}

type BrowserConfig struct {
	Headless      bool
	ProxyURL      string
	RenderTimeout time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("SCRAPE_CRON"),
			Interval: getEnvDuration("SCRAPE_INTERVAL", 0),
		},
		Scraper: ScraperConfig{
			DelayMS:      getEnvInt("SCRAPE_DELAY_MS", 5000),
			StateTimeout: getEnvDuration("STATE_WAIT_TIMEOUT", 15*time.Second),
			MaxPages:     getEnvInt("MAX_PAGES", 10),
			Limit:        getEnvInt("SCRAPE_LIMIT", 5),
		},
		Browser: BrowserConfig{
			Headless:      getEnvBool("HEADLESS", true),
			ProxyURL:      os.Getenv("PROXY_URL"),
			RenderTimeout: getEnvDuration("RENDER_TIMEOUT", 60*time.Second),
		},
		S3: storage.S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Prefix:          getEnv("S3_PREFIX", "dealer-scraper"),
		},
		DatabaseURL: getEnv("DATABASE_URL", "scraper.db"),
		LogDir:      getEnv("LOG_DIR", "logs"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DealersCSV:  getEnv("DEALERS_CSV", "data/dealers.csv"),
		SnapshotDir: getEnv("SNAPSHOT_DIR", "debug"),
	}

	platforms, err := loadPlatforms(getEnv("PLATFORMS_FILE", "config/platforms.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Platforms = platforms

	return cfg, nil
}

// loadPlatforms falls back to the built-in table when no override file exists.
func loadPlatforms(path string) (PlatformTable, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return DefaultPlatformTable(), nil
		}
		return PlatformTable{}, err
	}
	return LoadPlatformTable(path)
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
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
