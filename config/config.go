package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	StoreBackend string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MongoURI string
	MongoDB  string

	// ScraperCommands are argv prefixes; the search keyword is appended.
	ScraperCommands   [][]string
	ScraperURLCommand []string
	ScraperDir        string
	ScraperTimeout    time.Duration
	DataDirs          []string
	URLDataDir        string
	RecencyWindow     time.Duration

	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int

	RulesFile      string
	CSVOutputPath  string
	ChromeBin      string
	PushgatewayURL string

	LogLevel  string
	LogFormat string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	scraperDir := getEnv("SCRAPER_DIR", "./Scrapper")

	return &Config{
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "postgres")),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "ingest"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "ingest123"),
		PostgresDB:       getEnv("POSTGRES_DB", "property_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  getEnv("MONGO_DB", "property_db"),

		ScraperCommands: parseCommands(getEnv("SCRAPER_COMMANDS",
			"python3 Magic_bricks.py;python3 99acres.py")),
		ScraperURLCommand: strings.Fields(getEnv("SCRAPER_URL_COMMAND", "")),
		ScraperDir:        scraperDir,
		ScraperTimeout:    getEnvDuration("SCRAPER_TIMEOUT", 3*time.Minute),
		DataDirs: getEnvList("DATA_DIRS", []string{
			scraperDir + "/scraped_data",
			scraperDir + "/scraped_data/properties",
		}),
		URLDataDir:    getEnv("URL_DATA_DIR", scraperDir+"/scraped_data/properties"),
		RecencyWindow: getEnvDuration("RECENCY_WINDOW", 5*time.Minute),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 4),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 0),
		MaxRetries:     getEnvInt("MAX_RETRIES", 1),

		RulesFile:      getEnv("RULES_FILE", ""),
		CSVOutputPath:  getEnv("CSV_OUTPUT_PATH", ""),
		ChromeBin:      getEnv("CHROME_BIN", ""),
		PushgatewayURL: getEnv("PUSHGATEWAY_URL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseCommands splits "cmd a b;cmd2 c" into argv slices.
func parseCommands(val string) [][]string {
	var cmds [][]string
	for _, part := range strings.Split(val, ";") {
		if argv := strings.Fields(part); len(argv) > 0 {
			cmds = append(cmds, argv)
		}
	}
	return cmds
}
