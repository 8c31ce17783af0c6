package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port      string
	DBDSN     string
	LogFile   string
	RedisAddr string

	KafkaBrokers     []string
	KafkaTopicPrefix string
	OutboxInterval   time.Duration

	TaxRate         decimal.Decimal
	ShippingPerShop decimal.Decimal
	LowStockMark    int
}

// Load reads the environment, after an optional .env in the working directory.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env")
	}

	cfg := Config{
		Port:             getenv("PORT", "8080"),
		DBDSN:            getenv("DB_DSN", "bazaar.db"), // sqlite file in project root
		LogFile:          getenv("LOG_FILE", "./bazaar.log"),
		RedisAddr:        os.Getenv("REDIS_ADDR"), // empty disables the order cache
		KafkaBrokers:     splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicPrefix: getenv("KAFKA_TOPIC_PREFIX", "bazaar."),
		OutboxInterval:   duration("OUTBOX_INTERVAL", time.Second),
		TaxRate:          dec("TAX_RATE", "0"),
		ShippingPerShop:  dec("SHIPPING_PER_SHOP", "0"),
		LowStockMark:     integer("LOW_STOCK_THRESHOLD", 5),
	}
	log.Printf("[config] PORT=%s DB_DSN=%s LOG_FILE=%s REDIS_ADDR=%q KAFKA_BROKERS=%v TAX_RATE=%s SHIPPING_PER_SHOP=%s",
		cfg.Port, cfg.DBDSN, cfg.LogFile, cfg.RedisAddr, cfg.KafkaBrokers, cfg.TaxRate, cfg.ShippingPerShop)
	return cfg
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func duration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(getenv(k, def.String()))
	if err != nil || d <= 0 {
		log.Printf("[config] bad %s, using %s", k, def)
		return def
	}
	return d
}

func dec(k, def string) decimal.Decimal {
	d, err := decimal.NewFromString(getenv(k, def))
	if err != nil || d.IsNegative() {
		log.Printf("[config] bad %s, using %s", k, def)
		return decimal.RequireFromString(def)
	}
	return d
}

func integer(k string, def int) int {
	n, err := strconv.Atoi(getenv(k, strconv.Itoa(def)))
	if err != nil || n < 0 {
		log.Printf("[config] bad %s, using %d", k, def)
		return def
	}
	return n
}
