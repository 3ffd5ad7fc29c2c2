// Package config reads process configuration from the environment.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"taskboard/domain"
)

// Store backends selectable with TASKBOARD_STORE.
const (
	StoreMemory = "memory"
	StoreTables = "tables"
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

type Config struct {
	Debug bool
	Addr  string

	Store           string
	StorageConnStr  string
	TasksTable      string
	EventQueue      string
	SQLitePath      string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	RedisConnStr string
	DeduperTTL   time.Duration
	CacheTTL     time.Duration

	IntentBuffer     int
	HandoffTimeout   time.Duration
	ApplyTimeout     time.Duration
	Heartbeat        time.Duration
	SubscriberBuffer int
	FeedSize         int

	RosterPath string

	ServerURL string
	Actor     int64
	CachePath string
}

// Load reads the environment. Values that are set but invalid are errors;
// unset values fall back to defaults.
func Load() (Config, error) {
	c := Config{
		Addr:            ":8080",
		Store:           StoreMemory,
		TasksTable:      "tasks",
		SQLitePath:      "taskboard.db",
		MongoDatabase:   "taskboard",
		MongoCollection: "tasks",
		ServerURL:       "http://localhost:8080",
	}
	var err error
	if v := os.Getenv("DEBUG"); v != "" {
		if c.Debug, err = strconv.ParseBool(v); err != nil {
			return c, fmt.Errorf("invalid DEBUG: %w", err)
		}
	}
	if v, ok := os.LookupEnv("TASKBOARD_PORT"); ok {
		c.Addr = ":" + v
	}
	if v := os.Getenv("TASKBOARD_STORE"); v != "" {
		c.Store = strings.ToLower(v)
	}
	c.StorageConnStr = os.Getenv("STORAGE_CONNECTION_STRING")
	c.TasksTable = envString("TASKS_TABLE", c.TasksTable)
	c.EventQueue = os.Getenv("EVENT_QUEUE")
	c.SQLitePath = envString("SQLITE_PATH", c.SQLitePath)
	c.MongoURI = os.Getenv("MONGO_URI")
	c.MongoDatabase = envString("MONGO_DATABASE", c.MongoDatabase)
	c.MongoCollection = envString("MONGO_COLLECTION", c.MongoCollection)
	c.RedisConnStr = os.Getenv("REDIS_CONNECTION_STRING")
	c.RosterPath = os.Getenv("TASKBOARD_ROSTER")
	c.ServerURL = envString("TASKBOARD_URL", c.ServerURL)

	if c.DeduperTTL, err = envDur("DEDUPER_TTL", 24*time.Hour); err != nil {
		return c, err
	}
	if c.CacheTTL, err = envDur("TASKS_CACHE_TTL", time.Minute); err != nil {
		return c, err
	}
	if c.HandoffTimeout, err = envDur("INTENT_HANDOFF_TIMEOUT", 15*time.Millisecond); err != nil {
		return c, err
	}
	if c.ApplyTimeout, err = envDur("INTENT_APPLY_TIMEOUT", 30*time.Second); err != nil {
		return c, err
	}
	if c.Heartbeat, err = envDur("STREAM_HEARTBEAT", 15*time.Second); err != nil {
		return c, err
	}
	if c.IntentBuffer, err = envInt("INTENT_BUFFER", 1024); err != nil {
		return c, err
	}
	if c.SubscriberBuffer, err = envInt("STREAM_BUFFER", 256); err != nil {
		return c, err
	}
	if c.FeedSize, err = envInt("ACTIVITY_FEED_SIZE", 50); err != nil {
		return c, err
	}
	if v := os.Getenv("TASKBOARD_ACTOR"); v != "" {
		if c.Actor, err = strconv.ParseInt(v, 10, 64); err != nil || c.Actor < 0 {
			return c, fmt.Errorf("invalid TASKBOARD_ACTOR: %q", v)
		}
	}
	c.CachePath = os.Getenv("TASKBOARD_CACHE")
	if c.CachePath == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			c.CachePath = filepath.Join(dir, "taskboard", "board.json")
		}
	}
	return c, c.validate()
}

func (c Config) validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StoreTables:
		if c.StorageConnStr == "" || c.TasksTable == "" {
			return fmt.Errorf("missing storage config")
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("missing MONGO_URI")
		}
	default:
		return fmt.Errorf("unknown TASKBOARD_STORE %q", c.Store)
	}
	if c.EventQueue != "" && c.StorageConnStr == "" {
		return fmt.Errorf("EVENT_QUEUE requires STORAGE_CONNECTION_STRING")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func envDur(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

// RedisOptions accepts either a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, fmt.Errorf("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

type rosterFile struct {
	Users []domain.User `yaml:"users"`
}

// LoadRoster reads the roster YAML at path, or returns the default roster
// when path is empty.
func LoadRoster(path string) (domain.Roster, error) {
	if path == "" {
		return domain.DefaultRoster(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Roster{}, err
	}
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return domain.Roster{}, fmt.Errorf("roster %s: %w", path, err)
	}
	seen := make(map[int64]bool, len(f.Users))
	for _, u := range f.Users {
		if u.ID <= 0 {
			return domain.Roster{}, fmt.Errorf("roster %s: user ids must be positive, got %d", path, u.ID)
		}
		if seen[u.ID] {
			return domain.Roster{}, fmt.Errorf("roster %s: duplicate user id %d", path, u.ID)
		}
		seen[u.ID] = true
	}
	if len(f.Users) == 0 {
		return domain.Roster{}, fmt.Errorf("roster %s: no users", path)
	}
	return domain.NewRoster(f.Users), nil
}
