package session

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

type cacheFile struct {
	SavedAt time.Time     `json:"savedAt"`
	Tasks   []domain.Task `json:"tasks"`
}

// LocalCache keeps the last projection on disk for an instant first paint.
// It is best-effort: every failure is logged and otherwise ignored.
type LocalCache struct {
	path   string
	logger *log.Logger
}

func NewLocalCache(path string, logger *log.Logger) *LocalCache {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LocalCache{path: path, logger: logger}
}

func (c *LocalCache) Load() ([]domain.Task, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.WithError(err).WithField("path", c.path).Warn("read local cache")
		}
		return nil, false
	}
	var f cacheFile
	if err := sonic.Unmarshal(data, &f); err != nil {
		c.logger.WithError(err).WithField("path", c.path).Warn("corrupt local cache")
		return nil, false
	}
	for _, t := range f.Tasks {
		if !t.Status.Valid() {
			c.logger.WithField("path", c.path).Warn("local cache holds unknown status, ignoring")
			return nil, false
		}
	}
	return f.Tasks, true
}

// Save writes through a temporary file so a crash never leaves a torn cache.
func (c *LocalCache) Save(tasks []domain.Task) {
	data, err := sonic.Marshal(cacheFile{SavedAt: time.Now().UTC(), Tasks: tasks})
	if err != nil {
		c.logger.WithError(err).Warn("encode local cache")
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.logger.WithError(err).WithField("path", c.path).Warn("create cache dir")
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		c.logger.WithError(err).WithField("path", tmp).Warn("write local cache")
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.logger.WithError(err).WithField("path", c.path).Warn("replace local cache")
	}
}
