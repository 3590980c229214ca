package checkpoint

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options configures store creation.
type Options struct {
	Backend string

	// Path is the database file (sqlite) or directory (json).
	Path string

	// LockTTL bounds distributed lock lifetime. Only used by redis.
	LockTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open creates the configured store. The returned locker is nil unless the
// backend is shared between processes.
func Open(opts Options) (core.CheckpointStore, core.ThreadLocker, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendSQLite, "":
		path := opts.Path
		if !strings.HasSuffix(path, ".db") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		store, err := NewSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil

	case BackendJSON:
		store, err := NewJSONStore(opts.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil

	case BackendRedis:
		var ropts []RedisOption
		if opts.RedisPrefix != "" {
			ropts = append(ropts, WithRedisPrefix(opts.RedisPrefix))
		}
		store := NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, ropts...)
		ttl := opts.LockTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		return store, NewRedisLocker(store.Client(), store.prefix, ttl), nil

	case BackendMemory:
		return NewMemoryStore(), nil, nil

	default:
		return nil, nil, core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("unknown checkpoint backend %q", opts.Backend))
	}
}
