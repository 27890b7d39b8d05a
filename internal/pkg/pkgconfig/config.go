package pkgconfig

import "time"

// Config is the read-only view of application configuration used by modules.
type Config interface {
	GetInt(key string) int64
	GetBool(key string) bool
	GetFloat(key string) float64
	GetString(key string) string
	GetBinary(key string) []byte
	GetArray(key string) []string
	GetIntArray(key string) ([]int, error)
	GetMap(key string) map[string]string
	GetDuration(key string) time.Duration
	IsSet(key string) bool
	Close() error
}
