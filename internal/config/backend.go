package config

// ConfigBackend is where `fatrocu config set` persists values between runs.
// Lookups report ok=false for keys that were never set so the caller keeps
// its default; err is reserved for a key that is present but unreadable.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	// Delete removes key so the built-in default applies again.
	Delete(key string) error
}
