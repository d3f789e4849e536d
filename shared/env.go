package shared

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Version is stamped at build time with -ldflags "-X ...shared.Version=...".
var Version = "dev"

// EnvParser converts a raw environment value into T.
type EnvParser[T any] func(raw string) (T, error)

func GetenvString(raw string) (string, error) {
	return raw, nil
}

func GetenvBool(raw string) (bool, error) {
	return strconv.ParseBool(raw)
}

func GetenvInt(raw string) (int, error) {
	return strconv.Atoi(raw)
}

func GetenvDuration(raw string) (time.Duration, error) {
	return time.ParseDuration(raw)
}

// Getenv reads key and parses it. An unset or empty key yields def, or
// ErrMissingEnv when required is true.
func Getenv[T any](parse EnvParser[T], key string, required bool, def T) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		if required {
			var zero T
			return zero, fmt.Errorf("%w: %s", ErrMissingEnv, key)
		}
		return def, nil
	}
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parsing %s: %w", key, err)
	}
	return v, nil
}
