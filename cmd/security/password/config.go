package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted secrets.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak turns on the small deny-list in looksVeryWeak.
	RejectVeryWeak bool
}

// Config is the hasher: cost parameters plus the policy applied on Hash.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the production baseline for interactive logins.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      6,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// FromEnv loads the hasher configuration.
//
// Env surface:
//   - MEDAUTH_PASSWORD_MIN_LEN, MEDAUTH_PASSWORD_MAX_LEN
//   - MEDAUTH_PASSWORD_REJECT_VERY_WEAK
//   - MEDAUTH_ARGON2_MEMORY_KIB, MEDAUTH_ARGON2_ITERATIONS, MEDAUTH_ARGON2_PARALLELISM
//   - MEDAUTH_ARGON2_SALT_LEN, MEDAUTH_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("MEDAUTH_PASSWORD_MIN_LEN"); ok {
		n, err := atoiInRange(v, 1, 1024)
		if err != nil {
			return Config{}, fmt.Errorf("MEDAUTH_PASSWORD_MIN_LEN: %w", err)
		}
		cfg.Policy.MinLength = n
	}
	if v, ok := os.LookupEnv("MEDAUTH_PASSWORD_MAX_LEN"); ok {
		n, err := atoiInRange(v, 1, 4096)
		if err != nil {
			return Config{}, fmt.Errorf("MEDAUTH_PASSWORD_MAX_LEN: %w", err)
		}
		cfg.Policy.MaxLength = n
	}
	if v, ok := os.LookupEnv("MEDAUTH_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("MEDAUTH_PASSWORD_REJECT_VERY_WEAK: %w", err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	u32Knobs := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{"MEDAUTH_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{"MEDAUTH_ARGON2_ITERATIONS", 1, 20, &cfg.Params.Iterations},
		{"MEDAUTH_ARGON2_SALT_LEN", 8, 64, &cfg.Params.SaltLength},
		{"MEDAUTH_ARGON2_KEY_LEN", 16, 64, &cfg.Params.KeyLength},
	}
	for _, k := range u32Knobs {
		v, ok := os.LookupEnv(k.key)
		if !ok {
			continue
		}
		u, err := atou32(v, k.min, k.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", k.key, err)
		}
		*k.dst = u
	}

	if v, ok := os.LookupEnv("MEDAUTH_ARGON2_PARALLELISM"); ok {
		u, err := atou32(v, 1, 64)
		if err != nil {
			return Config{}, fmt.Errorf("MEDAUTH_ARGON2_PARALLELISM: %w", err)
		}
		p, err := u32ToU8(u)
		if err != nil {
			return Config{}, fmt.Errorf("MEDAUTH_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = p
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func atoiInRange(s string, minVal, maxVal int) (int, error) {
	i64, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func u32ToU8(u uint32) (uint8, error) {
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("out of range [0..%d]", math.MaxUint8)
	}
	return uint8(u), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean")
	}
}
