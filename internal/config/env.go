package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"gopkg.in/yaml.v3"
)

// envParsed reads key and converts it with parse. Unset keys yield fallback;
// conversion errors name the key.
func envParsed[T any](key string, fallback T, parse func(string) (T, error)) (T, error) {
	raw := valueForKey(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envPubkey(key string, fallback solana.PublicKey) (solana.PublicKey, error) {
	return envParsed(key, fallback, solana.PublicKeyFromBase58)
}

// ParseCommitment accepts processed|confirmed|finalized in any case.
func ParseCommitment(raw string) (rpc.CommitmentType, error) {
	commitment := rpc.CommitmentType(strings.ToLower(strings.TrimSpace(raw)))
	switch commitment {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
		return commitment, nil
	default:
		return "", fmt.Errorf("%q (expected processed|confirmed|finalized)", raw)
	}
}

func envCommitment(key string, fallback rpc.CommitmentType) (rpc.CommitmentType, error) {
	return envParsed(key, fallback, ParseCommitment)
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	return envParsed(key, fallback, func(raw string) (time.Duration, error) {
		d, err := time.ParseDuration(raw)
		if err == nil && d <= 0 {
			err = errors.New("must be > 0")
		}
		return d, err
	})
}

func envInt(key string, fallback int) (int, error) {
	return envParsed(key, fallback, func(raw string) (int, error) {
		v, err := strconv.Atoi(raw)
		if err == nil && v <= 0 {
			err = errors.New("must be > 0")
		}
		return v, err
	})
}

func envNonNegativeInt(key string, fallback int) (int, error) {
	return envParsed(key, fallback, func(raw string) (int, error) {
		v, err := strconv.Atoi(raw)
		if err == nil && v < 0 {
			err = errors.New("must be >= 0")
		}
		return v, err
	})
}

func envUint64(key string, fallback uint64) (uint64, error) {
	return envParsed(key, fallback, func(raw string) (uint64, error) {
		return strconv.ParseUint(raw, 10, 64)
	})
}

func envUint32(key string, fallback uint32) (uint32, error) {
	return envParsed(key, fallback, func(raw string) (uint32, error) {
		v, err := strconv.ParseUint(raw, 10, 32)
		return uint32(v), err
	})
}

func envOptionalUint(key string) (*uint, error) {
	return envParsed(key, nil, func(raw string) (*uint, error) {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		out := uint(v)
		return &out, nil
	})
}

func envBool(key string, fallback bool) (bool, error) {
	return envParsed(key, fallback, strconv.ParseBool)
}

func envOrDefault(key, fallback string) string {
	if value := valueForKey(key); value != "" {
		return value
	}
	return fallback
}

func parseCSVEnv(raw string, fallback []string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// ExpandHomePath resolves a leading "~" against the user's home directory.
func ExpandHomePath(path string) (string, error) {
	return expandHomePath(path)
}

func expandHomePath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/")), nil
}

var (
	runtimeConfigOnce   sync.Once
	runtimeConfigErr    error
	runtimeConfigValues map[string]string
	runtimeConfigLoaded bool
	runtimeConfigPath   string
	runtimeConfigPhase  string
)

func ensureRuntimeConfigLoaded() error {
	runtimeConfigOnce.Do(func() {
		runtimeConfigValues, runtimeConfigPhase, runtimeConfigPath, runtimeConfigLoaded, runtimeConfigErr = loadRuntimeConfig()
	})
	return runtimeConfigErr
}

// loadRuntimeConfig reads config/config-<CONFIG_PHASE>.yaml, or CONFIG_FILE
// when set. A missing default file is not an error.
func loadRuntimeConfig() (values map[string]string, phase, path string, loaded bool, err error) {
	values = make(map[string]string)

	phase = strings.TrimSpace(os.Getenv("CONFIG_PHASE"))
	if phase == "" {
		phase = "local"
	}

	path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	explicitPath := path != ""
	if !explicitPath {
		path = filepath.Join("config", "config-"+phase+".yaml")
	}

	body, readErr := os.ReadFile(path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) && !explicitPath {
			return values, phase, "", false, nil
		}
		return values, phase, path, false, fmt.Errorf("read config file %q: %w", path, readErr)
	}

	flattened, err := parseYAMLConfig(body)
	if err != nil {
		return values, phase, path, false, fmt.Errorf("parse config file %q: %w", path, err)
	}

	if absPath, absErr := filepath.Abs(path); absErr == nil {
		path = absPath
	}
	return flattened, phase, path, true, nil
}

// parseYAMLConfig flattens nested YAML into UPPER_SNAKE keys so that
// `indexer: {poll_interval: 2s}` answers to INDEXER_POLL_INTERVAL.
func parseYAMLConfig(body []byte) (map[string]string, error) {
	raw := make(map[string]any)
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for key, value := range raw {
		if err := flattenConfigValue(normalizeKeySegment(key), value, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenConfigValue(prefix string, value any, out map[string]string) error {
	if prefix == "" {
		return nil
	}
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case map[string]any, []any:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			case nil:
				continue
			default:
				text := strings.TrimSpace(fmt.Sprint(scalar))
				if text != "" {
					parts = append(parts, text)
				}
			}
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
	default:
		out[prefix] = fmt.Sprint(typed)
	}
	return nil
}

func normalizeKeySegment(raw string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ""
	}
	return strings.TrimSpace(runtimeConfigValues[key])
}
