package tier

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/specforge/internal/models"
)

// tableFile is the on-disk layout of a tier override file:
//
//	tiers:
//	  pro:
//	    model_id: ${PRO_MODEL}
//	    max_tokens: 4096
type tableFile struct {
	Tiers map[string]GenerationConfig `yaml:"tiers"`
}

// LoadTable reads a tier override file. Values may reference environment
// variables as ${VAR} or $VAR.
func LoadTable(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tier table: read %s: %w", path, err)
	}
	t, err := ParseTable(raw)
	if err != nil {
		return nil, fmt.Errorf("tier table: %s: %w", path, err)
	}
	return t, nil
}

// ParseTable parses tier overrides from YAML bytes.
func ParseTable(data []byte) (Table, error) {
	var f tableFile
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	out := make(Table, len(f.Tiers))
	for name, cfg := range f.Tiers {
		t, err := models.ParseTier(name)
		if err != nil {
			return nil, err
		}
		if cfg.ModelID == "" {
			return nil, fmt.Errorf("tier %s: model_id is required", t)
		}
		if cfg.MaxTokens <= 0 {
			return nil, fmt.Errorf("tier %s: max_tokens must be positive", t)
		}
		if cfg.ContextWindow == 0 {
			cfg.ContextWindow = DefaultTable()[t].ContextWindow
		}
		out[t] = cfg
	}
	return out, nil
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the corresponding environment
// variable value. Missing vars are replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
