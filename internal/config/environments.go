package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/contrast-oss/license-exporter/pkg/contrast"
	"gopkg.in/yaml.v3"
)

// StdinPath selects reading environment records from standard input.
const StdinPath = "-"

// Environment is one configured TeamServer organization.
type Environment struct {
	Name           string `json:"name" yaml:"name"`
	URL            string `json:"url" yaml:"url"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	Username       string `json:"username" yaml:"username"`
	ServiceKey     string `json:"service_key" yaml:"service_key"`
	Authorization  string `json:"authorization" yaml:"authorization"`
	OrgUUID        string `json:"org_uuid" yaml:"org_uuid"`
	VerifySSL      *bool  `json:"verify_ssl,omitempty" yaml:"verify_ssl,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	PageSize       int    `json:"page_size,omitempty" yaml:"page_size,omitempty"`
}

// Validate checks a single record. index is its ordinal position in the file.
func (e Environment) Validate(index int) error {
	var missing []string
	if strings.TrimSpace(e.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(e.URL) == "" {
		missing = append(missing, "url")
	}
	if e.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if strings.TrimSpace(e.OrgUUID) == "" {
		missing = append(missing, "org_uuid")
	}
	if e.Authorization == "" && (e.Username == "" || e.ServiceKey == "") {
		missing = append(missing, "authorization or username+service_key")
	}
	if len(missing) > 0 {
		return configError("validate_environment", "environment[%d] (%q) is missing %s", index, e.Name, strings.Join(missing, ", "))
	}
	if e.TimeoutSeconds < 0 {
		return configError("validate_environment", "environment[%d] (%q) has negative timeout_seconds", index, e.Name)
	}
	return nil
}

// ClientConfig converts the record into TeamServer client settings.
func (e Environment) ClientConfig() contrast.ClientConfig {
	verify := true
	if e.VerifySSL != nil {
		verify = *e.VerifySSL
	}
	return contrast.ClientConfig{
		URL:           e.URL,
		APIKey:        e.APIKey,
		Username:      e.Username,
		ServiceKey:    e.ServiceKey,
		Authorization: e.Authorization,
		VerifySSL:     verify,
		Timeout:       time.Duration(e.TimeoutSeconds) * time.Second,
		PageSize:      e.PageSize,
	}
}

// LoadEnvironments reads environment records from path, or from stdin
// when path is "-".
func LoadEnvironments(path string, stdin io.Reader) ([]Environment, error) {
	var (
		data []byte
		err  error
	)
	if path == StdinPath {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(filepath.Clean(path))
	}
	if err != nil {
		return nil, fmt.Errorf("read environment config %s: %w", path, err)
	}

	envs, err := ParseEnvironments(data)
	if err != nil {
		return nil, fmt.Errorf("parse environment config %s: %w", path, err)
	}
	return envs, nil
}

// ParseEnvironments decodes a JSON array or YAML list of records, expands
// ${VAR} secret references and validates every record. Name uniqueness is
// enforced by the environment registry, not here.
func ParseEnvironments(data []byte) ([]Environment, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, configError("parse_environments", "no environments configured")
	}

	var envs []Environment
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &envs); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &envs); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	}
	if len(envs) == 0 {
		return nil, configError("parse_environments", "no environments configured")
	}

	for i := range envs {
		envs[i].expandSecrets()
		if err := envs[i].Validate(i); err != nil {
			return nil, err
		}
	}
	return envs, nil
}

func (e *Environment) expandSecrets() {
	e.URL = expandReference(e.URL)
	e.APIKey = expandReference(e.APIKey)
	e.Username = expandReference(e.Username)
	e.ServiceKey = expandReference(e.ServiceKey)
	e.Authorization = expandReference(e.Authorization)
	e.OrgUUID = expandReference(e.OrgUUID)
}

// expandReference replaces a value of the exact form ${NAME} with the
// environment variable NAME. Other values, including keys that merely
// contain '$', are returned unchanged.
func expandReference(value string) string {
	v := strings.TrimSpace(value)
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") && len(v) > 3 {
		return os.Getenv(v[2 : len(v)-1])
	}
	return value
}
