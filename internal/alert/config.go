// Package alert posts audit entries to webhook endpoints: denials,
// failures, undos and policy changes an operator wants to hear about.
package alert

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Event names a Config can subscribe to. They match audit entry statuses
// and types.
const (
	EventDeniedPolicy    = "denied_policy"
	EventDeniedRateLimit = "denied_ratelimit"
	EventFailed          = "failed_execution"
	EventExecuted        = "allowed_executed"
	EventUndo            = "undo"
	EventPolicyChanged   = "policy_changed"
)

// Config defines one webhook destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"     validate:"required,url"`
	Format  string            `yaml:"format"  json:"format"  validate:"omitempty,oneof=generic slack"`
	Events  []string          `yaml:"events"  json:"events"  validate:"min=1,dive,oneof=denied_policy denied_ratelimit failed_execution allowed_executed undo policy_changed"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// File is the on-disk layout of alerts.yaml.
type File struct {
	Webhooks []Config `yaml:"webhooks" validate:"dive"`
}

var validate = validator.New()

// LoadConfig reads webhook destinations from path. A missing file means
// no alerts and is not an error.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read alert config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse alert config: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid alert config: %w", err)
	}
	return f.Webhooks, nil
}
