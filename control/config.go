// control/config.go
// Author: momentics <momentics@gmail.com>
//
// YAML configuration file loading.

package control

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// FileConfig mirrors the keys accepted in a configuration file. Zero values
// mean "not set" and leave the built-in default in place.
type FileConfig struct {
	Addr            string `yaml:"addr"`
	Port            int    `yaml:"port"`
	DocRoot         string `yaml:"doc_root"`
	Workers         int    `yaml:"workers"`
	MaxRequests     int    `yaml:"max_requests"`
	MaxConnections  int    `yaml:"max_connections"`
	MaxFD           int    `yaml:"max_fd"`
	ReadBufferSize  int    `yaml:"read_buffer_size"`
	WriteBufferSize int    `yaml:"write_buffer_size"`
	TimeSlot        string `yaml:"time_slot"`
	IdleTimeout     string `yaml:"idle_timeout"`
	AdminAddr       string `yaml:"admin_addr"`
	LogLevel        string `yaml:"log_level"`

	timeSlot    time.Duration
	idleTimeout time.Duration
}

// TimeSlotDuration returns the parsed time_slot, or zero if unset.
func (fc *FileConfig) TimeSlotDuration() time.Duration { return fc.timeSlot }

// IdleTimeoutDuration returns the parsed idle_timeout, or zero if unset.
func (fc *FileConfig) IdleTimeoutDuration() time.Duration { return fc.idleTimeout }

// LoadConfigFile reads and validates the YAML file at path.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML document. Unknown keys are rejected.
func ParseConfig(data []byte) (*FileConfig, error) {
	fc := &FileConfig{}
	if err := yaml.UnmarshalWithOptions(data, fc, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	var err error
	if fc.timeSlot, err = parseDuration("time_slot", fc.TimeSlot); err != nil {
		return nil, err
	}
	if fc.idleTimeout, err = parseDuration("idle_timeout", fc.IdleTimeout); err != nil {
		return nil, err
	}
	for name, v := range map[string]int{
		"port":              fc.Port,
		"workers":           fc.Workers,
		"max_requests":      fc.MaxRequests,
		"max_connections":   fc.MaxConnections,
		"max_fd":            fc.MaxFD,
		"read_buffer_size":  fc.ReadBufferSize,
		"write_buffer_size": fc.WriteBufferSize,
	} {
		if v < 0 {
			return nil, fmt.Errorf("config %s: negative value %d", name, v)
		}
	}
	if fc.Port > 65535 {
		return nil, fmt.Errorf("config port: %d out of range", fc.Port)
	}
	return fc, nil
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config %s: must be positive", key)
	}
	return d, nil
}
