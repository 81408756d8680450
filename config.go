package serial

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDelimiter    = "\n"
	DefaultReadTimeout  = 100 * time.Millisecond
	DefaultWriteTimeout = time.Second

	// NoTimeout makes ReadLine block until a full line arrives or the port closes.
	NoTimeout time.Duration = -1
)

// Config holds configuration parameters for opening a serial port.
// It is copied by Open and never changes while the port is open.
type Config struct {
	PortName     string        `yaml:"port"`   // OS device path, e.g. /dev/ttyUSB0 or COM3
	BaudRate     int           `yaml:"baud"`   // must be positive
	Driver       string        `yaml:"driver"` // "native", "bugst", "tarm" or "goburrow"; empty picks the platform default
	Delimiter    string        `yaml:"delimiter"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 0 means DefaultReadTimeout, NoTimeout blocks
	WriteTimeout time.Duration `yaml:"write_timeout"` // native driver only
}

// Validate reports configuration errors with the same taxonomy Open uses.
func (c Config) Validate() error {
	if c.PortName == "" {
		return &PortError{Reason: DeviceNotFound, Err: errors.New("empty port name")}
	}
	if c.BaudRate <= 0 {
		return &PortError{Port: c.PortName, Reason: InvalidBaud, Err: fmt.Errorf("baud rate %d", c.BaudRate)}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = defaultDriver
	}
	if c.Delimiter == "" {
		c.Delimiter = DefaultDelimiter
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// LoadConfig reads a YAML config file such as:
//
//	port: /dev/ttyACM0
//	baud: 9600
//	read_timeout: 200ms
func LoadConfig(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
