// Package config reads the YAML configuration of a security manager
// deployment.
package config

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/security"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel       string        `yaml:"log_level"`
	BondFile       string        `yaml:"bond_file"`
	PairingTimeout time.Duration `yaml:"pairing_timeout"`
	AbortTimeout   time.Duration `yaml:"abort_timeout"`

	Local Address `yaml:"local"`
	UART  *UART   `yaml:"uart,omitempty"`
}

// Address is a device address as written in the file.
type Address struct {
	Address string `yaml:"address"`
	Type    string `yaml:"type"`
}

// UART selects an HCI controller on a serial port.
type UART struct {
	Port        string `yaml:"port"`
	Baud        uint   `yaml:"baud"`
	Handle      uint16 `yaml:"handle"`
	FlowControl bool   `yaml:"flow_control"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel:       "info",
		BondFile:       "bonds.json",
		PairingTimeout: security.DefaultPairingTimeout,
		AbortTimeout:   security.DefaultAbortTimeout,
		Local:          Address{Address: "c0:00:00:00:00:01", Type: "random"},
	}
}

// Parse decodes data over Default and validates the result.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse YAML")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads path. An empty path yields Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config")
	}
	c, err := Parse(data)
	return c, errors.Wrap(err, path)
}

func (c Config) Validate() error {
	if c.PairingTimeout <= 0 {
		return errors.Errorf("pairing_timeout must be positive, got %v", c.PairingTimeout)
	}
	if c.AbortTimeout <= 0 {
		return errors.Errorf("abort_timeout must be positive, got %v", c.AbortTimeout)
	}
	if c.BondFile == "" {
		return errors.New("bond_file is required")
	}
	if _, err := c.LocalDevice(); err != nil {
		return errors.Wrap(err, "local")
	}
	if u := c.UART; u != nil {
		if u.Port == "" {
			return errors.New("uart.port is required")
		}
		if u.Baud == 0 {
			return errors.New("uart.baud is required")
		}
		if u.Handle > 0x0eff {
			return errors.Errorf("uart.handle 0x%04x out of range", u.Handle)
		}
	}
	return nil
}

// LocalDevice is the address the local device pairs as.
func (c Config) LocalDevice() (security.Device, error) {
	return c.Local.Device()
}

func (a Address) Device() (security.Device, error) {
	t, err := security.ParseAddrType(a.Type)
	if err != nil {
		return security.Device{}, err
	}
	return security.ParseDevice(a.Address, t)
}

// ManagerOptions returns the Manager options the file sets.
func (c Config) ManagerOptions() []security.Option {
	return []security.Option{
		security.OptPairingTimeout(c.PairingTimeout),
		security.OptAbortTimeout(c.AbortTimeout),
	}
}
