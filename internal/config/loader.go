// loader.go fills the per-binary configs.
//
// Every loader runs the same sequence: optional .env via godotenv (never
// overriding the real environment), envconfig for parsing and defaults,
// validator for rules (a missing credential file is a CREDENTIALS error),
// then the threshold check.
package config

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var validate = validator.New()

func load(cfg any) error {
	_ = godotenv.Load()

	if err := envconfig.Process("", cfg); err != nil {
		return &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}
	if err := validate.Struct(cfg); err != nil {
		if credentialFailure(err) {
			return &ConfigError{Type: ErrCredentials, Message: "TLS credentials unavailable", Err: err}
		}
		return &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	return nil
}

func LoadPublisher() (*Publisher, error) {
	var cfg Publisher
	if err := load(&cfg); err != nil {
		return nil, err
	}
	if err := checkThresholds(cfg.PublishSettings); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadGround() (*Ground, error) {
	var cfg Ground
	if err := load(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadSatellite() (*Satellite, error) {
	var cfg Satellite
	if err := load(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadMonitor() (*Monitor, error) {
	var cfg Monitor
	if err := load(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadEdge() (*Edge, error) {
	var cfg Edge
	if err := load(&cfg); err != nil {
		return nil, err
	}
	if err := checkThresholds(cfg.PublishSettings); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func checkThresholds(p PublishSettings) error {
	if err := p.Thresholds().Validate(); err != nil {
		return &ConfigError{Type: ErrValidation, Message: "invalid classification thresholds", Err: err}
	}
	return nil
}

// credentialFailure reports whether validation failed on a credential file
// that does not exist.
func credentialFailure(err error) bool {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	for _, fe := range verrs {
		if fe.Tag() == "file" {
			return true
		}
	}
	return false
}
