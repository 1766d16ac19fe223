// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package main

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// serveConfig holds configuration for the serve command.
//
// Values come from three layers: flag defaults, then the YAML config file
// named by --config, then any flags set explicitly on the command line.
// Secrets never live here; they are read from the environment.
type serveConfig struct {
	httpAddr    string
	metricsAddr string
	logFormat   string

	tlsCert string
	tlsKey  string
	devTLS  bool

	// devMode echoes raw reset tokens in responses. Never enable it
	// anywhere real users can reach the service.
	devMode bool

	accessTTL  time.Duration
	refreshTTL time.Duration

	mailMode string
	smtpHost string
	smtpPort int
	smtpUser string
	smtpFrom string
}

// Validate checks that the configuration is valid.
func (cfg *serveConfig) Validate() error {
	if cfg.httpAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("http-addr is required")
	}
	if cfg.logFormat != "json" && cfg.logFormat != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log-format must be 'json' or 'text', got %q", cfg.logFormat)
	}
	if (cfg.tlsCert == "") != (cfg.tlsKey == "") {
		return oops.Code("CONFIG_INVALID").Errorf("tls-cert and tls-key must be set together")
	}
	if cfg.devTLS && cfg.tlsCert != "" {
		return oops.Code("CONFIG_INVALID").Errorf("dev-tls cannot be combined with tls-cert/tls-key")
	}
	if cfg.accessTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("access-ttl must be positive")
	}
	if cfg.refreshTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("refresh-ttl must be positive")
	}
	if cfg.mailMode != "log" && cfg.mailMode != "smtp" {
		return oops.Code("CONFIG_INVALID").Errorf("mail-mode must be 'log' or 'smtp', got %q", cfg.mailMode)
	}
	if cfg.mailMode == "smtp" && cfg.smtpHost == "" {
		return oops.Code("CONFIG_INVALID").Errorf("smtp-host is required when mail-mode is smtp")
	}
	return nil
}

// loadServeConfig resolves the serve configuration from flags and the
// optional config file. Explicitly set flags win over file values; file
// values win over flag defaults.
func loadServeConfig(flags *pflag.FlagSet) (*serveConfig, error) {
	k := koanf.New(".")

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").
				With("path", configFile).
				Wrap(err)
		}
	}

	// Passing k to the provider keeps flag defaults from clobbering
	// values already loaded from the config file.
	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	return &serveConfig{
		httpAddr:    k.String("http-addr"),
		metricsAddr: k.String("metrics-addr"),
		logFormat:   k.String("log-format"),
		tlsCert:     k.String("tls-cert"),
		tlsKey:      k.String("tls-key"),
		devTLS:      k.Bool("dev-tls"),
		devMode:     k.Bool("dev-mode"),
		accessTTL:   k.Duration("access-ttl"),
		refreshTTL:  k.Duration("refresh-ttl"),
		mailMode:    k.String("mail-mode"),
		smtpHost:    k.String("smtp-host"),
		smtpPort:    k.Int("smtp-port"),
		smtpUser:    k.String("smtp-user"),
		smtpFrom:    k.String("smtp-from"),
	}, nil
}
