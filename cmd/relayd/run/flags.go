// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/luxfi/relay/config"
)

const (
	ConfigKey         = "config"
	APIHostKey        = "api-host"
	APIPortKey        = "api-port"
	DataDirKey        = "data-dir"
	AllowedOriginsKey = "allowed-origins"
)

func AddFlags(flags *pflag.FlagSet) {
	flags.String(ConfigKey, "", "Path of a JSON config file to load")
	flags.String(APIHostKey, "", "Host the API listens on, overriding the config file")
	flags.Uint16(APIPortKey, 0, "Port the API listens on, overriding the config file")
	flags.String(DataDirKey, "", "Directory relay state is stored under, overriding the config file")
	flags.StringSlice(AllowedOriginsKey, []string{"*"}, "Origins allowed to call the API")
}

// ParseFlags loads the config file named by [ConfigKey], if any, and
// applies flag overrides on top of it.
func ParseFlags(flags *pflag.FlagSet, args []string) (config.Config, []string, error) {
	if err := flags.Parse(args); err != nil {
		return config.Config{}, nil, err
	}

	configPath, err := flags.GetString(ConfigKey)
	if err != nil {
		return config.Config{}, nil, err
	}

	var configBytes []byte
	if configPath != "" {
		configBytes, err = os.ReadFile(configPath)
		if err != nil {
			return config.Config{}, nil, err
		}
	}

	cfg, err := config.ParseConfig(configBytes)
	if err != nil {
		return config.Config{}, nil, err
	}

	apiHost, err := flags.GetString(APIHostKey)
	if err != nil {
		return config.Config{}, nil, err
	}
	if apiHost != "" {
		cfg.APIHost = apiHost
	}

	apiPort, err := flags.GetUint16(APIPortKey)
	if err != nil {
		return config.Config{}, nil, err
	}
	if apiPort != 0 {
		cfg.APIPort = apiPort
	}

	dataDir, err := flags.GetString(DataDirKey)
	if err != nil {
		return config.Config{}, nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	allowedOrigins, err := flags.GetStringSlice(AllowedOriginsKey)
	if err != nil {
		return config.Config{}, nil, err
	}

	return cfg, allowedOrigins, nil
}
