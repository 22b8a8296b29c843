// Package config loads the multiplexer's TOML configuration file(s),
// adapting the teacher's viper-based internal/config.Config to the
// multiplexer's own schema and adding the `$NAME` environment-variable
// substitution described by the original chirpstack-packet-multiplexer's
// Configuration::get.
package config

import (
	"bytes"
	"os"
	"regexp"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config defines the configuration structure.
type Config struct {
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Multiplexer struct {
		Bind    string   `mapstructure:"bind"`
		Servers []Server `mapstructure:"server"`
	} `mapstructure:"multiplexer"`

	Monitoring struct {
		Bind string `mapstructure:"bind"`
	} `mapstructure:"monitoring"`

	Tracing struct {
		Enabled        bool   `mapstructure:"enabled"`
		JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	} `mapstructure:"tracing"`
}

// Server is one configured upstream network server.
type Server struct {
	Server            string   `mapstructure:"server"`
	UplinkOnly        bool     `mapstructure:"uplink_only"`
	GatewayIDPrefixes []string `mapstructure:"gateway_id_prefixes"`
}

// C holds the global configuration, populated by Load.
var C Config

var envVarPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// substituteEnv replaces every $NAME occurrence with the value of the
// environment variable NAME. A missing variable is left in place verbatim.
func substituteEnv(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := match[1:]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// Load concatenates the given files in order, substitutes environment
// variables, and parses the result as TOML. Unknown keys are ignored
// (forgiving parse); missing keys keep their defaults.
func Load(filenames []string) (Config, error) {
	var c Config
	c.Logging.Level = "info"
	c.Multiplexer.Bind = "0.0.0.0:1700"

	var content bytes.Buffer
	for _, name := range filenames {
		b, err := os.ReadFile(name)
		if err != nil {
			return c, errors.Wrapf(err, "config: read %s error", name)
		}
		content.Write(b)
	}

	if content.Len() == 0 {
		return c, nil
	}

	substituted := substituteEnv(content.String())

	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewBufferString(substituted)); err != nil {
		return c, errors.Wrap(err, "config: parse toml error")
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, errors.Wrap(err, "config: unmarshal error")
	}

	return c, nil
}
