// Package config loads application settings from flags, environment
// variables (SPLITZ_ prefix), and an optional config file, in that
// precedence order.
package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	v *viper.Viper
}

func New() *Config {
	v := viper.New()
	v.SetEnvPrefix("splitz")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return &Config{v: v}
}

// Load parses args and merges them over env vars and the config file, if
// one was named.
func (c *Config) Load(args []string) error {
	fs := pflag.NewFlagSet("splitz", pflag.ContinueOnError)
	fs.String("config-file", "", "optional YAML/TOML config file")
	fs.Bool("debug", false, "debug logging")
	fs.String("records", "", "path to a JSON file of subject records")
	fs.String("experiment-file", "", "path to a YAML experiment definition")
	fs.String("groups", "control:0-50,test1:50-100", "group bucket ranges, e.g. control:0-50,test1:50-100")
	fs.String("method", "frequentist", "test method: frequentist or bayesian")
	fs.Float64("alpha", 0.05, "significance level")
	fs.String("tails", "two_tailed", "alternative hypothesis: one_tailed or two_tailed")
	fs.Bool("sequential", false, "sequential early-stopping mode")
	fs.Float64("stopping-threshold", 0.05, "p-value threshold for sequential stopping")
	fs.String("correction", "bonferroni", "p-value correction: bonferroni, holm, or fdr_bh")
	fs.Int("prior-successes", 30, "Bayesian prior successes")
	fs.Int("prior-trials", 100, "Bayesian prior trials")
	fs.Int("samples", 2000, "Bayesian posterior samples per arm")
	fs.String("uplift", "percent", "Bayesian uplift method: percent, ratio, or difference")
	fs.Int("workers", 1, "parallelism for aggregation and pairwise tests")
	fs.String("listen-addr", ":8087", "HTTP listen address (API server)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.v.BindPFlags(fs); err != nil {
		return err
	}
	if file := c.v.GetString("config-file"); file != "" {
		c.v.SetConfigFile(file)
		if err := c.v.ReadInConfig(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) GetString(key string) string   { return c.v.GetString(key) }
func (c *Config) GetBool(key string) bool       { return c.v.GetBool(key) }
func (c *Config) GetInt(key string) int         { return c.v.GetInt(key) }
func (c *Config) GetFloat64(key string) float64 { return c.v.GetFloat64(key) }

// Settings returns every resolved key and value for startup logging.
func (c *Config) Settings() map[string]any {
	return c.v.AllSettings()
}
