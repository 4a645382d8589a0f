package main

import (
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/klatch"
)

const configEnvVar = "KLATCH_CONFIG"

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     klatch.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig loads the file named by --config or $KLATCH_CONFIG, falling
// back to the defaults when neither is set.
func (c *commandContext) ensureConfig() (klatch.Config, error) {
	c.configOnce.Do(func() {
		path := c.configPath()
		if path == "" {
			c.config = klatch.DefaultConfig()
			return
		}
		c.config, c.configErr = klatch.LoadConfig(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path
		}
	}
	return strings.TrimSpace(os.Getenv(configEnvVar))
}

// newClient builds a client from the loaded configuration.
func (c *commandContext) newClient(extra ...klatch.Option) (*klatch.Client, klatch.Config, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, cfg, err
	}
	opts := append(cfg.Options(cfg.NewLogger()), extra...)
	client := klatch.New(opts...)
	if err := client.ValidationError(); err != nil {
		return nil, cfg, err
	}
	return client, cfg, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
