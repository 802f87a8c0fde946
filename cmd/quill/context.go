package main

import (
	"fmt"
	"strings"
	"sync"

	"quill/internal/config"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiAddress() (string, error) {
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		return strings.TrimSpace(*c.apiFlag), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cfg.Paths.APIBind) == "" {
		return "", fmt.Errorf("daemon API address is not configured; set paths.api_bind or pass --api")
	}
	return cfg.Paths.APIBind, nil
}

func (c *commandContext) apiClient() (*apiClient, error) {
	addr, err := c.apiAddress()
	if err != nil {
		return nil, err
	}
	token := ""
	if cfg, cfgErr := c.ensureConfig(); cfgErr == nil && cfg != nil {
		token = cfg.Paths.APIToken
	}
	return newAPIClient(addr, token), nil
}
