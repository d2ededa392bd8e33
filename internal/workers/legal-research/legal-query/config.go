// internal/workers/legal-research/legal-query/config.go
package legalquery

import (
	"time"

	"legal-rag-workers/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

// LoadConfig reads the worker's timeout from appConfig, defaulting to 120s.
func LoadConfig(appConfig *config.Config) *Config {
	cfg := &Config{Timeout: 120 * time.Second}
	if appConfig == nil {
		return cfg
	}
	if wcfg, ok := appConfig.Workers[TaskType]; ok && wcfg.Timeout > 0 {
		cfg.Timeout = config.GetDuration(wcfg.Timeout)
	}
	return cfg
}
