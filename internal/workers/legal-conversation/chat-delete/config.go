// internal/workers/legal-conversation/chat-delete/config.go
package chatdelete

import (
	"time"

	"legal-rag-workers/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig(appConfig *config.Config) *Config {
	cfg := &Config{Timeout: 5 * time.Second}
	if appConfig == nil {
		return cfg
	}
	if wcfg, ok := appConfig.Workers[TaskType]; ok && wcfg.Timeout > 0 {
		cfg.Timeout = config.GetDuration(wcfg.Timeout)
	}
	return cfg
}
