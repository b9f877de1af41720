package tools

import "github.com/vortexion256/caremax-sub002/pkg/config"

func searchCfg(provider, key, cx string) config.SearchConfig {
	return config.SearchConfig{Provider: provider, APIKey: key, CX: cx}
}
