package plugins

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/satori/internal/config"
	"github.com/CodeMonkeyCybersecurity/satori/internal/core"
	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins/ec2"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins/elasticache"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins/nmap"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins/nova"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins/ohai"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins/poshohai"
)

// RegisterDefaults registers every built-in discovery provider.
func RegisterDefaults(reg *Registry, cfg *config.Config, log *logger.Logger) error {
	defaults := []core.Plugin{
		// Control plane
		nova.New(log),
		ec2.New(log),
		elasticache.New(log),

		// Data plane
		ohai.New(log),
		poshohai.New(log, cfg.Discovery.StepTimeout),
		nmap.New(cfg.PortScan, log),
	}

	for _, p := range defaults {
		if err := reg.Register(p); err != nil {
			return fmt.Errorf("failed to register %s plugin: %w", p.Name(), err)
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry holding the built-in providers.
func NewDefaultRegistry(cfg *config.Config, log *logger.Logger) (*Registry, error) {
	reg := NewRegistry()
	if err := RegisterDefaults(reg, cfg, log); err != nil {
		return nil, err
	}
	return reg, nil
}
