package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/CodeMonkeyCybersecurity/satori/cmd/internal/display"
	"github.com/CodeMonkeyCybersecurity/satori/internal/config"
	"github.com/CodeMonkeyCybersecurity/satori/internal/core"
	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/satori/internal/discovery"
	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/internal/output"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins"
	"github.com/CodeMonkeyCybersecurity/satori/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/satori/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/discovery/dns"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/discovery/whois"
)

// stack is everything a discovery run needs, built once per process.
type stack struct {
	engine    *discovery.Engine
	registry  *plugins.Registry
	telemetry core.Telemetry
}

func (s *stack) Close() error {
	return s.telemetry.Close()
}

func newStack(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stack, error) {
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	resolver := dns.NewResolver(cfg.Discovery.Resolvers, cfg.Discovery.StepTimeout, log)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.Whois.RequestsPerSecond,
		BurstSize:         cfg.Whois.BurstSize,
		MinDelay:          ratelimit.DefaultConfig().MinDelay,
	})
	domains := discovery.NewDomainFacts(whois.NewWhoisClient(log, cfg.Whois.Timeout, limiter), resolver)

	registry, err := plugins.NewDefaultRegistry(cfg, log)
	if err != nil {
		_ = tel.Close()
		return nil, err
	}

	engine := discovery.NewEngine(registry, resolver, domains, log,
		discovery.WithStepTimeout(cfg.Discovery.StepTimeout),
		discovery.WithExhaustiveMatch(cfg.Discovery.Exhaustive),
		discovery.WithTelemetry(tel),
	)

	return &stack{engine: engine, registry: registry, telemetry: tel}, nil
}

func runDiscovery(ctx context.Context, stdout, stderr io.Writer, target string) error {
	s, err := newStack(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Debugw("Telemetry shutdown failed", "error", err)
		}
	}()

	if cfg.Discovery.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Discovery.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.engine.Discover(ctx, discovery.Request{
		Target:      target,
		Credentials: credentials.FromConfig(cfg),
		SystemInfo:  cfg.Discovery.SystemInfo,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("discovery did not finish within %s", cfg.Discovery.Timeout)
		}
		return err
	}
	log.LogDuration(ctx, "discovery", start,
		"target", target,
		"run_id", result.ID,
		"resources", result.Resources.Len(),
		"soft_errors", len(result.Errors),
	)

	switch {
	case cfg.Output.Template != "":
		err = output.RenderTemplateFile(stdout, result, cfg.Output.Template)
	case cfg.Output.Format == output.FormatText:
		if err = output.Render(stdout, result, output.FormatText); err == nil {
			_, err = fmt.Fprintln(stdout)
		}
	default:
		err = output.Render(stdout, result, cfg.Output.Format)
	}
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}

	// Text output already lists soft errors inline.
	if cfg.Output.Format != output.FormatText || cfg.Output.Template != "" {
		display.PrintSoftErrors(stderr, result.Errors)
	}
	return nil
}
