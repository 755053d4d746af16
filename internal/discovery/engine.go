package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/satori/internal/core"
	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// PluginSource supplies the plugins for one phase in dispatch order.
// *plugins.Registry satisfies it.
type PluginSource interface {
	Snapshot(phase types.Phase) []core.Plugin
}

// Request describes one discovery run.
type Request struct {
	Target      string
	Credentials credentials.Bundle
	// SystemInfo names the data-plane plugins to run. Empty means every
	// data-plane plugin whose requirements are met.
	SystemInfo []string
	// Exhaustive enables exhaustive matching for this run even when the
	// engine default is off.
	Exhaustive bool
}

// Engine runs discovery for one target at a time. An Engine holds no
// per-run state and may serve concurrent runs.
type Engine struct {
	parser      *TargetParser
	plugins     PluginSource
	resolver    core.AddressResolver
	domains     core.DomainLookup
	telemetry   core.Telemetry
	logger      *logger.Logger
	stepTimeout time.Duration
	exhaustive  bool
	now         func() time.Time
	newID       func() string
}

type Option func(*Engine)

// WithStepTimeout bounds every resolver, lookup and plugin call.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) { e.stepTimeout = d }
}

// WithExhaustiveMatch keeps querying control-plane plugins after the first
// match and records further matches as Host-Candidates.
func WithExhaustiveMatch(enabled bool) Option {
	return func(e *Engine) { e.exhaustive = enabled }
}

func WithTelemetry(t core.Telemetry) Option {
	return func(e *Engine) { e.telemetry = t }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func NewEngine(source PluginSource, resolver core.AddressResolver, domains core.DomainLookup, log *logger.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	e := &Engine{
		parser:      NewTargetParser(),
		plugins:     source,
		resolver:    resolver,
		domains:     domains,
		telemetry:   telemetry.NewNoop(),
		logger:      log.WithComponent("discovery"),
		stepTimeout: 60 * time.Second,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run is the mutable state of one discovery run. Only the goroutine that
// called Discover touches it after the address/domain join.
type run struct {
	result *types.Result
	log    *logger.Logger
}

func (r *run) softError(ctx context.Context, phase types.Phase, plugin string, err error) {
	r.result.Errors = append(r.result.Errors, types.PhaseError{
		Phase:   phase,
		Plugin:  plugin,
		Message: err.Error(),
	})
	r.log.LogSoftFailure(ctx, err, string(phase), "plugin", plugin)
}

// Discover runs address resolution and domain lookup concurrently, then
// control-plane matching and data-plane enrichment. Only usage errors and
// cancellation are returned as errors; every other failure is recorded in
// Result.Errors and degrades the affected fact.
func (e *Engine) Discover(ctx context.Context, req Request) (*types.Result, error) {
	started := e.now()

	target, err := e.parser.ParseTarget(req.Target)
	if err != nil {
		return nil, err
	}
	if err := req.Credentials.Validate(); err != nil {
		return nil, &UsageError{Err: err}
	}
	dataPlane, err := e.selectDataPlane(req.SystemInfo)
	if err != nil {
		return nil, err
	}

	r := &run{result: types.NewResult(e.newID(), target.Raw)}
	r.result.Started = started
	r.log = e.logger.WithRunID(r.result.ID).WithTarget(target.Raw)

	ctx, span := r.log.StartOperation(ctx, "discovery.run",
		"host", target.Host,
		"is_ip", target.IsIP,
	)
	var runErr error
	defer func() {
		r.log.FinishOperation(ctx, span, "discovery.run", started, runErr)
	}()

	result, runErr := e.discover(ctx, r, target, req, dataPlane)
	outcome := "ok"
	if runErr != nil {
		outcome = "cancelled"
	}
	e.telemetry.RecordRun(e.now().Sub(started), outcome)
	return result, runErr
}

func (e *Engine) discover(ctx context.Context, r *run, target types.Target, req Request, dataPlane []core.Plugin) (*types.Result, error) {
	var (
		addrs     []string
		addrErr   error
		domain    *types.DomainInfo
		domainErr error
	)

	// The closures never return an error so that one failing step does not
	// cancel the other.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addrs, addrErr = e.resolveAddress(gctx, r.log, target)
		return nil
	})
	if target.Domain != "" {
		g.Go(func() error {
			domain, domainErr = e.lookupDomain(gctx, r.log, target.Domain)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	found := r.result.Found
	address := ""
	if addrErr != nil {
		found.SetNotFound(types.FactAddress, fmt.Sprintf("%s is not resolvable", target.Host))
		r.softError(ctx, types.PhaseAddress, "", addrErr)
	} else {
		address = addrs[0]
		found.Set(types.FactAddress, address)
	}

	// A partial lookup returns both a fact and an error.
	if domainErr != nil {
		r.softError(ctx, types.PhaseDomain, "", domainErr)
	}
	if domain != nil {
		found.Set(types.FactDomain, *domain)
	}

	if address == "" {
		return e.finish(r), nil
	}

	pluginReq := &core.Request{
		Target:      target,
		Address:     address,
		Credentials: req.Credentials,
		Domain:      domain,
		SystemInfo:  req.SystemInfo,
	}

	if !req.Credentials.HasControlPlane() {
		r.log.Debugw("No cloud credentials supplied, skipping control-plane phase")
		return e.finish(r), nil
	}

	hostKey, err := e.matchHost(ctx, r, pluginReq, e.exhaustive || req.Exhaustive)
	if err != nil {
		return nil, err
	}
	if hostKey == "" {
		found.SetNotFound(types.FactHost, types.HostNotFound)
		return e.finish(r), nil
	}

	if err := e.enrichHost(ctx, r, pluginReq, hostKey, dataPlane, len(req.SystemInfo) > 0); err != nil {
		return nil, err
	}

	return e.finish(r), nil
}

func (e *Engine) finish(r *run) *types.Result {
	r.result.Finished = e.now()
	if err := r.result.Validate(); err != nil {
		// Only reachable through a bug in the aggregator itself.
		r.log.Errorw("Result failed integrity check", "error", err)
	}
	return r.result
}

func (e *Engine) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.stepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.stepTimeout)
}

func (e *Engine) resolveAddress(ctx context.Context, log *logger.Logger, target types.Target) ([]string, error) {
	if target.IsIP {
		return []string{target.Host}, nil
	}
	if e.resolver == nil {
		return nil, errors.New("no resolver configured")
	}

	ctx, cancel := e.stepContext(ctx)
	defer cancel()

	start := time.Now()
	ctx, span := log.StartOperation(ctx, "discovery.address", "host", target.Host)
	addrs, err := e.resolver.Resolve(ctx, target.Host)
	if err == nil && len(addrs) == 0 {
		err = fmt.Errorf("%s resolved to no addresses", target.Host)
	}
	err = describeTimeout(ctx, err, e.stepTimeout)
	log.FinishOperation(ctx, span, "discovery.address", start, err, "addresses", len(addrs))
	return addrs, err
}

func (e *Engine) lookupDomain(ctx context.Context, log *logger.Logger, domain string) (*types.DomainInfo, error) {
	if e.domains == nil {
		return nil, errors.New("no domain lookup configured")
	}

	ctx, cancel := e.stepContext(ctx)
	defer cancel()

	start := time.Now()
	ctx, span := log.StartOperation(ctx, "discovery.domain", "domain", domain)
	info, err := e.domains.Lookup(ctx, domain)
	err = describeTimeout(ctx, err, e.stepTimeout)
	log.FinishOperation(ctx, span, "discovery.domain", start, err)
	return info, err
}

// describeTimeout rewrites a deadline error caused by the per-step timeout
// so that it reads as such in Result.Errors.
func describeTimeout(ctx context.Context, err error, limit time.Duration) error {
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s: %w", limit, err)
	}
	return err
}

// matchHost asks control-plane plugins, in priority order, which of them
// manages the address. The first match becomes the host. In exhaustive mode
// later matches are kept as candidates; otherwise dispatch stops.
func (e *Engine) matchHost(ctx context.Context, r *run, req *core.Request, exhaustive bool) (string, error) {
	hostKey := ""
	attempted := 0

	for _, p := range e.plugins.Snapshot(types.PhaseControlPlane) {
		if !p.CanHandle(req) {
			r.log.Debugw("Plugin requirements not met", "plugin", p.Name())
			continue
		}
		attempted++

		resources, err := e.invoke(ctx, r, p, req)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err != nil {
			if !errors.Is(err, core.ErrNoMatch) {
				r.softError(ctx, types.PhaseControlPlane, p.Name(), err)
			}
			continue
		}

		primary := resources[0].Key
		for _, res := range resources {
			e.addResource(ctx, r, p.Name(), res)
		}

		if hostKey == "" {
			hostKey = primary
			r.result.Found.SetRef(types.FactHost, primary)
			if !exhaustive {
				break
			}
			continue
		}
		if primary != hostKey {
			r.result.Found.AddRef(types.FactHostCandidates, primary)
		}
	}

	if attempted == 0 {
		r.softError(ctx, types.PhaseControlPlane, "", errors.New("no control-plane plugin accepts the supplied credentials"))
	}
	return hostKey, nil
}

// enrichHost runs data-plane plugins against the matched host and merges
// what they return into the host resource.
func (e *Engine) enrichHost(ctx context.Context, r *run, req *core.Request, hostKey string, candidates []core.Plugin, hinted bool) error {
	host, ok := r.result.Resources.Get(hostKey)
	if !ok {
		return nil
	}
	enrichReq := *req
	enrichReq.Host = &host

	for _, p := range candidates {
		if !p.CanHandle(&enrichReq) {
			if hinted {
				reason := "its requirements are not met"
				if rr, ok := p.(core.RequirementReporter); ok {
					if msg := rr.Unmet(&enrichReq); msg != "" {
						reason = msg
					}
				}
				r.softError(ctx, types.PhaseDataPlane, p.Name(), fmt.Errorf("requested but %s", reason))
			}
			continue
		}

		resources, err := e.invoke(ctx, r, p, &enrichReq)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if !errors.Is(err, core.ErrNoMatch) {
				r.softError(ctx, types.PhaseDataPlane, p.Name(), err)
			}
			continue
		}

		for _, res := range resources {
			if res.Key == "" {
				res.Key = hostKey
			}
			e.addResource(ctx, r, p.Name(), res)
		}
	}
	return nil
}

func (e *Engine) addResource(ctx context.Context, r *run, source string, res types.Resource) {
	if len(res.Sources) == 0 {
		res.Sources = []string{source}
	}
	if r.result.Resources.Upsert(res, false) {
		r.log.LogDiscoveryEvent(ctx, res.Type, res.Key, source, nil)
	}
}

// invoke calls one plugin with the per-step timeout. A plugin that returns
// no resources without an error is treated as no match; a panic becomes a
// soft failure.
func (e *Engine) invoke(ctx context.Context, r *run, p core.Plugin, req *core.Request) (resources []types.Resource, err error) {
	ctx, cancel := e.stepContext(ctx)
	defer cancel()

	start := time.Now()
	log := r.log.WithPlugin(p.Name())
	ctx, span := log.StartOperation(ctx, "plugin."+p.Name(),
		"phase", string(p.Phase()),
	)
	span.SetAttributes(attribute.String("plugin.name", p.Name()))

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin panicked: %v", rec)
			resources = nil
		}
		e.finishInvoke(ctx, log, span, p, start, err)
	}()

	reqCopy := *req
	if req.Host != nil {
		host := req.Host.Clone()
		reqCopy.Host = &host
	}

	resources, err = p.Discover(ctx, &reqCopy)
	if err == nil && len(resources) == 0 {
		err = core.ErrNoMatch
	}
	if err == nil {
		for _, res := range resources {
			if res.Key == "" && p.Phase() == types.PhaseControlPlane {
				return nil, errors.New("plugin returned a resource without a key")
			}
		}
	}
	err = describeTimeout(ctx, err, e.stepTimeout)
	return resources, err
}

func (e *Engine) finishInvoke(ctx context.Context, log *logger.Logger, span trace.Span, p core.Plugin, start time.Time, err error) {
	outcome := "match"
	switch {
	case err == nil:
	case errors.Is(err, core.ErrNoMatch):
		outcome = "no_match"
		// A miss is a normal answer, not a failed operation.
		err = nil
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	span.SetAttributes(attribute.String("plugin.outcome", outcome))
	log.FinishOperation(ctx, span, "plugin."+p.Name(), start, err, "outcome", outcome)
	e.telemetry.RecordPlugin(p.Name(), p.Phase(), time.Since(start), outcome)
}

// selectDataPlane resolves the requested data-plane plugin names. Unknown
// names are a usage error.
func (e *Engine) selectDataPlane(names []string) ([]core.Plugin, error) {
	all := e.plugins.Snapshot(types.PhaseDataPlane)
	if len(names) == 0 {
		return all, nil
	}

	byName := make(map[string]core.Plugin, len(all))
	for _, p := range all {
		byName[p.Name()] = p
	}

	selected := make([]core.Plugin, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		p, ok := byName[name]
		if !ok {
			return nil, usageErrorf("unknown system-info provider %q", name)
		}
		if !seen[name] {
			seen[name] = true
			selected = append(selected, p)
		}
	}
	return selected, nil
}
