// Package dispatch selects the agent pipeline version of a tenant and routes
// each turn to the pipeline registered for it.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/config"
	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// Version names a pipeline implementation.
type Version string

const (
	V1 Version = config.PipelineV1
	V2 Version = config.PipelineV2
)

// ParseVersion normalizes s and reports whether it names a known version.
func ParseVersion(s string) (Version, bool) {
	v := Version(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case V1, V2:
		return v, true
	}
	return "", false
}

// SettingsReader looks up a tenant's agent settings.
type SettingsReader interface {
	GetTenantSettings(ctx context.Context, tenantID string) (*proto.TenantSettings, error)
}

// Request is one turn handed to a pipeline.
type Request struct {
	TenantID       string
	UserID         string
	ConversationID string
	// Settings is never nil; tenants without stored settings get defaults.
	Settings *proto.TenantSettings
	History  []proto.ChatTurn
}

// Reply is what a pipeline produced for the customer.
type Reply struct {
	Text           string `json:"text"`
	RequestHandoff bool   `json:"request_handoff"`
}

// Pipeline runs one agent turn.
type Pipeline interface {
	Run(ctx context.Context, req *Request) (Reply, error)
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, req *Request) (Reply, error)

// Run implements Pipeline.
func (f PipelineFunc) Run(ctx context.Context, req *Request) (Reply, error) {
	return f(ctx, req)
}

// Selector resolves pipeline versions: the tenant's setting first, then the
// process default, then V1. Invalid values and lookup failures fall through
// to the next tier.
type Selector struct {
	settings SettingsReader
	fallback string
	logger   *logx.Logger
}

// NewSelector creates a selector. settings may be nil.
func NewSelector(settings SettingsReader, defaultVersion string) *Selector {
	return &Selector{
		settings: settings,
		fallback: defaultVersion,
		logger:   logx.NewLogger("dispatch"),
	}
}

// SelectPipeline never fails.
func (s *Selector) SelectPipeline(ctx context.Context, tenantID string) Version {
	if s.settings == nil {
		return s.Default()
	}
	ts, err := s.settings.GetTenantSettings(ctx, tenantID)
	if err != nil {
		s.logger.Warn("pipeline lookup for tenant %s failed, using default: %v", tenantID, err)
		return s.Default()
	}
	return s.SelectFor(ts)
}

// SelectFor resolves the version from settings the caller already loaded.
// Nil settings select the default.
func (s *Selector) SelectFor(ts *proto.TenantSettings) Version {
	if ts != nil && ts.PipelineVersion != "" {
		if v, ok := ParseVersion(ts.PipelineVersion); ok {
			return v
		}
		s.logger.Warn("tenant %s has unknown pipeline version %q, using default", ts.TenantID, ts.PipelineVersion)
	}
	return s.Default()
}

// Default returns the process default version, or V1 when that is unset or invalid.
func (s *Selector) Default() Version {
	if v, ok := ParseVersion(s.fallback); ok {
		return v
	}
	return V1
}

// Dispatcher owns the closed set of pipelines.
type Dispatcher struct {
	selector  *Selector
	pipelines map[Version]Pipeline
	logger    *logx.Logger
}

// New creates a dispatcher. A V1 pipeline is required since every other
// version falls back to it.
func New(selector *Selector, pipelines map[Version]Pipeline) (*Dispatcher, error) {
	if selector == nil {
		return nil, fmt.Errorf("selector is required")
	}
	if pipelines[V1] == nil {
		return nil, fmt.Errorf("a %s pipeline is required", V1)
	}
	own := make(map[Version]Pipeline, len(pipelines))
	for v, p := range pipelines {
		if _, ok := ParseVersion(string(v)); !ok {
			return nil, fmt.Errorf("unknown pipeline version %q", v)
		}
		own[v] = p
	}
	return &Dispatcher{
		selector:  selector,
		pipelines: own,
		logger:    logx.NewLogger("dispatch"),
	}, nil
}

// Dispatch runs req through the pipeline selected for its tenant and
// reports the version that handled it. The version comes from req.Settings
// when set; the tenant's settings are looked up only otherwise.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (Version, Reply, error) {
	var v Version
	if req.Settings != nil {
		v = d.selector.SelectFor(req.Settings)
	} else {
		v = d.selector.SelectPipeline(ctx, req.TenantID)
	}
	p, ok := d.pipelines[v]
	if !ok {
		d.logger.Warn("no %s pipeline registered, falling back to %s", v, V1)
		v, p = V1, d.pipelines[V1]
	}
	logx.Debug(ctx, "dispatch", "tenant %s conversation %s -> %s", req.TenantID, req.ConversationID, v)

	reply, err := p.Run(ctx, req)
	return v, reply, err
}
