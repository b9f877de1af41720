package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

type fakeSettings map[string]*proto.TenantSettings

func (f fakeSettings) GetTenantSettings(_ context.Context, tenantID string) (*proto.TenantSettings, error) {
	if tenantID == "broken" {
		return nil, errors.New("database is locked")
	}
	ts, ok := f[tenantID]
	if !ok {
		return nil, errors.New("not found")
	}
	return ts, nil
}

func TestSelectPipelineResolution(t *testing.T) {
	settings := fakeSettings{
		"modern":  {TenantID: "modern", PipelineVersion: "v2"},
		"classic": {TenantID: "classic", PipelineVersion: "V1 "},
		"unset":   {TenantID: "unset"},
		"bogus":   {TenantID: "bogus", PipelineVersion: "v9"},
	}

	tests := []struct {
		name     string
		fallback string
		tenant   string
		want     Version
	}{
		{"tenant setting wins", "v1", "modern", V2},
		{"tenant setting normalized", "v2", "classic", V1},
		{"unset uses process default", "v2", "unset", V2},
		{"invalid tenant value uses default", "v2", "bogus", V2},
		{"lookup error uses default", "v2", "broken", V2},
		{"missing tenant uses default", "v2", "nobody", V2},
		{"invalid default uses v1", "v7", "unset", V1},
		{"empty default uses v1", "", "bogus", V1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(settings, tt.fallback)
			assert.Equal(t, tt.want, s.SelectPipeline(context.Background(), tt.tenant))
		})
	}
}

func TestSelectorWithoutSettings(t *testing.T) {
	assert.Equal(t, V2, NewSelector(nil, "v2").SelectPipeline(context.Background(), "t1"))
}

func named(name string) Pipeline {
	return PipelineFunc(func(_ context.Context, req *Request) (Reply, error) {
		return Reply{Text: name + ":" + req.TenantID}, nil
	})
}

func TestDispatchRoutesToSelectedPipeline(t *testing.T) {
	settings := fakeSettings{"modern": {PipelineVersion: "v2"}, "classic": {PipelineVersion: "v1"}}
	d, err := New(NewSelector(settings, "v1"), map[Version]Pipeline{V1: named("one"), V2: named("two")})
	require.NoError(t, err)

	v, reply, err := d.Dispatch(context.Background(), &Request{TenantID: "modern"})
	require.NoError(t, err)
	assert.Equal(t, V2, v)
	assert.Equal(t, "two:modern", reply.Text)

	v, reply, err = d.Dispatch(context.Background(), &Request{TenantID: "classic"})
	require.NoError(t, err)
	assert.Equal(t, V1, v)
	assert.Equal(t, "one:classic", reply.Text)
}

func TestDispatchFallsBackToV1(t *testing.T) {
	settings := fakeSettings{"modern": {PipelineVersion: "v2"}}
	d, err := New(NewSelector(settings, "v1"), map[Version]Pipeline{V1: named("one")})
	require.NoError(t, err)

	v, reply, err := d.Dispatch(context.Background(), &Request{TenantID: "modern"})
	require.NoError(t, err)
	assert.Equal(t, V1, v)
	assert.Equal(t, "one:modern", reply.Text)
}

// countingSettings records how often settings were looked up.
type countingSettings struct {
	fakeSettings
	lookups int
}

func (c *countingSettings) GetTenantSettings(ctx context.Context, tenantID string) (*proto.TenantSettings, error) {
	c.lookups++
	return c.fakeSettings.GetTenantSettings(ctx, tenantID)
}

func TestDispatchUsesLoadedSettings(t *testing.T) {
	settings := &countingSettings{fakeSettings: fakeSettings{"modern": {PipelineVersion: "v1"}}}
	d, err := New(NewSelector(settings, "v1"), map[Version]Pipeline{V1: named("one"), V2: named("two")})
	require.NoError(t, err)

	v, reply, err := d.Dispatch(context.Background(), &Request{
		TenantID: "modern",
		Settings: &proto.TenantSettings{TenantID: "modern", PipelineVersion: "v2"},
	})
	require.NoError(t, err)
	assert.Equal(t, V2, v)
	assert.Equal(t, "two:modern", reply.Text)
	assert.Zero(t, settings.lookups)

	v, _, err = d.Dispatch(context.Background(), &Request{TenantID: "modern", Settings: &proto.TenantSettings{TenantID: "modern"}})
	require.NoError(t, err)
	assert.Equal(t, V1, v, "loaded settings without a version use the default")
	assert.Zero(t, settings.lookups)

	v, _, err = d.Dispatch(context.Background(), &Request{TenantID: "modern"})
	require.NoError(t, err)
	assert.Equal(t, V1, v)
	assert.Equal(t, 1, settings.lookups)
}

func TestSelectFor(t *testing.T) {
	s := NewSelector(nil, "v2")
	assert.Equal(t, V2, s.SelectFor(nil))
	assert.Equal(t, V1, s.SelectFor(&proto.TenantSettings{PipelineVersion: "v1"}))
	assert.Equal(t, V2, s.SelectFor(&proto.TenantSettings{PipelineVersion: "v9"}))
}

func TestNewValidatesPipelines(t *testing.T) {
	_, err := New(NewSelector(nil, ""), map[Version]Pipeline{V2: named("two")})
	require.Error(t, err)

	_, err = New(NewSelector(nil, ""), map[Version]Pipeline{V1: named("one"), "v3": named("three")})
	require.Error(t, err)

	_, err = New(nil, map[Version]Pipeline{V1: named("one")})
	require.Error(t, err)
}

func TestDispatchPropagatesPipelineError(t *testing.T) {
	boom := errors.New("boom")
	d, err := New(NewSelector(nil, ""), map[Version]Pipeline{
		V1: PipelineFunc(func(context.Context, *Request) (Reply, error) { return Reply{}, boom }),
	})
	require.NoError(t, err)
	_, _, err = d.Dispatch(context.Background(), &Request{TenantID: "t1"})
	assert.ErrorIs(t, err, boom)
}
