package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFoundPreservesInsertionOrder(t *testing.T) {
	found := NewFound()
	found.Set(FactAddress, "10.1.1.45")
	found.Set(FactDomain, DomainInfo{Name: "example.com"})
	found.SetRef(FactHost, "https://nova/servers/1")

	assert.Equal(t, []string{FactAddress, FactDomain, FactHost}, found.Keys())

	// Overwriting keeps the original position.
	found.Set(FactAddress, "10.1.1.46")
	assert.Equal(t, []string{FactAddress, FactDomain, FactHost}, found.Keys())

	fact, ok := found.Get(FactAddress)
	require.True(t, ok)
	assert.Equal(t, "10.1.1.46", fact.Value)
}

func TestFoundAddRefDeduplicates(t *testing.T) {
	found := NewFound()
	found.AddRef(FactHostCandidates, "a")
	found.AddRef(FactHostCandidates, "b")
	found.AddRef(FactHostCandidates, "a")

	fact, ok := found.Get(FactHostCandidates)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, fact.Refs)
	assert.True(t, fact.IsRef())
}

func TestFoundJSON(t *testing.T) {
	found := NewFound()
	found.Set(FactAddress, "192.0.2.10")
	found.SetNotFound(FactHost, HostNotFound)

	data, err := json.Marshal(found)
	require.NoError(t, err)
	assert.Equal(t, `{"Address":"192.0.2.10","Host":{"not_found":"Host not found"}}`, string(data))

	found = NewFound()
	found.SetRef(FactHost, "arn:aws:ec2:us-east-1:1:instance/i-1")
	data, err = json.Marshal(found)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Host":{"resource":"arn:aws:ec2:us-east-1:1:instance/i-1"}}`, string(data))
}

func TestFoundYAMLKeepsOrder(t *testing.T) {
	found := NewFound()
	found.Set(FactHost, "zzz")
	found.Set(FactAddress, "10.0.0.1")

	data, err := yaml.Marshal(found)
	require.NoError(t, err)
	assert.Equal(t, "Host: zzz\nAddress: 10.0.0.1\n", string(data))
}

func TestResultValidate(t *testing.T) {
	result := NewResult("run", "example.com")
	result.Found.SetRef(FactHost, "missing")
	assert.Error(t, result.Validate())

	result.Resources.Upsert(Resource{Key: "missing", ID: "1", Type: ResourceTypeNovaServer}, false)
	assert.NoError(t, result.Validate())

	host, ok := result.Host()
	require.True(t, ok)
	assert.Equal(t, "1", host.ID)
}

func TestResultCloneIsIndependent(t *testing.T) {
	result := NewResult("run", "example.com")
	result.Found.Set(FactAddress, "10.0.0.1")
	result.Resources.Upsert(Resource{Key: "k", Data: map[string]any{"name": "web"}}, false)

	clone := result.Clone()
	result.Found.Set(FactAddress, "10.0.0.2")
	result.Resources.Upsert(Resource{Key: "k", Data: map[string]any{"name": "db"}}, true)

	assert.Equal(t, "10.0.0.1", clone.Address())
	res, ok := clone.Resources.Get("k")
	require.True(t, ok)
	assert.Equal(t, "web", res.Data["name"])
}
