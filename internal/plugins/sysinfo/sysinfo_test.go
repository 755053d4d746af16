package sysinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	doc, err := ParseJSON(`{"hostname": "web-1"}`)
	require.NoError(t, err)
	assert.Equal(t, "web-1", doc["hostname"])

	doc, err = ParseJSON("WARNING: module loaded\r\n{\"hostname\": \"win-1\"}\r\nPS C:\\>")
	require.NoError(t, err)
	assert.Equal(t, "win-1", doc["hostname"])

	_, err = ParseJSON("bash: ohai-solo: not installed")
	assert.ErrorIs(t, err, ErrNotJSON)

	_, err = ParseJSON("{ broken }")
	assert.ErrorIs(t, err, ErrNotJSON)
}

func TestNormalize(t *testing.T) {
	doc, err := ParseJSON(`{
		"hostname": "web-1",
		"fqdn": "web-1.example.com",
		"platform": "ubuntu",
		"platform_version": "22.04",
		"remote_services": [
			{"ip": "0.0.0.0", "port": 80, "process": "nginx"},
			{"ip": "0.0.0.0", "port": "bogus"}
		],
		"connections": {
			"192.168.2.102": [8081, 8080],
			"192.168.2.100": []
		}
	}`)
	require.NoError(t, err)

	info := Normalize("ohai-solo", doc)
	assert.Equal(t, "ohai-solo", info["provider"])
	assert.Equal(t, "web-1.example.com", info["hostname"])
	assert.Equal(t, map[string]any{"platform": "ubuntu", "platform_version": "22.04"}, info["platform"])
	assert.Equal(t, []any{
		map[string]any{"ip": "0.0.0.0", "port": 80, "process": "nginx"},
	}, info["remote_services"])
	assert.Equal(t, map[string]any{
		"192.168.2.102": []any{8080, 8081},
		"192.168.2.100": []any{},
	}, info["connections"])
	assert.Equal(t, doc, info["ohai"])
}

func TestNormalizeEmptyDocument(t *testing.T) {
	info := Normalize("posh-ohai", map[string]any{})
	assert.Equal(t, []any{}, info["remote_services"])
	assert.Equal(t, map[string]any{}, info["connections"])
	assert.NotContains(t, info, "hostname")
	assert.NotContains(t, info, "platform")
}
