package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

func render(t *testing.T, result *types.Result) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, result, FormatText))
	return strings.TrimRight(buf.String(), "\n")
}

func novaResult(data map[string]any) *types.Result {
	result := types.NewResult("run-1", "instance.nova.local")
	result.Found.Set(types.FactAddress, "10.1.1.45")
	result.Resources.Upsert(types.Resource{
		Key:  "https://servers/path",
		Type: types.ResourceTypeNovaServer,
		Data: data,
	}, false)
	result.Found.SetRef(types.FactHost, "https://servers/path")
	return result
}

func TestTextNoData(t *testing.T) {
	assert.Equal(t, "Host not found", render(t, types.NewResult("run-1", "foo.com")))
}

func TestTextTargetIsIP(t *testing.T) {
	result := types.NewResult("run-1", "127.0.0.1")
	result.Found.Set(types.FactAddress, "127.0.0.1")
	assert.Equal(t, "Host:\n    ip-address: 127.0.0.1", render(t, result))
}

func TestTextHostNotServer(t *testing.T) {
	result := types.NewResult("run-1", "localhost")
	result.Found.Set(types.FactAddress, "127.0.0.1")
	assert.Equal(t,
		"Address:\n    localhost resolves to IPv4 address 127.0.0.1\nHost:\n    ip-address: 127.0.0.1",
		render(t, result))
}

func TestTextHostIsNovaInstance(t *testing.T) {
	result := novaResult(map[string]any{
		"uri":  "https://servers/path",
		"id":   "1000B",
		"name": "x",
		"addresses": map[string]any{
			"public": []any{map[string]any{"type": "ipv4", "addr": "10.1.1.45"}},
		},
		"system_info": map[string]any{
			"connections": map[string]any{
				"192.168.2.100": []any{},
				"192.168.2.101": []any{433},
				"192.168.2.102": []any{8080, 8081},
			},
			"remote_services": []any{
				map[string]any{"ip": "0.0.0.0", "process": "nginx", "port": 80},
			},
		},
	})

	expected := `Address:
    instance.nova.local resolves to IPv4 address 10.1.1.45
Host:
    10.1.1.45 (instance.nova.local) is hosted on a Nova instance
    Instance Information:
        URI: https://servers/path
        Name: x
        ID: 1000B
    ip-addresses:
        public:
            10.1.1.45
    Listening Services:
        0.0.0.0:80  nginx
    Talking to:
        192.168.2.102 on 8080, 8081
        192.168.2.101 on 433
        192.168.2.100`
	assert.Equal(t, expected, render(t, result))
}

func TestTextHostHasNoData(t *testing.T) {
	expected := `Address:
    instance.nova.local resolves to IPv4 address 10.1.1.45
Host:
    10.1.1.45 (instance.nova.local) is hosted on a Nova instance`
	assert.Equal(t, expected, render(t, novaResult(nil)))
}

func TestTextHostDataMissingItems(t *testing.T) {
	result := novaResult(map[string]any{
		"id": "1000B",
		"system_info": map[string]any{
			"remote_services": []any{
				map[string]any{"ip": "0.0.0.0", "process": "nginx", "port": 80},
			},
		},
	})

	expected := `Address:
    instance.nova.local resolves to IPv4 address 10.1.1.45
Host:
    10.1.1.45 (instance.nova.local) is hosted on a Nova instance
    Instance Information:
        URI: n/a
        Name: n/a
        ID: 1000B
    Listening Services:
        0.0.0.0:80  nginx`
	assert.Equal(t, expected, render(t, result))
}

func TestTextDomainNotFoundAndErrors(t *testing.T) {
	days := 42
	result := types.NewResult("run-1", "foo.com")
	result.Found.SetNotFound(types.FactAddress, "foo.com is not resolvable")
	result.Found.Set(types.FactDomain, types.DomainInfo{
		Name:             "foo.com",
		Registrar:        "Example Registrar, Inc.",
		Nameservers:      []string{"ns1.example.net", "ns2.example.net"},
		ExpirationDate:   "2027-03-01 12:00:00 +0000",
		DaysUntilExpires: &days,
	})
	result.Errors = append(result.Errors, types.PhaseError{Phase: types.PhaseAddress, Message: "NXDOMAIN"})

	expected := `Address:
    foo.com is not resolvable
Domain: foo.com
    Registrar: Example Registrar, Inc.
    Nameservers: ns1.example.net, ns2.example.net
    Expires: 2027-03-01 12:00:00 +0000 (42 days)
Host not found
Errors:
    address: NXDOMAIN`
	assert.Equal(t, expected, render(t, result))
}

func TestTextHostNotFoundWithAddress(t *testing.T) {
	result := types.NewResult("run-1", "192.0.2.10")
	result.Found.Set(types.FactAddress, "192.0.2.10")
	result.Found.SetNotFound(types.FactHost, types.HostNotFound)

	assert.Equal(t, "Host:\n    ip-address: 192.0.2.10\n    Host not found", render(t, result))
}

func TestTextEC2Addresses(t *testing.T) {
	result := types.NewResult("run-1", "203.0.113.10")
	result.Found.Set(types.FactAddress, "203.0.113.10")
	result.Resources.Upsert(types.Resource{
		Key:  "arn:aws:ec2:us-east-1:1:instance/i-1",
		Type: types.ResourceTypeEC2Instance,
		Data: map[string]any{
			"id":          "i-1",
			"public_ips":  []any{"203.0.113.10"},
			"private_ips": []any{"10.0.0.10"},
		},
	}, false)
	result.Found.SetRef(types.FactHost, "arn:aws:ec2:us-east-1:1:instance/i-1")

	out := render(t, result)
	assert.Contains(t, out, "203.0.113.10 is hosted on an EC2 instance")
	assert.Contains(t, out, "        public:\n            203.0.113.10\n        private:\n            10.0.0.10")
}

func TestJSONAndYAML(t *testing.T) {
	result := novaResult(map[string]any{"id": "1000B"})

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, result, "JSON"))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "instance.nova.local", decoded["target"])
	found := decoded["found"].(map[string]any)
	assert.Equal(t, map[string]any{"resource": "https://servers/path"}, found["Host"])

	buf.Reset()
	require.NoError(t, Render(&buf, result, FormatYAML))
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "run-1", doc["id"])
	assert.Contains(t, doc["resources"], "https://servers/path")
}

func TestUnsupportedFormat(t *testing.T) {
	err := Render(&bytes.Buffer{}, types.NewResult("run-1", "foo.com"), "xml")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestRenderTemplateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brief.tmpl")
	require.NoError(t, os.WriteFile(path, []byte(`{{.Result.Target}} -> {{with .Host}}{{.ID}}{{end}}`), 0o600))

	var buf bytes.Buffer
	require.NoError(t, RenderTemplateFile(&buf, novaResult(map[string]any{"id": "1000B"}), path))
	assert.Equal(t, "instance.nova.local -> 1000B", buf.String())

	assert.Error(t, RenderTemplateFile(&buf, novaResult(nil), filepath.Join(t.TempDir(), "missing.tmpl")))
}
