package display

import (
	"bytes"
	"errors"
	"testing"

	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func init() {
	color.NoColor = true
}

func TestPrintSoftErrors(t *testing.T) {
	var buf bytes.Buffer
	PrintSoftErrors(&buf, nil)
	assert.Empty(t, buf.String())

	PrintSoftErrors(&buf, []types.PhaseError{
		{Phase: types.PhaseDomain, Message: "whois: timed out"},
		{Phase: types.PhaseControlPlane, Plugin: "nova", Message: "401 Unauthorized"},
	})
	out := buf.String()
	assert.Contains(t, out, "2 step(s) failed")
	assert.Contains(t, out, "  ! domain: whois: timed out\n")
	assert.Contains(t, out, "  ! control-plane (nova): 401 Unauthorized\n")
}

func TestPrintPlugins(t *testing.T) {
	var buf bytes.Buffer
	PrintPlugins(&buf, []plugins.Info{
		{Name: "nova", Phase: types.PhaseControlPlane, Priority: 100, Ready: true},
		{Name: "portscan", Phase: types.PhaseDataPlane, Priority: 10},
	})
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "nova")
	assert.Contains(t, string(lines[0]), "✓ ready")
	assert.Contains(t, string(lines[1]), "missing credentials")
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, errors.New("boom"))
	assert.Equal(t, "Error: boom\n", buf.String())
}
