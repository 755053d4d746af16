package awsconfig

import (
	"context"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
)

func TestARN(t *testing.T) {
	assert.Equal(t, "arn:aws:ec2:us-east-1:123456789012:instance/i-0abc",
		ARN("ec2", "us-east-1", "123456789012", "instance/i-0abc"))
	assert.Equal(t, "arn:aws-cn:ec2:cn-north-1:1:instance/i-1",
		ARN("ec2", "cn-north-1", "1", "instance/i-1"))
	assert.Equal(t, "aws-us-gov", Partition("us-gov-west-1"))
}

func TestLoadStaticCredentials(t *testing.T) {
	cfg, err := Load(context.Background(), &credentials.AWS{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)

	got, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", got.AccessKeyID)
}

func TestLoadRequiresCredentials(t *testing.T) {
	_, err := Load(context.Background(), nil)
	assert.Error(t, err)
}

func TestLoadWithCustomCABundle(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	bundle := filepath.Join(t.TempDir(), "ca.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw})
	require.NoError(t, os.WriteFile(bundle, certPEM, 0o600))
	t.Setenv("AWS_CA_BUNDLE", bundle)

	cfg, err := Load(context.Background(), &credentials.AWS{
		Region:          "us-east-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	client, ok := cfg.HTTPClient.(*awshttp.BuildableClient)
	require.True(t, ok, "SDK config keeps the buildable client")
	transport := client.GetTransport()
	require.NotNil(t, transport.TLSClientConfig)
	assert.NotNil(t, transport.TLSClientConfig.RootCAs)
	assert.NotNil(t, transport.DialContext)
	assert.Equal(t, "satori", cfg.AppID)
}
