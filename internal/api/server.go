// Package api exposes discovery over HTTP.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/CodeMonkeyCybersecurity/satori/internal/config"
	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/satori/internal/discovery"
	"github.com/CodeMonkeyCybersecurity/satori/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/internal/output"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
	"github.com/gin-gonic/gin"
)

// Version is reported by /health.
var Version = "dev"

type Discoverer interface {
	Discover(ctx context.Context, req discovery.Request) (*types.Result, error)
}

type PluginDescriber interface {
	Describe(creds credentials.Bundle) []plugins.Info
}

type Server struct {
	engine  Discoverer
	plugins PluginDescriber
	cfg     *config.Config
	logger  *logger.Logger
}

func NewServer(engine Discoverer, reg PluginDescriber, cfg *config.Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		engine:  engine,
		plugins: reg,
		cfg:     cfg,
		logger:  log.WithComponent("api"),
	}
}

// Router builds the gin engine serving /health and the /v1 routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware(s.logger))

	router.GET("/health", s.health)

	v1 := router.Group("/v1")
	if s.cfg.Server.APIKey != "" {
		v1.Use(AuthMiddleware(s.cfg.Server.APIKey, s.logger))
	}
	v1.Use(RateLimitMiddleware(s.cfg.Server))
	{
		v1.GET("/plugins", s.listPlugins)
		v1.POST("/discover", s.discover)
	}

	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"healthy":   true,
		"version":   Version,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) listPlugins(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"plugins": s.plugins.Describe(credentials.Bundle{}),
	})
}

// DiscoverRequest is the body of POST /v1/discover.
type DiscoverRequest struct {
	Target      string             `json:"target" binding:"required"`
	Credentials credentials.Bundle `json:"credentials"`
	SystemInfo  []string           `json:"system_info,omitempty"`
	Exhaustive  bool               `json:"exhaustive,omitempty"`
}

func (s *Server) discover(c *gin.Context) {
	var body DiscoverRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := checkRemoteCredentials(body.Credentials); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	format := c.DefaultQuery("format", output.FormatJSON)
	if !validFormat(format) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported output format " + format})
		return
	}

	ctx := c.Request.Context()
	if !s.cfg.Server.AllowPrivateEndpoints {
		ctx = httpclient.RestrictPrivate(ctx)
	}
	if s.cfg.Discovery.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Discovery.Timeout)
		defer cancel()
	}

	result, err := s.engine.Discover(ctx, discovery.Request{
		Target:      body.Target,
		Credentials: body.Credentials,
		SystemInfo:  body.SystemInfo,
		Exhaustive:  body.Exhaustive,
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.LogError(ctx, err, "api.discover", "target", body.Target)
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if format == output.FormatJSON {
		c.JSON(http.StatusOK, result)
		return
	}

	var buf bytes.Buffer
	if err := output.Render(&buf, result, format); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	contentType := "text/plain; charset=utf-8"
	if format == output.FormatYAML {
		contentType = "application/yaml"
	}
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// checkRemoteCredentials rejects settings that would make a run use the
// server's own files, profiles or trust decisions. Secrets must travel
// inline in the request.
func checkRemoteCredentials(b credentials.Bundle) error {
	if b.AWS != nil {
		if b.AWS.Profile != "" {
			return errors.New("aws.profile is not accepted over the API; send access keys instead")
		}
		if b.AWS.AccessKeyID == "" {
			return errors.New("aws.access_key_id is required over the API")
		}
	}
	if b.SSH == nil {
		return nil
	}
	fields := []struct {
		name string
		set  bool
	}{
		{"ssh.private_key_file", b.SSH.PrivateKeyFile != ""},
		{"ssh.key_dir", b.SSH.KeyDir != ""},
		{"ssh.known_hosts_file", b.SSH.KnownHostsFile != ""},
		{"ssh.insecure_ignore_host_key", b.SSH.InsecureIgnoreHostKey},
	}
	for _, f := range fields {
		if f.set {
			return fmt.Errorf("%s is not accepted over the API; send ssh.private_key instead", f.name)
		}
	}
	return nil
}

func validFormat(format string) bool {
	for _, f := range output.Formats() {
		if f == format {
			return true
		}
	}
	return false
}

func statusFor(err error) int {
	switch {
	case discovery.IsUsageError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
