// Package credentials turns configuration into the credential bundle handed
// to discovery plugins and validates it before a run starts.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/satori/internal/config"
	"github.com/go-playground/validator/v10"
)

// OpenStack holds keystone credentials. All fields travel together: a
// partial set is a usage error.
type OpenStack struct {
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password" validate:"required"`
	TenantName string `json:"tenant_name,omitempty" validate:"required_without=TenantID"`
	TenantID   string `json:"tenant_id,omitempty" validate:"required_without=TenantName"`
	AuthURL    string `json:"auth_url" validate:"required,url"`
	Region     string `json:"region" validate:"required"`
	DomainName string `json:"domain_name,omitempty"`
}

type AWS struct {
	Region          string `json:"region" validate:"required"`
	Profile         string `json:"profile,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty" validate:"required_with=SecretAccessKey"`
	SecretAccessKey string `json:"secret_access_key,omitempty" validate:"required_with=AccessKeyID"`
	SessionToken    string `json:"session_token,omitempty"`
}

// SSH describes how to reach a Unix host for data-plane discovery.
type SSH struct {
	Username              string        `json:"username" validate:"required"`
	Password              string        `json:"password,omitempty"`
	PrivateKey            string        `json:"private_key,omitempty"`
	PrivateKeyFile        string        `json:"private_key_file,omitempty"`
	KeyDir                string        `json:"key_dir,omitempty"`
	Port                  int           `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	KnownHostsFile        string        `json:"known_hosts_file,omitempty"`
	InsecureIgnoreHostKey bool          `json:"insecure_ignore_host_key,omitempty"`
	ConnectTimeout        time.Duration `json:"connect_timeout,omitempty"`
}

type WinRM struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Port     int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	HTTPS    bool   `json:"https,omitempty"`
	Insecure bool   `json:"insecure,omitempty"`
	NTLM     bool   `json:"ntlm,omitempty"`
}

// Bundle is the resolved set of credentials for one run. A nil section
// means the caller supplied nothing for it.
type Bundle struct {
	OpenStack *OpenStack `json:"openstack,omitempty"`
	AWS       *AWS       `json:"aws,omitempty"`
	SSH       *SSH       `json:"ssh,omitempty"`
	WinRM     *WinRM     `json:"winrm,omitempty"`
}

// HasControlPlane reports whether any cloud credentials were supplied.
func (b Bundle) HasControlPlane() bool {
	return b.OpenStack != nil || b.AWS != nil
}

// HasHostAccess reports whether any host-level credentials were supplied.
func (b Bundle) HasHostAccess() bool {
	return b.SSH != nil || b.WinRM != nil
}

// FromConfig builds a bundle from configuration. Sections with no fields
// set are left nil.
func FromConfig(cfg *config.Config) Bundle {
	var b Bundle

	ks := cfg.OpenStack
	if anySet(ks.Username, ks.Password, ks.TenantName, ks.TenantID, ks.AuthURL, ks.Region) {
		b.OpenStack = &OpenStack{
			Username:   ks.Username,
			Password:   ks.Password,
			TenantName: ks.TenantName,
			TenantID:   ks.TenantID,
			AuthURL:    ks.AuthURL,
			Region:     ks.Region,
			DomainName: ks.DomainName,
		}
	}

	// Region alone is configuration, not a credential.
	aws := cfg.AWS
	if anySet(aws.Profile, aws.AccessKeyID, aws.SecretAccessKey) {
		b.AWS = &AWS{
			Region:          aws.Region,
			Profile:         aws.Profile,
			AccessKeyID:     aws.AccessKeyID,
			SecretAccessKey: aws.SecretAccessKey,
			SessionToken:    aws.SessionToken,
		}
	}

	host := cfg.Host
	if anySet(host.Username, host.Password, host.PrivateKeyFile) {
		b.SSH = &SSH{
			Username:              host.Username,
			Password:              host.Password,
			PrivateKeyFile:        host.PrivateKeyFile,
			KeyDir:                host.KeyDir,
			Port:                  host.Port,
			KnownHostsFile:        host.KnownHostsFile,
			InsecureIgnoreHostKey: host.InsecureIgnoreHostKey,
			ConnectTimeout:        host.ConnectTimeout,
		}
	}

	win := cfg.WinRM
	if anySet(win.Username, win.Password) {
		b.WinRM = &WinRM{
			Username: win.Username,
			Password: win.Password,
			Port:     win.Port,
			HTTPS:    win.HTTPS,
			Insecure: win.Insecure,
			NTLM:     win.NTLM,
		}
	}

	return b
}

func anySet(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

var validate = validator.New()

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		messages[i] = e.Message
	}
	return fmt.Sprintf("invalid credentials: %s", strings.Join(messages, "; "))
}

// Validate checks every supplied section and returns *ValidationErrors
// describing all problems at once.
func (b Bundle) Validate() error {
	all := &ValidationErrors{}

	sections := []struct {
		name  string
		value interface{}
		set   bool
	}{
		{"openstack", b.OpenStack, b.OpenStack != nil},
		{"aws", b.AWS, b.AWS != nil},
		{"ssh", b.SSH, b.SSH != nil},
		{"winrm", b.WinRM, b.WinRM != nil},
	}
	for _, s := range sections {
		if !s.set {
			continue
		}
		if err := validate.Struct(s.value); err != nil {
			var fieldErrs validator.ValidationErrors
			if !errors.As(err, &fieldErrs) {
				return err
			}
			for _, e := range fieldErrs {
				field := s.name + "." + toSnakeCase(e.Field())
				all.Errors = append(all.Errors, ValidationError{
					Field:   field,
					Message: formatValidationMessage(field, e),
				})
			}
		}
	}

	if b.SSH != nil && b.SSH.Password == "" && b.SSH.PrivateKeyFile == "" && b.SSH.PrivateKey == "" && b.SSH.KeyDir == "" {
		all.Errors = append(all.Errors, ValidationError{
			Field:   "ssh",
			Message: "ssh requires a password, a private key or a key directory",
		})
	}

	if len(all.Errors) > 0 {
		return all
	}
	return nil
}

func formatValidationMessage(field string, e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, toSnakeCase(e.Param()))
	case "required_without":
		return fmt.Sprintf("%s is required when %s is not set", field, toSnakeCase(e.Param()))
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}

func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				result.WriteByte('_')
			}
			result.WriteByte(byte(r + 'a' - 'A'))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// WithInheritedKey returns a copy of s that uses the key pair named by a
// discovered resource when the caller supplied no key or password of
// their own. Candidates are <key_dir>/<name>.pem and <key_dir>/<name>.
func (s *SSH) WithInheritedKey(keyName string) *SSH {
	out := *s
	if keyName == "" || s.KeyDir == "" || s.PrivateKey != "" || s.PrivateKeyFile != "" || s.Password != "" {
		return &out
	}
	for _, candidate := range []string{keyName + ".pem", keyName} {
		path := filepath.Join(s.KeyDir, filepath.Base(candidate))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			out.PrivateKeyFile = path
			break
		}
	}
	return &out
}
