package types

import (
	"fmt"
	"time"
)

type Phase string

const (
	PhaseTarget       Phase = "target"
	PhaseAddress      Phase = "address"
	PhaseDomain       Phase = "domain"
	PhaseControlPlane Phase = "control-plane"
	PhaseDataPlane    Phase = "data-plane"
)

// Fact names recorded in Found.
const (
	FactAddress        = "Address"
	FactDomain         = "Domain"
	FactHost           = "Host"
	FactHostCandidates = "Host-Candidates"
)

// Resource type vocabulary. Names follow Heat resource types so that
// template generators can consume them without translation.
const (
	ResourceTypeNovaServer   = "OS::Nova::Server"
	ResourceTypeEC2Instance  = "AWS::EC2::Instance"
	ResourceTypeCacheCluster = "AWS::ElastiCache::CacheCluster"
)

// HostNotFound is the reason recorded when no control-plane plugin
// claims the target address.
const HostNotFound = "Host not found"

// TimeFormat is the layout used for timestamps rendered inside facts.
const TimeFormat = "2006-01-02 15:04:05 +0000"

// PhaseError is a soft failure recorded during a discovery run.
type PhaseError struct {
	Phase   Phase  `json:"phase" yaml:"phase"`
	Plugin  string `json:"plugin,omitempty" yaml:"plugin,omitempty"`
	Message string `json:"message" yaml:"message"`
}

func (e PhaseError) String() string {
	if e.Plugin != "" {
		return fmt.Sprintf("%s (%s): %s", e.Phase, e.Plugin, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Phase, e.Message)
}

// DomainInfo is the inline value stored under Found["Domain"].
type DomainInfo struct {
	Name             string   `json:"name" yaml:"name"`
	Registrar        string   `json:"registrar,omitempty" yaml:"registrar,omitempty"`
	Nameservers      []string `json:"nameservers" yaml:"nameservers"`
	ExpirationDate   string   `json:"expiration_date,omitempty" yaml:"expiration_date,omitempty"`
	DaysUntilExpires *int     `json:"days_until_expires,omitempty" yaml:"days_until_expires,omitempty"`
	Whois            string   `json:"whois,omitempty" yaml:"-"`
}

// Result is the snapshot produced by one discovery run.
type Result struct {
	ID        string       `json:"id" yaml:"id"`
	Target    string       `json:"target" yaml:"target"`
	Started   time.Time    `json:"started" yaml:"started"`
	Finished  time.Time    `json:"finished" yaml:"finished"`
	Found     *Found       `json:"found" yaml:"found"`
	Resources *Resources   `json:"resources" yaml:"resources"`
	Errors    []PhaseError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// NewResult returns an empty result for target.
func NewResult(id, target string) *Result {
	return &Result{
		ID:        id,
		Target:    target,
		Found:     NewFound(),
		Resources: NewResources(),
	}
}

// Validate checks that every reference in Found resolves to a resource.
func (r *Result) Validate() error {
	for _, name := range r.Found.Keys() {
		fact, _ := r.Found.Get(name)
		for _, key := range fact.Refs {
			if _, ok := r.Resources.Get(key); !ok {
				return fmt.Errorf("fact %q references unknown resource %q", name, key)
			}
		}
	}
	return nil
}

// Host returns the resource linked from Found["Host"], if any.
func (r *Result) Host() (Resource, bool) {
	fact, ok := r.Found.Get(FactHost)
	if !ok || !fact.IsRef() {
		return Resource{}, false
	}
	return r.Resources.Get(fact.Refs[0])
}

// Address returns the inline address fact, or "" when absent.
func (r *Result) Address() string {
	fact, ok := r.Found.Get(FactAddress)
	if !ok {
		return ""
	}
	s, _ := fact.Value.(string)
	return s
}

// Clone returns a deep copy that shares no mutable state with r.
func (r *Result) Clone() *Result {
	out := *r
	out.Found = r.Found.clone()
	out.Resources = r.Resources.clone()
	out.Errors = append([]PhaseError(nil), r.Errors...)
	return &out
}

// Target is the parsed form of the identifier a run was asked about.
type Target struct {
	Raw  string `json:"raw" yaml:"raw"`
	Host string `json:"host" yaml:"host"`
	IsIP bool   `json:"is_ip" yaml:"is_ip"`
	// Domain is the registered domain of Host, empty for IPs and
	// single-label names.
	Domain string `json:"domain,omitempty" yaml:"domain,omitempty"`
}
