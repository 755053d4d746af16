package output

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

// view is what text templates are executed against.
type view struct {
	Result  *types.Result
	Address string
	Domain  *domainView
	Host    *hostView
	Errors  []string
}

type domainView struct {
	Name        string
	Registrar   string
	Nameservers []string
	Expires     string
}

type hostView struct {
	Summary    string
	Note       string
	ShowInfo   bool
	URI        string
	Name       string
	ID         string
	Networks   []networkView
	Services   []string
	Peers      []string
	Candidates []string
}

type networkView struct {
	Name      string
	Addresses []string
}

var hostKinds = map[string]string{
	types.ResourceTypeNovaServer:   "a Nova instance",
	types.ResourceTypeEC2Instance:  "an EC2 instance",
	types.ResourceTypeCacheCluster: "an ElastiCache cluster",
}

func newView(result *types.Result) view {
	v := view{Result: result}
	if result == nil {
		return v
	}

	host := targetHost(result.Target)
	address := result.Address()

	if fact, ok := result.Found.Get(types.FactAddress); ok {
		switch {
		case fact.IsNotFound():
			v.Address = fact.NotFound
		case address != host:
			v.Address = fmt.Sprintf("%s resolves to %s address %s", host, ipVersion(address), address)
		}
	}

	if fact, ok := result.Found.Get(types.FactDomain); ok {
		if info, ok := fact.Value.(types.DomainInfo); ok {
			v.Domain = newDomainView(info)
		}
	}

	if res, ok := result.Host(); ok {
		v.Host = newHostView(res, host, address)
		if fact, ok := result.Found.Get(types.FactHostCandidates); ok {
			v.Host.Candidates = fact.Refs
		}
	} else if address != "" {
		v.Host = &hostView{Summary: "ip-address: " + address}
		if fact, ok := result.Found.Get(types.FactHost); ok && fact.IsNotFound() {
			v.Host.Note = fact.NotFound
		}
	}

	for _, e := range result.Errors {
		v.Errors = append(v.Errors, e.String())
	}
	return v
}

func newDomainView(info types.DomainInfo) *domainView {
	d := &domainView{
		Name:        info.Name,
		Registrar:   info.Registrar,
		Nameservers: info.Nameservers,
		Expires:     info.ExpirationDate,
	}
	if d.Expires != "" && info.DaysUntilExpires != nil {
		d.Expires = fmt.Sprintf("%s (%d days)", d.Expires, *info.DaysUntilExpires)
	}
	return d
}

func newHostView(res types.Resource, host, address string) *hostView {
	kind, ok := hostKinds[res.Type]
	if !ok {
		kind = "a " + res.Type
	}
	hv := &hostView{
		Summary: fmt.Sprintf("%s (%s) is hosted on %s", address, host, kind),
	}
	if address == host {
		hv.Summary = fmt.Sprintf("%s is hosted on %s", address, kind)
	}

	uri, _ := res.Data["uri"].(string)
	name, _ := res.Data["name"].(string)
	id, _ := res.Data["id"].(string)
	if uri != "" || name != "" || id != "" {
		hv.ShowInfo = true
		hv.URI = orNA(uri)
		hv.Name = orNA(name)
		hv.ID = orNA(id)
	}

	hv.Networks = networks(res.Data)

	if info, ok := res.Data["system_info"].(map[string]any); ok {
		hv.Services = services(info["remote_services"])
		hv.Peers = peers(info["connections"])
	}
	return hv
}

// networks reads Nova-style {"net": [{"addr": ...}]} documents, or the
// public_ips/private_ips lists of AWS resources.
func networks(data map[string]any) []networkView {
	var out []networkView
	if addrs, ok := data["addresses"].(map[string]any); ok {
		names := make([]string, 0, len(addrs))
		for name := range addrs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			entries, _ := addrs[name].([]any)
			nv := networkView{Name: name}
			for _, entry := range entries {
				fields, _ := entry.(map[string]any)
				if addr, ok := fields["addr"].(string); ok {
					nv.Addresses = append(nv.Addresses, addr)
				}
			}
			if len(nv.Addresses) > 0 {
				out = append(out, nv)
			}
		}
		return out
	}

	for _, field := range []struct{ key, name string }{{"public_ips", "public"}, {"private_ips", "private"}} {
		list, _ := data[field.key].([]any)
		nv := networkView{Name: field.name}
		for _, ip := range list {
			if s, ok := ip.(string); ok {
				nv.Addresses = append(nv.Addresses, s)
			}
		}
		if len(nv.Addresses) > 0 {
			out = append(out, nv)
		}
	}
	return out
}

func services(raw any) []string {
	list, _ := raw.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		svc, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, fmt.Sprintf("%v:%v  %v", svc["ip"], svc["port"], svc["process"]))
	}
	return out
}

// peers lists connection peers in descending address order.
func peers(raw any) []string {
	conns, _ := raw.(map[string]any)
	ips := make([]string, 0, len(conns))
	for ip := range conns {
		ips = append(ips, ip)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ips)))

	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		ports, _ := conns[ip].([]any)
		if len(ports) == 0 {
			out = append(out, ip)
			continue
		}
		parts := make([]string, len(ports))
		for i, p := range ports {
			parts[i] = fmt.Sprint(p)
		}
		out = append(out, fmt.Sprintf("%s on %s", ip, strings.Join(parts, ", ")))
	}
	return out
}

func targetHost(target string) string {
	if strings.Contains(target, "://") {
		if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return target
}

func ipVersion(address string) string {
	if ip := net.ParseIP(address); ip != nil && ip.To4() == nil {
		return "IPv6"
	}
	return "IPv4"
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
