// Package sysinfo holds what the host inventory plugins share: their error
// kinds and the mapping of inventory documents onto the system_info block
// of a host resource.
package sysinfo

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/CodeMonkeyCybersecurity/satori/internal/remote"
)

var (
	// ErrCommandMissing means the inventory tool is not installed on the host.
	ErrCommandMissing = errors.New("system info command missing")
	// ErrNotJSON means the inventory tool ran but did not print a JSON document.
	ErrNotJSON = errors.New("system info output is not JSON")
	// ErrUnsupportedPlatform means the provider cannot run on the host's OS.
	ErrUnsupportedPlatform = remote.ErrUnsupportedPlatform
)

// Key is the resource data field the inventory is stored under.
const Key = "system_info"

// ParseJSON decodes an inventory document. When the output has banners or
// warnings around it, the outermost {...} span is tried.
func ParseJSON(output string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(output), &doc); err == nil {
		return doc, nil
	}

	first := strings.Index(output, "{")
	last := strings.LastIndex(output, "}")
	if first < 0 || last < first {
		return nil, fmt.Errorf("%w: no JSON object in output", ErrNotJSON)
	}
	if err := json.Unmarshal([]byte(output[first:last+1]), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return doc, nil
}

// Normalize maps an ohai-style document onto the fields every provider
// reports. The untouched document is kept under "ohai".
func Normalize(provider string, doc map[string]any) map[string]any {
	info := map[string]any{
		"provider":        provider,
		"remote_services": remoteServices(doc["remote_services"]),
		"connections":     connections(doc["connections"]),
		"ohai":            doc,
	}

	if hostname := firstString(doc, "fqdn", "hostname"); hostname != "" {
		info["hostname"] = hostname
	}

	platform := map[string]any{}
	for _, field := range []string{"platform", "platform_version", "platform_family", "os", "os_version", "kernel"} {
		if v, ok := doc[field]; ok && v != nil {
			platform[field] = v
		}
	}
	if len(platform) > 0 {
		info["platform"] = platform
	}

	return info
}

// RemoteService describes one listening socket.
type RemoteService struct {
	IP      string
	Port    int
	Process string
}

func (s RemoteService) toMap() map[string]any {
	return map[string]any{"ip": s.IP, "port": s.Port, "process": s.Process}
}

// Services converts services to the resource data representation.
func Services(services []RemoteService) []any {
	out := make([]any, 0, len(services))
	for _, s := range services {
		out = append(out, s.toMap())
	}
	return out
}

func remoteServices(raw any) []any {
	list, ok := raw.([]any)
	if !ok {
		return []any{}
	}
	services := make([]RemoteService, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		port, ok := toInt(entry["port"])
		if !ok {
			continue
		}
		ip, _ := entry["ip"].(string)
		process, _ := entry["process"].(string)
		services = append(services, RemoteService{IP: ip, Port: port, Process: process})
	}
	return Services(services)
}

// connections turns {"ip": [ports...]} into the same shape with integer
// ports in ascending order.
func connections(raw any) map[string]any {
	out := map[string]any{}
	peers, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	for ip, rawPorts := range peers {
		ports := []int{}
		if list, ok := rawPorts.([]any); ok {
			for _, p := range list {
				if port, ok := toInt(p); ok {
					ports = append(ports, port)
				}
			}
		}
		sort.Ints(ports)
		values := make([]any, len(ports))
		for i, p := range ports {
			values[i] = p
		}
		out[ip] = values
	}
	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func firstString(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := doc[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
