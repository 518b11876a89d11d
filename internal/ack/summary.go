package ack

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Report kinds produced by Summarize.
const (
	KindInstalledApplications = "InstalledApplicationList"
	KindProfiles              = "ProfileList"
	KindProvisioningProfiles  = "ProvisioningProfileList"
	KindCertificates          = "CertificateList"
	KindSecurityInfo          = "SecurityInfo"
	KindGeneric               = "DecodedPayload"
)

// Report is a human-readable rendering of one decoded payload.
type Report struct {
	Kind  string
	Title string
	Lines []string
}

type shape struct {
	key    string
	title  string
	render func(v any) []string
}

// Known report shapes, checked in order; the first key present wins.
var shapes = []shape{
	{KindInstalledApplications, "Installed Apps", renderApplications},
	{KindProfiles, "Installed Profiles", renderProfiles},
	{KindProvisioningProfiles, "Installed Provisioning Profiles", renderProvisioningProfiles},
	{KindCertificates, "Installed Certificates", renderCertificates},
	{KindSecurityInfo, "Security Status", renderSecurityInfo},
}

// Summarize renders doc using the first known inventory shape it carries,
// or a generic YAML dump of the whole document.
func Summarize(doc map[string]any) Report {
	for _, s := range shapes {
		if v, ok := doc[s.key]; ok {
			return Report{Kind: s.key, Title: s.title, Lines: s.render(v)}
		}
	}
	return Report{Kind: KindGeneric, Title: "Decoded Payload", Lines: dumpYAML(doc)}
}

func renderApplications(v any) []string {
	var lines []string
	for i, app := range dictList(v) {
		version := firstOf(app, "", "ShortVersion", "Version", "BundleVersion")
		lines = append(lines, fmt.Sprintf("[%d] %s (%s) v%s",
			i,
			firstOf(app, "Unknown", "Name"),
			firstOf(app, "Unknown", "Identifier"),
			version,
		))
	}
	return lines
}

func renderProfiles(v any) []string {
	var lines []string
	for i, profile := range dictList(v) {
		encryption := "unencrypted"
		if b, _ := profile["IsEncrypted"].(bool); b {
			encryption = "encrypted"
		}
		lines = append(lines, fmt.Sprintf("[%d] %s (%s) %s",
			i,
			firstOf(profile, "N/A", "PayloadIdentifier"),
			firstOf(profile, "N/A", "PayloadDisplayName"),
			encryption,
		))
	}
	return lines
}

func renderProvisioningProfiles(v any) []string {
	var lines []string
	for i, prov := range dictList(v) {
		name := firstOf(prov, "N/A", "PayloadDisplayName", "Name")
		line := fmt.Sprintf("[%d] %s (%s)", i, firstOf(prov, "N/A", "PayloadIdentifier", "UUID"), name)
		if expiry, ok := prov["ExpiryDate"].(time.Time); ok {
			line += " expires " + expiry.UTC().Format(time.RFC3339)
		}
		lines = append(lines, line)
	}
	return lines
}

func renderCertificates(v any) []string {
	var lines []string
	for i, cert := range dictList(v) {
		line := fmt.Sprintf("[%d] CN: %s", i, firstOf(cert, "N/A", "CommonName"))
		if root, _ := cert["IsRoot"].(bool); root {
			line += " [ROOT]"
		}
		lines = append(lines, line)
	}
	return lines
}

func renderSecurityInfo(v any) []string {
	info, ok := v.(map[string]any)
	if !ok {
		return []string{formatValue(v)}
	}
	keys := sortedKeys(info)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, formatValue(info[k])))
	}
	return lines
}

// dumpYAML renders doc as YAML lines with plist-only types made printable.
func dumpYAML(doc map[string]any) []string {
	out, err := yaml.Marshal(normalize(doc))
	if err != nil {
		// Marshal of normalized plist values cannot fail in practice; keep a
		// flat rendering as a fallback.
		keys := sortedKeys(doc)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %s", k, formatValue(doc[k])))
		}
		return lines
	}
	return strings.Split(strings.TrimRight(string(out), "\n"), "\n")
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(t))
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return t
	}
}

// formatValue renders a plist value on one line.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		if len(t) <= 16 {
			return base64.StdEncoding.EncodeToString(t)
		}
		return fmt.Sprintf("<%d bytes>", len(t))
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case map[string]any:
		keys := sortedKeys(t)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+formatValue(t[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, formatValue(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(t)
	}
}

func dictList(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// firstOf returns the first present key's value rendered as text, or def.
func firstOf(m map[string]any, def string, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return formatValue(v)
		}
	}
	return def
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
