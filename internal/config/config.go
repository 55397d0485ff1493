// Package config loads backup profiles from the datadb INI file.
//
// Each [section] defines one profile:
//
//	[gitea]
//	uri = rsync://backups.example.com/gitea
//	dir = /srv/gitea/data
//	keep = 5
//	exclude = tmp,cache
//
// The keys auth, restore_preexec, restore_postexec, export_preexec and
// export_postexec are accepted for compatibility with old configs but are not
// interpreted.
package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Environment overrides. Together with the key and endpoint variables these
// are the only deployment seams; everything else comes from the config file.
const (
	EnvConfigPath = "DATADB_CONF"
	EnvKeyPath    = "DATADB_KEYPATH"
	EnvHTTPAPI    = "DATADB_HTTP_API"
	EnvLogLevel   = "DATADB_LOG_LEVEL"
)

const (
	DefaultConfigPath = "/etc/datadb.ini"
	DefaultKeyPath    = "/root/.ssh/datadb.key"

	defaultKeep = 5
)

// Protocol selects the transport for a profile.
type Protocol string

const (
	ProtocolRsync   Protocol = "rsync"
	ProtocolArchive Protocol = "archive"
)

// ignoredKeys are accepted but never interpreted (hooks, auth and the old
// server-side knobs are out of scope).
var ignoredKeys = []string{
	"auth",
	"restore_preexec", "restore_postexec",
	"export_preexec", "export_postexec",
}

// Profile is one named backup task, immutable for the whole invocation.
type Profile struct {
	Name       string
	Protocol   Protocol
	RemoteUser string // URI userinfo; transports apply their own default
	RemoteHost string
	RemotePort int // 0 when the URI has no explicit port
	BackupName string
	LocalDir   string
	Keep       int
	Exclude    []string // pushed to rsync/tar --exclude, backup only
	Inplace    bool     // rsync only: single remote copy, no history
	Timeout    time.Duration

	// Ignored lists legacy keys present in the section that datadb accepts
	// but does not act on.
	Ignored []string
}

// URI reassembles the canonical profile URI.
func (p Profile) URI() string {
	host := p.RemoteHost
	if p.RemotePort != 0 {
		host = fmt.Sprintf("%s:%d", host, p.RemotePort)
	}
	return fmt.Sprintf("%s://%s/%s", p.Protocol, host, p.BackupName)
}

// Profiles is the loaded profile set, sorted by name.
type Profiles []Profile

// Find returns the profile with the given name.
func (ps Profiles) Find(name string) (Profile, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Names returns all profile names in order.
func (ps Profiles) Names() []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

// Error reports an invalid or missing profile field. It is always detected
// before any local or remote I/O happens.
type Error struct {
	Profile string
	Reason  string
}

func (e *Error) Error() string {
	if e.Profile == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("profile %q: %s", e.Profile, e.Reason)
}

// Load reads every profile from the INI file at path. A single malformed
// profile fails the whole load so that bad configuration never reaches the
// engine.
func Load(path string) (Profiles, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	var out Profiles
	for _, sec := range file.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		p, err := parseProfile(sec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func parseProfile(sec *ini.Section) (Profile, error) {
	name := sec.Name()
	p := Profile{Name: name, Keep: defaultKeep}

	uri := strings.TrimSpace(sec.Key("uri").String())
	if uri == "" {
		return p, &Error{Profile: name, Reason: "missing required key \"uri\""}
	}
	if err := parseURI(&p, uri); err != nil {
		return p, &Error{Profile: name, Reason: err.Error()}
	}

	p.LocalDir = strings.TrimSpace(sec.Key("dir").String())
	if p.LocalDir == "" {
		return p, &Error{Profile: name, Reason: "missing required key \"dir\""}
	}

	if sec.HasKey("keep") {
		keep, err := sec.Key("keep").Int()
		if err != nil {
			return p, &Error{Profile: name, Reason: fmt.Sprintf("invalid keep %q: not an integer", sec.Key("keep").String())}
		}
		if keep < 0 {
			return p, &Error{Profile: name, Reason: fmt.Sprintf("invalid keep %d: must be >= 0", keep)}
		}
		p.Keep = keep
	}

	for _, pat := range strings.Split(sec.Key("exclude").String(), ",") {
		if pat = strings.TrimSpace(pat); pat != "" {
			p.Exclude = append(p.Exclude, pat)
		}
	}

	if sec.HasKey("inplace") {
		inplace, err := sec.Key("inplace").Bool()
		if err != nil {
			return p, &Error{Profile: name, Reason: fmt.Sprintf("invalid inplace %q: not a boolean", sec.Key("inplace").String())}
		}
		if inplace && p.Protocol != ProtocolRsync {
			return p, &Error{Profile: name, Reason: "inplace applies to rsync profiles only"}
		}
		p.Inplace = inplace
	}

	if sec.HasKey("timeout") {
		d, err := time.ParseDuration(sec.Key("timeout").String())
		if err != nil || d < 0 {
			return p, &Error{Profile: name, Reason: fmt.Sprintf("invalid timeout %q: want a duration like 30m", sec.Key("timeout").String())}
		}
		p.Timeout = d
	}

	for _, k := range ignoredKeys {
		if sec.HasKey(k) {
			p.Ignored = append(p.Ignored, k)
		}
	}
	return p, nil
}

func parseURI(p *Profile, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid uri %q: %v", raw, err)
	}
	switch Protocol(u.Scheme) {
	case ProtocolRsync, ProtocolArchive:
		p.Protocol = Protocol(u.Scheme)
	default:
		return fmt.Errorf("invalid uri %q: unknown protocol %q (want rsync or archive)", raw, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("invalid uri %q: missing remote host", raw)
	}
	p.RemoteHost = u.Hostname()
	if port := u.Port(); port != "" {
		n, err := parsePort(port)
		if err != nil {
			return fmt.Errorf("invalid uri %q: %v", raw, err)
		}
		p.RemotePort = n
	}
	if u.User != nil {
		p.RemoteUser = u.User.Username()
	}
	name, err := parseBackupName(u.Path)
	if err != nil {
		return fmt.Errorf("invalid uri %q: %v", raw, err)
	}
	p.BackupName = name
	return nil
}

func parsePort(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("bad port %q", s)
	}
	return n, nil
}

// parseBackupName validates the remote collection identifier. Nested names
// are allowed; dot-dot components are not, since the name becomes a remote
// path segment.
func parseBackupName(path string) (string, error) {
	name := strings.Trim(path, "/")
	if name == "" {
		return "", fmt.Errorf("missing backup name in uri path")
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("bad backup name %q", name)
		}
	}
	return name, nil
}
