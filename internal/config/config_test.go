package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"datadb/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datadb.ini")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FullProfile(t *testing.T) {
	path := writeConfig(t, `
[gitea]
uri = rsync://sync@backups.example.com:2222/infra/gitea
dir = /srv/gitea/data
keep = 3
exclude = tmp, cache ,, log/*.gz
inplace = true
timeout = 45m
`)
	profiles, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("got %d profiles, want 1", len(profiles))
	}
	p := profiles[0]
	if p.Name != "gitea" || p.Protocol != config.ProtocolRsync {
		t.Fatalf("name/protocol = %q/%q", p.Name, p.Protocol)
	}
	if p.RemoteUser != "sync" || p.RemoteHost != "backups.example.com" || p.RemotePort != 2222 {
		t.Fatalf("remote = %q@%q:%d", p.RemoteUser, p.RemoteHost, p.RemotePort)
	}
	if p.BackupName != "infra/gitea" {
		t.Fatalf("BackupName = %q, want infra/gitea", p.BackupName)
	}
	if p.LocalDir != "/srv/gitea/data" || p.Keep != 3 || !p.Inplace {
		t.Fatalf("dir/keep/inplace = %q/%d/%v", p.LocalDir, p.Keep, p.Inplace)
	}
	if want := []string{"tmp", "cache", "log/*.gz"}; !reflect.DeepEqual(p.Exclude, want) {
		t.Fatalf("Exclude = %v, want %v", p.Exclude, want)
	}
	if p.Timeout != 45*time.Minute {
		t.Fatalf("Timeout = %v, want 45m", p.Timeout)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
[mail]
uri = archive://vault.example.com/mail
dir = /var/mail
`)
	profiles, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	p := profiles[0]
	if p.Keep != 5 {
		t.Fatalf("Keep = %d, want default 5", p.Keep)
	}
	if p.RemotePort != 0 || p.RemoteUser != "" {
		t.Fatalf("port/user = %d/%q, want zero values", p.RemotePort, p.RemoteUser)
	}
	if p.Inplace || p.Timeout != 0 || len(p.Exclude) != 0 {
		t.Fatalf("unexpected non-defaults: %+v", p)
	}
	if p.Protocol != config.ProtocolArchive {
		t.Fatalf("Protocol = %q, want archive", p.Protocol)
	}
}

func TestLoad_SortedAndFind(t *testing.T) {
	path := writeConfig(t, `
[zulu]
uri = rsync://h.example.com/zulu
dir = /srv/zulu

[alpha]
uri = rsync://h.example.com/alpha
dir = /srv/alpha
`)
	profiles, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if want := []string{"alpha", "zulu"}; !reflect.DeepEqual(profiles.Names(), want) {
		t.Fatalf("Names = %v, want %v", profiles.Names(), want)
	}
	if _, ok := profiles.Find("zulu"); !ok {
		t.Fatalf("Find(zulu) = not found")
	}
	if _, ok := profiles.Find("nope"); ok {
		t.Fatalf("Find(nope) found a profile")
	}
}

func TestLoad_IgnoredLegacyKeys(t *testing.T) {
	path := writeConfig(t, `
[www]
uri = rsync://h.example.com/www
dir = /srv/www
auth = s3cret
restore_preexec = service nginx stop
export_postexec = wall done
`)
	profiles, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	want := []string{"auth", "restore_preexec", "export_postexec"}
	if !reflect.DeepEqual(profiles[0].Ignored, want) {
		t.Fatalf("Ignored = %v, want %v", profiles[0].Ignored, want)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing uri", "[a]\ndir = /srv/a\n", "missing required key \"uri\""},
		{"missing dir", "[a]\nuri = rsync://h/a\n", "missing required key \"dir\""},
		{"unknown protocol", "[a]\nuri = ftp://h/a\ndir = /srv/a\n", "unknown protocol"},
		{"missing host", "[a]\nuri = rsync:///a\ndir = /srv/a\n", "missing remote host"},
		{"missing backup name", "[a]\nuri = rsync://h/\ndir = /srv/a\n", "missing backup name"},
		{"dotdot backup name", "[a]\nuri = rsync://h/../etc\ndir = /srv/a\n", "bad backup name"},
		{"bad port", "[a]\nuri = rsync://h:99999/a\ndir = /srv/a\n", "bad port"},
		{"keep not integer", "[a]\nuri = rsync://h/a\ndir = /srv/a\nkeep = many\n", "invalid keep"},
		{"keep negative", "[a]\nuri = rsync://h/a\ndir = /srv/a\nkeep = -1\n", "must be >= 0"},
		{"inplace on archive", "[a]\nuri = archive://h/a\ndir = /srv/a\ninplace = true\n", "rsync profiles only"},
		{"bad timeout", "[a]\nuri = rsync://h/a\ndir = /srv/a\ntimeout = soon\n", "invalid timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			var cerr *config.Error
			if !errors.As(err, &cerr) {
				t.Fatalf("error type = %T, want *config.Error", err)
			}
			if cerr.Profile != "a" {
				t.Fatalf("Profile = %q, want a", cerr.Profile)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.ini"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoad_KeepZeroDisablesRetention(t *testing.T) {
	path := writeConfig(t, "[a]\nuri = rsync://h/a\ndir = /srv/a\nkeep = 0\n")
	profiles, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if profiles[0].Keep != 0 {
		t.Fatalf("Keep = %d, want 0", profiles[0].Keep)
	}
}

func TestProfileURI_RoundTrip(t *testing.T) {
	path := writeConfig(t, "[a]\nuri = archive://vault.example.com:8443/a\ndir = /srv/a\n")
	profiles, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := profiles[0].URI(); got != "archive://vault.example.com:8443/a" {
		t.Fatalf("URI = %q", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv(config.EnvKeyPath, "")
	t.Setenv(config.EnvHTTPAPI, "")
	if got := config.Path(); got != config.DefaultConfigPath {
		t.Fatalf("Path = %q, want default", got)
	}
	if got := config.KeyPath(); got != config.DefaultKeyPath {
		t.Fatalf("KeyPath = %q, want default", got)
	}
	if got := config.HTTPAPI(); got != "" {
		t.Fatalf("HTTPAPI = %q, want empty", got)
	}

	t.Setenv(config.EnvConfigPath, "/tmp/alt.ini")
	t.Setenv(config.EnvKeyPath, "/tmp/alt.key")
	t.Setenv(config.EnvHTTPAPI, "http://vault:9999/")
	if got := config.Path(); got != "/tmp/alt.ini" {
		t.Fatalf("Path = %q", got)
	}
	if got := config.KeyPath(); got != "/tmp/alt.key" {
		t.Fatalf("KeyPath = %q", got)
	}
	if got := config.HTTPAPI(); got != "http://vault:9999/" {
		t.Fatalf("HTTPAPI = %q", got)
	}
}
