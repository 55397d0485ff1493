package config

import "os"

// Path returns the config file location, honoring DATADB_CONF.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}

// KeyPath returns the SSH identity file used for rsync profiles, honoring
// DATADB_KEYPATH.
func KeyPath() string {
	if p := os.Getenv(EnvKeyPath); p != "" {
		return p
	}
	return DefaultKeyPath
}

// HTTPAPI returns the archive endpoint override from DATADB_HTTP_API, or ""
// when the endpoint should be derived from the profile URI.
func HTTPAPI() string {
	return os.Getenv(EnvHTTPAPI)
}
