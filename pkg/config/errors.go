package config

import "fmt"

// ConfigError reports a configuration that makes a batch impossible to
// start. It is raised before any network activity.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// ValidateSync performs the checks the upload engine relies on, independent
// of how the snapshot was produced.
func ValidateSync(s *SyncConfig) error {
	if s == nil {
		return &ConfigError{Field: "sync", Reason: "missing"}
	}
	if s.LocalBasePath == "" {
		return &ConfigError{Field: "sync.local_base_path", Reason: "required"}
	}
	if len(s.Servers) == 0 {
		return &ConfigError{Field: "sync.servers", Reason: "at least one server is required"}
	}
	for i, srv := range s.Servers {
		if len(srv.RemoteDirPaths) == 0 {
			return &ConfigError{
				Field:  fmt.Sprintf("sync.servers[%d].remote_dir_paths", i),
				Reason: "at least one remote directory is required",
			}
		}
		if srv.Kind() != ServerTypeSFTP && srv.Kind() != ServerTypeS3 {
			return &ConfigError{
				Field:  fmt.Sprintf("sync.servers[%d].type", i),
				Reason: fmt.Sprintf("unsupported type %q", srv.Type),
			}
		}
	}
	return nil
}
