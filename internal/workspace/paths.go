package workspace

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.wasync.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wasync")
}

// Dir returns the per-session workspace directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SocketPath returns the UDS socket path for a session daemon.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// CredentialDBPath returns the whatsmeow credential store path.
// Its format is owned entirely by whatsmeow; we only place the file.
func CredentialDBPath(name string) string {
	return filepath.Join(Dir(name), "credentials.db")
}

// StoreDBPath returns the app-owned wasync.db path.
func StoreDBPath(name string) string {
	return filepath.Join(Dir(name), "wasync.db")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "wasyncd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session workspace tree with owner-only permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
