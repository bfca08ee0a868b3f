package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs as user with LaunchAgent (no sudo required)
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root with LaunchDaemon (sudo required)
	ExecModeSystem ExecMode = "system"
)

// LaunchdLabel is the launchd job label for appguard.
const LaunchdLabel = "com.focusd.appguard"

// ExecModeConfig holds install paths based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	BinaryPath string // Where the binary should be installed
	PlistDir   string // Where the plist file goes
	PlistPath  string // Full path to plist file
	IsRoot     bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return &ExecModeConfig{
			Mode:       ExecModeSystem,
			BinaryPath: "/usr/local/bin/appguard",
			PlistDir:   "/Library/LaunchDaemons",
			PlistPath:  filepath.Join("/Library/LaunchDaemons", LaunchdLabel+".plist"),
			IsRoot:     true,
		}
	}
	return userModeConfig(GetRealUserHome())
}

func userModeConfig(home string) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       ExecModeUser,
		BinaryPath: filepath.Join(home, ".local", "bin", "appguard"),
		PlistDir:   filepath.Join(home, "Library", "LaunchAgents"),
		PlistPath:  filepath.Join(home, "Library", "LaunchAgents", LaunchdLabel+".plist"),
		IsRoot:     false,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (LaunchDaemon, root)"
	case ExecModeUser:
		return "user (LaunchAgent, non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
