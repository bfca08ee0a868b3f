package infra

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// The job runs `appguard start` at load, which spawns the enforcer and guardian.
// KeepAlive on crash covers the case where both daemons die together.
const plistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>start</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>
{{- if .Background}}

    <key>ProcessType</key>
    <string>Background</string>
{{- end}}

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>
`

const logDir = "/var/tmp"

type plistConfig struct {
	Label          string
	ExecutablePath string
	LogPath        string
	ErrorLogPath   string
	Background     bool
}

// LaunchdManagerImpl implements domain.LaunchAgentManager for both modes.
type LaunchdManagerImpl struct {
	mode      ExecMode
	plistDir  string
	plistPath string
	runner    CommandRunner
}

// NewLaunchdManager creates a launchd manager based on execution mode.
func NewLaunchdManager(config *ExecModeConfig) *LaunchdManagerImpl {
	return NewLaunchdManagerWithRunner(config, &RealCommandRunner{})
}

// NewLaunchdManagerWithRunner creates a manager with an injectable runner (for testing).
func NewLaunchdManagerWithRunner(config *ExecModeConfig, runner CommandRunner) *LaunchdManagerImpl {
	return &LaunchdManagerImpl{
		mode:      config.Mode,
		plistDir:  config.PlistDir,
		plistPath: config.PlistPath,
		runner:    runner,
	}
}

// generatePlistContent creates plist content for the given exec path.
func (m *LaunchdManagerImpl) generatePlistContent(execPath string) ([]byte, error) {
	config := plistConfig{
		Label:          LaunchdLabel,
		ExecutablePath: execPath,
		LogPath:        filepath.Join(logDir, "appguard.launchd.log"),
		ErrorLogPath:   filepath.Join(logDir, "appguard.launchd.error.log"),
		Background:     m.mode == ExecModeUser,
	}

	tmpl, err := template.New("plist").Parse(plistTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plist template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute plist template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes and loads the plist.
func (m *LaunchdManagerImpl) Install(execPath string) error {
	if err := os.MkdirAll(m.plistDir, 0755); err != nil {
		return err
	}
	content, err := m.generatePlistContent(execPath)
	if err != nil {
		return fmt.Errorf("failed to generate plist content: %w", err)
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return err
	}
	return m.launchctl("load", m.plistPath)
}

// Uninstall unloads and removes the plist.
func (m *LaunchdManagerImpl) Uninstall() error {
	_ = m.launchctl("unload", m.plistPath) // Not loaded is fine
	if err := os.Remove(m.plistPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsInstalled checks if plist is installed.
func (m *LaunchdManagerImpl) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate checks if plist exists but has different content than expected.
func (m *LaunchdManagerImpl) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false // Needs install, not update
	}
	current, err := os.ReadFile(m.plistPath)
	if err != nil {
		return true
	}
	expected, err := m.generatePlistContent(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// Update unloads, rewrites, and reloads the plist.
func (m *LaunchdManagerImpl) Update(execPath string) error {
	_ = m.launchctl("unload", m.plistPath)

	content, err := m.generatePlistContent(execPath)
	if err != nil {
		return fmt.Errorf("failed to generate plist content: %w", err)
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return err
	}
	return m.launchctl("load", m.plistPath)
}

// GetPlistPath returns the plist file path.
func (m *LaunchdManagerImpl) GetPlistPath() string {
	return m.plistPath
}

// launchctl runs `launchctl load|unload`. Deprecated verbs, but they cover both domains.
func (m *LaunchdManagerImpl) launchctl(verb, path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.runner.Run(ctx, "launchctl", verb, path)
}

// Ensure LaunchdManagerImpl implements domain.LaunchAgentManager.
var _ domain.LaunchAgentManager = (*LaunchdManagerImpl)(nil)
