package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"ilvlbot/internal/config"
)

const (
	launchdLabel = "com.ilvlbot.gateway"
	systemdUnit  = "ilvlbot.service"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the gateway as a user service (launchd/systemd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install the gateway as a user service started at login",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			cfgPath := resolveConfigPath()

			switch runtime.GOOS {
			case "darwin":
				return installService(launchdPath(home), renderLaunchd(execPath, cfgPath, config.DefaultConfigDir()), []string{
					"To start: launchctl load " + launchdPath(home),
					"To stop:  launchctl unload " + launchdPath(home),
				})
			case "linux":
				return installService(systemdPath(home), renderSystemd(execPath, cfgPath), []string{
					"To start:  systemctl --user start ilvlbot",
					"To enable: systemctl --user enable ilvlbot",
					"To stop:   systemctl --user stop ilvlbot",
				})
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the user service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			var path string
			switch runtime.GOOS {
			case "darwin":
				path = launchdPath(home)
			case "linux":
				path = systemdPath(home)
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s\n", path)
			return nil
		},
	})
	return cmd
}

func launchdPath(home string) string {
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func systemdPath(home string) string {
	return filepath.Join(home, ".config", "systemd", "user", systemdUnit)
}

func installService(path, content string, hints []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}
	fmt.Printf("Service installed: %s\n", path)
	for _, h := range hints {
		fmt.Println(h)
	}
	return nil
}

func renderLaunchd(execPath, cfgPath, dataDir string) string {
	r := strings.NewReplacer(
		"{{LABEL}}", launchdLabel,
		"{{EXEC}}", execPath,
		"{{CONFIG}}", cfgPath,
		"{{LOG}}", filepath.Join(dataDir, "logs", "gateway.log"),
		"{{ERR_LOG}}", filepath.Join(dataDir, "logs", "gateway-error.log"),
	)
	return r.Replace(launchdTemplate)
}

func renderSystemd(execPath, cfgPath string) string {
	r := strings.NewReplacer("{{EXEC}}", execPath, "{{CONFIG}}", cfgPath)
	return r.Replace(systemdTemplate)
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>gateway</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=ilvlbot item level chat bot gateway
After=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} gateway --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
