// Package unit renders systemd service definitions for managed servers.
package unit

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"unicode"

	"github.com/TheGojiOG/steamserv/internal/models"
)

// DefaultLaunch is used when neither the operator nor the catalog supplied a
// start command.
const DefaultLaunch = "steamserv-start.sh"

const serviceTemplate = `[Unit]
Description=steamserv {{.Name}} ({{.Title}})
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
{{- if .User}}
User={{.User}}
{{- end}}
{{- if .Group}}
Group={{.Group}}
{{- end}}
WorkingDirectory={{.WorkingDirectory}}
Environment=STEAMSERV_NAME={{.Name}}
Environment=STEAMSERV_APP_ID={{.AppID}}
{{- if .Port}}
Environment=STEAMSERV_PORT={{.Port}}
{{- end}}
ExecStart={{.ExecStart}}

# Graceful stop
KillMode=mixed
KillSignal=SIGTERM
TimeoutStopSec=30

# Restart policy
Restart={{.Restart}}
RestartSec=5

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier={{.Identifier}}

[Install]
WantedBy={{.WantedBy}}
`

// Options are the host-wide settings shared by every generated unit.
type Options struct {
	User     string
	Group    string
	Restart  string
	UserMode bool
}

// Generator turns server records into unit file text.
type Generator struct {
	opts Options
	tmpl *template.Template
}

type templateData struct {
	Name             string
	Title            string
	AppID            int
	Port             int
	User             string
	Group            string
	WorkingDirectory string
	ExecStart        string
	Restart          string
	Identifier       string
	WantedBy         string
}

// NewGenerator creates a generator for the given host options.
func NewGenerator(opts Options) *Generator {
	if opts.Restart == "" {
		opts.Restart = "on-failure"
	}
	return &Generator{
		opts: opts,
		tmpl: template.Must(template.New("service").Parse(serviceTemplate)),
	}
}

// Render returns the unit text for rec. The output depends only on rec and
// the generator options.
func (g *Generator) Render(rec models.ServerRecord) ([]byte, error) {
	if strings.TrimSpace(rec.InstallPath) == "" {
		return nil, fmt.Errorf("server %s has no install path", rec.Name)
	}

	wantedBy := "multi-user.target"
	user, group := g.opts.User, g.opts.Group
	if g.opts.UserMode {
		// User managers reject User= and Group=.
		wantedBy = "default.target"
		user, group = "", ""
	}

	data := templateData{
		Name:             rec.Name,
		Title:            singleLine(rec.DisplayName()),
		AppID:            rec.AppID,
		Port:             rec.Port,
		User:             user,
		Group:            group,
		WorkingDirectory: escapeSpecifiers(rec.InstallPath),
		ExecStart:        ExecStart(rec),
		Restart:          g.opts.Restart,
		Identifier:       strings.TrimSuffix(NameFor(rec.Name), ".service"),
		WantedBy:         wantedBy,
	}

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render unit for %s: %w", rec.Name, err)
	}
	return buf.Bytes(), nil
}

// ExecStart resolves the record's launch command against its install path.
func ExecStart(rec models.ServerRecord) string {
	launch := singleLine(strings.TrimSpace(rec.LaunchCommand))
	if launch == "" {
		launch = DefaultLaunch
	}

	fields := strings.Fields(launch)
	exe := fields[0]
	if !filepath.IsAbs(exe) {
		exe = filepath.Join(rec.InstallPath, exe)
	}

	parts := append([]string{quoteIfNeeded(escapeSpecifiers(exe))}, fields[1:]...)
	return strings.Join(parts, " ")
}

// NameFor returns the unit name for a server name.
func NameFor(serverName string) string {
	out := make([]rune, 0, len(serverName))
	for _, r := range serverName {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			out = append(out, r)
		} else {
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "steamserv-server.service"
	}
	return "steamserv-" + string(out) + ".service"
}

// escapeSpecifiers keeps systemd from expanding % in a literal path.
// WorkingDirectory= takes the rest of the line verbatim, so it is never quoted.
func escapeSpecifiers(path string) string {
	return strings.ReplaceAll(path, "%", "%%")
}

// quoteIfNeeded quotes a command word for ExecStart= when it holds blanks.
func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " \t") {
		return strconv.Quote(s)
	}
	return s
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
