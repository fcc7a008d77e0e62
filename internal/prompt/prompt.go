// Package prompt turns command-line flags, plus interactive answers for
// whatever the flags left out, into resolved lifecycle requests.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/lifecycle"
	"github.com/TheGojiOG/steamserv/internal/models"
)

// PasswordEnv supplies the Steam password without a prompt.
const PasswordEnv = "STEAMSERV_STEAM_PASSWORD"

// Catalog resolves titles so the prompt can tell whether an account is needed.
type Catalog interface {
	Lookup(appID int) (models.AppInfo, error)
	Resolve(query string) (models.AppInfo, error)
}

// InstallFlags are the install command's flags as given.
type InstallFlags struct {
	AppID         int
	Title         string
	Name          string
	Username      string
	InstallDir    string
	Port          int
	AutoUpdate    bool
	LaunchCommand string
	SkipValidate  bool
}

// Prompter asks for missing values on a terminal. Off a terminal every
// missing required value is an InvalidRequest.
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	// readPassword reads a line without echo.
	readPassword func() (string, error)
	getenv       func(string) string
}

// New creates a prompter on the process's terminal, if there is one.
func New(in *os.File, out io.Writer) *Prompter {
	fd := int(in.Fd())
	p := newPrompter(in, out, term.IsTerminal(fd))
	if p.interactive {
		p.readPassword = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(out)
			return string(b), err
		}
	}
	return p
}

func newPrompter(in io.Reader, out io.Writer, interactive bool) *Prompter {
	p := &Prompter{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
		getenv:      os.Getenv,
	}
	p.readPassword = p.readLine
	return p
}

// Interactive reports whether the prompter may ask questions.
func (p *Prompter) Interactive() bool {
	return p.interactive
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ask prints question and returns the answer, or def for an empty answer.
func (p *Prompter) ask(question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}
	answer, err := p.readLine()
	if err != nil {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

func (p *Prompter) missing(op, server, flag string) error {
	return errs.Ef(errs.InvalidRequest, op, server, "%s is required when not running on a terminal", flag)
}

// ResolveInstall fills in whatever the flags left out and returns the request
// the controller runs.
func (p *Prompter) ResolveInstall(f InstallFlags, cat Catalog) (lifecycle.InstallRequest, error) {
	req := lifecycle.InstallRequest{
		AppID:         f.AppID,
		Title:         strings.TrimSpace(f.Title),
		Name:          strings.TrimSpace(f.Name),
		Username:      strings.TrimSpace(f.Username),
		InstallDir:    f.InstallDir,
		AutoUpdate:    f.AutoUpdate,
		Port:          f.Port,
		LaunchCommand: f.LaunchCommand,
		SkipValidate:  f.SkipValidate,
	}

	if req.AppID <= 0 && req.Title == "" {
		if !p.interactive {
			return req, p.missing("install", req.Name, "--appid")
		}
		for req.AppID <= 0 && req.Title == "" {
			answer, err := p.ask("App id or game title", "")
			if err != nil {
				return req, err
			}
			if id, convErr := strconv.Atoi(answer); convErr == nil {
				req.AppID = id
			} else {
				req.Title = answer
			}
		}
	}

	app, known := p.lookup(req, cat)

	if req.Name == "" {
		if !p.interactive {
			return req, p.missing("install", "", "--server-name")
		}
		for req.Name == "" {
			answer, err := p.ask("Server name", suggestName(app))
			if err != nil {
				return req, err
			}
			req.Name = answer
		}
	}

	if req.Username == "" {
		switch {
		case known && !app.Anonymous && p.interactive:
			fmt.Fprintf(p.out, "%s needs a Steam account that owns it.\n", app.Name)
			answer, err := p.ask("Steam username", "")
			if err != nil {
				return req, err
			}
			req.Username = answer
		case known && !app.Anonymous:
			return req, p.missing("install", req.Name, "--username")
		case p.interactive:
			answer, err := p.ask("Steam username", "anonymous")
			if err != nil {
				return req, err
			}
			req.Username = answer
		}
	}
	if models.IsAnonymous(req.Username) {
		req.Username = "anonymous"
		return req, nil
	}

	password, err := p.Password("install", req.Name, req.Username)
	if err != nil {
		return req, err
	}
	req.Password = password
	return req, nil
}

func (p *Prompter) lookup(req lifecycle.InstallRequest, cat Catalog) (models.AppInfo, bool) {
	if cat == nil {
		return models.AppInfo{}, false
	}
	var app models.AppInfo
	var err error
	if req.AppID > 0 {
		app, err = cat.Lookup(req.AppID)
	} else {
		app, err = cat.Resolve(req.Title)
	}
	return app, err == nil
}

// Password returns the Steam password for username: empty for anonymous, then
// the environment, then a no-echo prompt.
func (p *Prompter) Password(op, server, username string) (string, error) {
	if models.IsAnonymous(username) {
		return "", nil
	}
	if pw := p.getenv(PasswordEnv); pw != "" {
		return pw, nil
	}
	if !p.interactive {
		return "", errs.Ef(errs.InvalidRequest, op, server, "a password for %s is required; set %s", username, PasswordEnv)
	}
	fmt.Fprintf(p.out, "Steam password for %s: ", username)
	pw, err := p.readPassword()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return pw, nil
}

// SelectServer settles which server an operation targets. A known name is
// used as given. An unknown one is passed through off a terminal so the
// controller reports it, and on a terminal the user picks from names
// instead, by number or by name.
func (p *Prompter) SelectServer(op, given string, names []string) (string, error) {
	given = strings.TrimSpace(given)
	if given != "" && (!p.interactive || slices.Contains(names, given)) {
		return given, nil
	}
	if !p.interactive {
		return "", p.missing(op, "", "a server name")
	}
	if len(names) == 0 {
		return "", errs.Ef(errs.NotFound, op, given, "no servers to choose from")
	}

	if given != "" {
		fmt.Fprintf(p.out, "No server named %q.\n", given)
	}
	fmt.Fprintf(p.out, "Select the server to %s:\n", op)
	for i, name := range names {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, name)
	}
	for {
		answer, err := p.ask(fmt.Sprintf("Server [1-%d]", len(names)), "")
		if err != nil {
			return "", err
		}
		if n, convErr := strconv.Atoi(answer); convErr == nil && n >= 1 && n <= len(names) {
			return names[n-1], nil
		}
		if slices.Contains(names, answer) {
			return answer, nil
		}
		fmt.Fprintf(p.out, "%q is not one of the listed servers.\n", answer)
	}
}

// Confirm asks a yes/no question; off a terminal it returns def.
func (p *Prompter) Confirm(question string, def bool) (bool, error) {
	if !p.interactive {
		return def, nil
	}
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	answer, err := p.ask(question+" ("+hint+")", "")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Ask exposes a free-form question with a default, for the init wizard.
func (p *Prompter) Ask(question, def string) (string, error) {
	if !p.interactive {
		return def, nil
	}
	return p.ask(question, def)
}

// suggestName derives a default server name from the title.
func suggestName(app models.AppInfo) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(app.Name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.TrimSuffix(b.String(), "-")
	name = strings.TrimSuffix(name, "-dedicated-server")
	return name
}
