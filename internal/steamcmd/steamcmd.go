// Package steamcmd runs SteamCMD to install and update dedicated servers.
package steamcmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/TheGojiOG/steamserv/internal/models"
)

// DefaultDiagnosticLines is how much trailing output a failed run keeps.
const DefaultDiagnosticLines = 20

// Request describes one SteamCMD run.
type Request struct {
	AppID    int
	Dir      string
	Username string
	Password string
	Validate bool
}

// Result is everything the rest of steamserv learns about a run.
type Result struct {
	Success    bool
	Path       string
	ExitCode   int
	Diagnostic string
}

// Installer installs or updates an app into a directory. Output lines are
// copied to out as they arrive.
type Installer interface {
	Install(ctx context.Context, req Request, out io.Writer) Result
}

// Adapter is the Installer backed by the steamcmd binary.
type Adapter struct {
	path      string
	diagLines int
}

// NewAdapter creates an adapter for the steamcmd binary at path.
func NewAdapter(path string, diagnosticLines int) *Adapter {
	if diagnosticLines <= 0 {
		diagnosticLines = DefaultDiagnosticLines
	}
	return &Adapter{path: path, diagLines: diagnosticLines}
}

// Path returns the steamcmd binary this adapter runs.
func (a *Adapter) Path() string {
	return a.path
}

// BuildArgs returns the steamcmd command line for req.
func BuildArgs(req Request) []string {
	args := []string{"+force_install_dir", req.Dir, "+login"}
	if models.IsAnonymous(req.Username) {
		args = append(args, "anonymous")
	} else {
		args = append(args, req.Username)
		if req.Password != "" {
			args = append(args, req.Password)
		}
	}
	args = append(args, "+app_update", strconv.Itoa(req.AppID))
	if req.Validate {
		args = append(args, "validate")
	}
	return append(args, "+quit")
}

// redactArgs hides the password for logging.
func redactArgs(args []string, password string) string {
	if password == "" {
		return strings.Join(args, " ")
	}
	out := make([]string, len(args))
	for i, arg := range args {
		if arg == password {
			out[i] = "********"
		} else {
			out[i] = arg
		}
	}
	return strings.Join(out, " ")
}

func (a *Adapter) Install(ctx context.Context, req Request, out io.Writer) Result {
	result := Result{Path: req.Dir, ExitCode: -1}
	if out == nil {
		out = io.Discard
	}

	if _, err := os.Stat(a.path); err != nil {
		result.Diagnostic = fmt.Sprintf("steamcmd not found at %s", a.path)
		return result
	}
	if err := os.MkdirAll(req.Dir, 0755); err != nil {
		result.Diagnostic = fmt.Sprintf("failed to create install directory: %v", err)
		return result
	}

	args := BuildArgs(req)
	log.Printf("[SteamCMD] Running: %s %s", a.path, redactArgs(args, req.Password))

	cmd := exec.CommandContext(ctx, a.path, args...)
	cmd.Dir = req.Dir
	// steamcmd.sh execs a child that inherits our pipes; cancel the whole group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		result.Diagnostic = err.Error()
		return result
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		result.Diagnostic = err.Error()
		return result
	}

	if err := cmd.Start(); err != nil {
		result.Diagnostic = fmt.Sprintf("failed to start steamcmd: %v", err)
		return result
	}

	scan := newOutputScanner(a.diagLines)
	outputCh := make(chan string, 32)
	var readers sync.WaitGroup
	readPipe := func(reader io.Reader) {
		defer readers.Done()
		scanner := bufio.NewScanner(reader)
		scanner.Split(splitOnNewlineOrCarriageReturn)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			outputCh <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			log.Printf("[SteamCMD] Stopped reading output for app %d: %v", req.AppID, err)
			outputCh <- fmt.Sprintf("steamcmd output unreadable: %v", err)
			// Keep the pipe empty so steamcmd never blocks on a write.
			io.Copy(io.Discard, reader)
		}
	}

	readers.Add(2)
	go readPipe(stdout)
	go readPipe(stderr)
	go func() {
		readers.Wait()
		close(outputCh)
	}()

	for line := range outputCh {
		if strings.TrimSpace(line) == "" {
			continue
		}
		scan.add(line)
		fmt.Fprintln(out, line)
	}

	waitErr := cmd.Wait()
	result.ExitCode = cmd.ProcessState.ExitCode()

	switch {
	case ctx.Err() != nil:
		scan.add(fmt.Sprintf("steamcmd interrupted: %v", ctx.Err()))
	case waitErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			scan.add(fmt.Sprintf("steamcmd failed: %v", waitErr))
		} else {
			scan.add(fmt.Sprintf("steamcmd exited with status %d", result.ExitCode))
		}
	case scan.sawError:
		log.Printf("[SteamCMD] Output reported an error for app %d", req.AppID)
	case !scan.sawSuccess:
		scan.add("steamcmd finished without reporting success")
	default:
		result.Success = true
	}

	if !result.Success {
		result.Diagnostic = scan.tail()
		log.Printf("[SteamCMD] App %d failed (exit %d)", req.AppID, result.ExitCode)
		return result
	}

	log.Printf("[SteamCMD] App %d installed to %s", req.AppID, req.Dir)
	return result
}

// outputScanner watches for steamcmd's verdict lines and keeps the tail.
type outputScanner struct {
	lines      []string
	max        int
	sawError   bool
	sawSuccess bool
}

func newOutputScanner(max int) *outputScanner {
	return &outputScanner{max: max}
}

func (s *outputScanner) add(line string) {
	line = strings.TrimRight(line, " \t")
	if strings.Contains(line, "ERROR!") {
		s.sawError = true
	}
	if strings.Contains(line, "Success!") {
		s.sawSuccess = true
	}
	s.lines = append(s.lines, line)
	if len(s.lines) > s.max {
		s.lines = s.lines[len(s.lines)-s.max:]
	}
}

func (s *outputScanner) tail() string {
	return strings.Join(s.lines, "\n")
}

// splitOnNewlineOrCarriageReturn treats progress updates written with \r as
// separate lines.
func splitOnNewlineOrCarriageReturn(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
