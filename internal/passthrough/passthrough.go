// Package passthrough runs "agt git ..." invocations straight through to
// the real git binary, optionally remapping arguments and filtering output
// so shadow-branch machinery stays invisible to the user. Ported from
// original_source's passthrough.rs. Unfiltered commands run with a real pty
// on stdout when the caller's own stdout is a terminal, so git's pager and
// color auto-detection keep working through the passthrough.
package passthrough

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// EnvDebug enables diagnostic stderr lines when filtering output, mirroring
// passthrough.rs's debug_enabled().
const EnvDebug = "AGT_DEBUG"

// DebugEnabled reports whether AGT_DEBUG=1 is set.
func DebugEnabled() bool {
	return os.Getenv(EnvDebug) == "1"
}

// errWorktreeBlocked is returned when "git worktree" is invoked in git mode -
// agt owns the linked worktrees directly and a raw "git worktree" command
// would corrupt its bookkeeping.
var errWorktreeBlocked = fmt.Errorf("agt manages worktrees directly; use agt session commands instead of git worktree")

// errLogFormatBlocked is returned when a custom log format flag is used in
// git mode without disabling the filter - agt's log filtering depends on
// git's default "commit <hash>" block framing.
var errLogFormatBlocked = fmt.Errorf("custom log formatting conflicts with agt's commit filtering; pass --disable-agt to use it anyway")

// Options configures a single passthrough invocation.
type Options struct {
	GitBinary      string
	WorkDir        string
	Args           []string
	GitMode        bool // true when invoked as "agt git ..." rather than a bare passthrough alias
	DisableFilter  bool // true when --disable-agt was passed
	BranchPrefix   string
	AgentEmail     string
	Stdout, Stderr io.Writer
}

// Run executes git with opts.Args (after remapping), filters stdout when
// appropriate, and returns the subprocess's exit code alongside any error
// that prevented it from running at all.
func Run(opts Options) (exitCode int, err error) {
	if len(opts.Args) == 0 {
		return runHelp(opts)
	}

	if opts.GitMode {
		if opts.Args[0] == "worktree" {
			return 1, errWorktreeBlocked
		}
		if !opts.DisableFilter && opts.Args[0] == "log" && hasCustomLogFormat(opts.Args[1:]) {
			return 1, errLogFormatBlocked
		}
	}

	args := mapArgsForGit(opts.Args)
	shouldFilter := opts.GitMode && !opts.DisableFilter

	cmd := exec.Command(opts.GitBinary, args...) //nolint:gosec // args come from the agt CLI's own argv
	cmd.Dir = opts.WorkDir

	// Filtered commands must have their output buffered so blocks can be
	// dropped before anything reaches the real terminal; everything else
	// runs with a real pty on stdout when the caller's stdout is one, so
	// git's own isatty checks still see a terminal and pagers/color survive
	// the passthrough unchanged.
	if !shouldFilter && isTerminalWriter(opts.Stdout) {
		return runWithPTY(cmd, opts.Stderr, opts.Stdout)
	}

	cmd.Stderr = opts.Stderr
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	runErr := cmd.Run()
	exitCode = exitCodeOf(runErr)

	if shouldFilter {
		filtered := filterOutput(args, stdout.Bytes(), opts.BranchPrefix, opts.AgentEmail)
		_, _ = opts.Stdout.Write(filtered)
	} else {
		_, _ = opts.Stdout.Write(stdout.Bytes())
	}

	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); ok {
			return exitCode, nil
		}
		return exitCode, fmt.Errorf("running git: %w", runErr)
	}
	return exitCode, nil
}

// isTerminalWriter reports whether w is an *os.File connected to a terminal.
func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// runWithPTY runs cmd with its stdout attached to a pty, copying the pty's
// output straight to stdout unfiltered. Used only for unfiltered commands,
// so there is never a commit/branch block to drop after the fact.
func runWithPTY(cmd *exec.Cmd, stderr io.Writer, stdout io.Writer) (int, error) {
	cmd.Stderr = stderr
	master, err := pty.Start(cmd)
	if err != nil {
		return 1, fmt.Errorf("allocating pty: %w", err)
	}
	defer func() { _ = master.Close() }()

	_, _ = io.Copy(stdout, master)
	runErr := cmd.Wait()
	exitCode := exitCodeOf(runErr)
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); ok {
			return exitCode, nil
		}
		return exitCode, fmt.Errorf("running git: %w", runErr)
	}
	return exitCode, nil
}

func runHelp(opts Options) (int, error) {
	cmd := exec.Command(opts.GitBinary, "--help") //nolint:gosec
	cmd.Dir = opts.WorkDir
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	runErr := cmd.Run()
	return exitCodeOf(runErr), nil
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

// hasCustomLogFormat reports whether args (the tail of a "git log"
// invocation) request a custom format that would defeat commit-block
// filtering.
func hasCustomLogFormat(args []string) bool {
	for _, a := range args {
		if a == "--oneline" || strings.HasPrefix(a, "--pretty") || strings.HasPrefix(a, "--format") {
			return true
		}
	}
	return false
}

// mapArgsForGit remaps bare "branch"/"tag" to their "list" subform, mirroring
// map_args_for_gix - without it, a bare "git branch" prints and can also
// create branches depending on remaining args, which the filtering pass
// below assumes will not happen.
func mapArgsForGit(args []string) []string {
	if len(args) == 0 {
		return args
	}
	if (args[0] == "branch" || args[0] == "tag") && (len(args) < 2 || args[1] != "list") {
		mapped := make([]string, 0, len(args)+1)
		mapped = append(mapped, args[0], "list")
		mapped = append(mapped, args[1:]...)
		return mapped
	}
	return args
}

// filterOutput dispatches to the right filter for the subcommand being run,
// passing everything else through untouched.
func filterOutput(args []string, output []byte, branchPrefix, agentEmail string) []byte {
	if len(args) == 0 {
		return output
	}
	switch args[0] {
	case "branch":
		return filterPrefixedLines(output, branchPrefix, branchPrefix)
	case "tag":
		return filterPrefixedLines(output, branchPrefix, branchPrefix)
	case "log":
		return filterLogOutput(output, agentEmail)
	default:
		return output
	}
}

// filterPrefixedLines hides lines naming a ref under prefix, after trimming
// the leading "*"/"+" markers git branch/tag use to mark the current branch
// or a linked-worktree checkout.
func filterPrefixedLines(output []byte, prefix, debugLabel string) []byte {
	lines := splitLinesKeepEnding(output)
	var out bytes.Buffer
	for _, line := range lines {
		trimmed := strings.TrimLeft(strings.TrimRight(line, "\r\n"), "*+ ")
		if hasBranchPrefix(trimmed, prefix) {
			if DebugEnabled() {
				fmt.Fprintf(os.Stderr, "agt: filtered %s line: %q\n", debugLabel, trimmed)
			}
			continue
		}
		out.WriteString(line)
	}
	return out.Bytes()
}

// hasBranchPrefix reports whether name starts with prefix, or contains
// "/"+prefix (a remote-qualified ref like "origin/agtsessions/foo").
func hasBranchPrefix(name, prefix string) bool {
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(name, prefix) || strings.Contains(name, "/"+prefix)
}

// filterLogOutput groups output into per-commit blocks (split on lines
// starting with "commit ") and drops any block whose "Author:" line contains
// agentEmail.
func filterLogOutput(output []byte, agentEmail string) []byte {
	if agentEmail == "" {
		return output
	}

	var blocks [][]string
	var current []string
	for _, line := range splitLinesKeepEnding(output) {
		if strings.HasPrefix(line, "commit ") && len(current) > 0 {
			blocks = append(blocks, current)
			current = nil
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}

	var out bytes.Buffer
	for _, block := range blocks {
		if blockAuthoredBy(block, agentEmail) {
			if DebugEnabled() {
				fmt.Fprintf(os.Stderr, "agt: filtered log block authored by %s\n", agentEmail)
			}
			continue
		}
		for _, line := range block {
			out.WriteString(line)
		}
	}
	return out.Bytes()
}

func blockAuthoredBy(block []string, agentEmail string) bool {
	for _, line := range block {
		if strings.HasPrefix(strings.TrimSpace(line), "Author:") && strings.Contains(line, agentEmail) {
			return true
		}
	}
	return false
}

// splitLinesKeepEnding splits data into lines, each retaining its trailing
// newline (if any) so reassembly doesn't need to re-add separators.
func splitLinesKeepEnding(data []byte) []string {
	var lines []string
	scanner := bufio.NewReader(bytes.NewReader(data))
	for {
		line, err := scanner.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
		}
		if err != nil {
			break
		}
	}
	return lines
}
