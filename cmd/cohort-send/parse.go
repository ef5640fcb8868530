package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const defaultServerURL = "http://localhost:8080"

type Config struct {
	URL          string
	Token        string
	AgentID      string
	CaptureDelay time.Duration
	Verbose      bool
	ShowVersion  bool
	LogWriter    io.Writer
}

func parseArgs(args []string, errOut io.Writer) (Config, error) {
	fs := flag.NewFlagSet("cohort-send", flag.ContinueOnError)
	fs.SetOutput(errOut)
	urlFlag := fs.String("url", "", "Cohort server URL (env: COHORT_URL, default: http://localhost:8080)")
	tokenFlag := fs.String("token", "", "Auth token (env: COHORT_TOKEN, default: none)")
	delayFlag := fs.Duration("delay", 0, "Capture delay before the output snapshot (default: server setting)")
	verboseFlag := fs.Bool("verbose", false, "Verbose output")
	helpFlag := fs.Bool("help", false, "Show this help message")
	versionFlag := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		printSendHelp(fs.Output())
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *helpFlag {
		fs.Usage()
		return Config{}, flag.ErrHelp
	}

	if *versionFlag {
		return Config{ShowVersion: true}, nil
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return Config{}, fmt.Errorf("agent id required")
	}

	agentID := strings.TrimSpace(fs.Arg(0))
	if agentID == "" {
		fs.Usage()
		return Config{}, fmt.Errorf("agent id required")
	}

	url := strings.TrimSpace(*urlFlag)
	if url == "" {
		url = strings.TrimSpace(os.Getenv("COHORT_URL"))
	}
	if url == "" {
		url = defaultServerURL
	}

	token := strings.TrimSpace(*tokenFlag)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("COHORT_TOKEN"))
	}

	return Config{
		URL:          url,
		Token:        token,
		AgentID:      agentID,
		CaptureDelay: *delayFlag,
		Verbose:      *verboseFlag,
	}, nil
}

func printSendHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: cohort-send [options] <agent-id>")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Dispatch stdin as a task to a cohort agent and print the captured output")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	writeSendOption(out, "--url URL", "Cohort server URL (env: COHORT_URL, default: http://localhost:8080)")
	writeSendOption(out, "--token TOKEN", "Auth token (env: COHORT_TOKEN, default: none)")
	writeSendOption(out, "--delay DUR", "Capture delay before the output snapshot (default: server setting)")
	writeSendOption(out, "--verbose", "Show request/response details")
	writeSendOption(out, "--help", "Show this help message")
	writeSendOption(out, "--version", "Print version and exit")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Arguments:")
	fmt.Fprintln(out, "  agent-id  Agent to dispatch the task to")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Examples:")
	fmt.Fprintln(out, "  echo \"estimate the migration\" | cohort-send backend-manager")
	fmt.Fprintln(out, "  cat task.md | cohort-send --delay 15s --url http://remote:8080 database-manager")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Exit codes:")
	fmt.Fprintln(out, "  0  Task completed with a captured response")
	fmt.Fprintln(out, "  1  Usage error")
	fmt.Fprintln(out, "  2  Task timed out waiting for output")
	fmt.Fprintln(out, "  3  Network or server error")
}

func writeSendOption(out io.Writer, name, desc string) {
	fmt.Fprintf(out, "  %-14s %s\n", name, desc)
}
