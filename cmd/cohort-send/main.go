package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"cohort/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, in io.Reader, out, errOut io.Writer) int {
	return runWithSender(args, in, out, errOut, dispatchTask)
}

func runWithSender(args []string, in io.Reader, out, errOut io.Writer, send func(Config, []byte) (dispatchResult, error)) int {
	cfg, err := parseArgs(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if cfg.ShowVersion {
		fmt.Fprintf(out, "cohort-send %s\n", version.Version)
		return 0
	}
	cfg.LogWriter = errOut

	payload, err := io.ReadAll(in)
	if err != nil {
		fmt.Fprintf(errOut, "read stdin: %v\n", err)
		return 3
	}
	if len(payload) == 0 {
		fmt.Fprintln(errOut, "task payload required on stdin")
		return 1
	}

	result, err := send(cfg, payload)
	if err != nil {
		return handleSendError(err, errOut)
	}

	if result.Output != "" {
		fmt.Fprintln(out, result.Output)
	}
	switch result.State {
	case "completed":
		return 0
	case "timed_out":
		fmt.Fprintf(errOut, "task %s timed out waiting for agent output\n", result.TaskID)
		return 2
	default:
		if result.Err != "" {
			fmt.Fprintf(errOut, "task %s failed: %s\n", result.TaskID, result.Err)
		} else {
			fmt.Fprintf(errOut, "task %s failed\n", result.TaskID)
		}
		return 3
	}
}
