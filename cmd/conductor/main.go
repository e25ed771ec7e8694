// Command conductor runs YAML scenario suites against the configured helpers.
//
// Usage:
//
//	conductor run [files...] [flags]
//	conductor list [files...]
//	conductor runs [run-id]
//	conductor version
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"
)

const (
	ExitSuccess = 0
	ExitFailed  = 1
	ExitError   = 2
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(viper.New())
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.code == ExitError {
			fmt.Fprintln(cmd.ErrOrStderr(), "error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
	return ExitError
}
