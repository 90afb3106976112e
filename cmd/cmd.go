package cmd

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	e "github.com/rami3l/golox/errors"
	"github.com/rami3l/golox/vm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	easy "github.com/t-tomalak/logrus-easy-formatter"
)

// Exit codes, per the language's CLI contract: 0 success, 64 bad usage,
// 65 compile error, 70 runtime error.
const (
	ExitOK           = 0
	ExitUsage        = 64
	ExitCompileError = 65
	ExitRuntimeError = 70
)

func App() (app *cobra.Command) {
	app = &cobra.Command{
		Use:   "golox [path]",
		Short: "Launch the `golox` interpreter",
	}

	app.Flags().SortFlags = true
	defaultVerbosityStr := "INFO"
	verbosity := app.Flags().StringP("verbosity", "v", defaultVerbosityStr, "Logging verbosity")

	app.Run = func(cmd *cobra.Command, args []string) {
		verbosityLvl, err := logrus.ParseLevel(*verbosity)
		if err != nil {
			verbosityLvl, _ = logrus.ParseLevel(defaultVerbosityStr)
		}
		logrus.SetLevel(verbosityLvl)
		logrus.SetFormatter(&easy.Formatter{LogFormat: "//DBG// %msg%\n"})

		if len(args) > 1 {
			fmt.Fprintf(os.Stderr, "Usage: %s [path]\n", cmd.CommandPath())
			os.Exit(ExitUsage)
		}

		os.Exit(appMain(args))
	}
	return
}

func appMain(args []string) int {
	if len(args) == 0 {
		if err := vm.NewVM().REPL(); err != nil {
			logrus.Fatal(err)
		}
		return ExitOK
	}
	return runFile(args[0])
}

func runFile(path string) int {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitUsage
	}

	if err := vm.NewVM().Interpret(string(src)); err != nil {
		return reportAndExit(err)
	}
	return ExitOK
}

// reportAndExit prints a compile or runtime error to stderr, in the shape
// spec.md's error handling design calls for, and returns the matching
// exit status.
func reportAndExit(err error) int {
	if merr, ok := err.(*multierror.Error); ok {
		for _, sub := range merr.Errors {
			reportOne(sub)
		}
		return ExitCompileError
	}
	return reportOne(err)
}

func reportOne(err error) int {
	switch err := err.(type) {
	case *e.CompilationError:
		fmt.Fprintf(os.Stderr, "[line %d] Error %s\n", err.Line, err.Reason)
		return ExitCompileError
	case *e.RuntimeError:
		fmt.Fprintf(os.Stderr, "%s\n[line %d] in script\n", err.Reason, err.Line)
		return ExitRuntimeError
	default:
		fmt.Fprintln(os.Stderr, err)
		return ExitCompileError
	}
}
