package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/glot/engine"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run code in a fresh session",
	Long: `Execute s-expression or WebAssembly code in a sandboxed session.

Code can be provided via:
  - File argument: glot run script.sexp
  - Inline flag: glot run -l sexp -c '(print (+ 1 1))'
  - Stdin: echo '(+ 1 1)' | glot run -l sexp

The value of the last expression is printed unless it is null.`,
	Args:         cobra.MaximumNArgs(1),
	RunE:         runRun,
	SilenceUsage: true,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	addSessionFlags(cmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")
	langFlag, _ := cmd.Flags().GetString("lang")

	var data []byte
	name := "<stdin>"

	switch {
	case code != "":
		data = []byte(code)
		name = "<code>"
	case len(args) > 0:
		name = args[0]
		var err error
		if data, err = os.ReadFile(name); err != nil {
			return err
		}
	default:
		// Check if stdin has data (not a terminal)
		in := cmd.InOrStdin()
		if f, ok := in.(*os.File); ok {
			if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
				return cmd.Help()
			}
		}
		var err error
		if data, err = io.ReadAll(in); err != nil {
			return err
		}
		if len(data) == 0 {
			return cmd.Help()
		}
	}

	lang, err := getLanguage(langFlag, name)
	if err != nil {
		return err
	}
	cfg, err := loadSessionConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := cfg.sessionOptions()
	if err != nil {
		return err
	}

	e, closeEngine, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer closeEngine()

	session, err := e.NewSession(append(opts,
		engine.WithStdout(cmd.OutOrStdout()),
		engine.WithStderr(cmd.ErrOrStderr()),
	)...)
	if err != nil {
		return err
	}
	defer session.Close(context.Background(), true)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	v, err := session.Eval(ctx, readSource(lang, name, data))
	if err != nil {
		return err
	}
	if null, _ := v.IsNull(); !null {
		fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	return nil
}
