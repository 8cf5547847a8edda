package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/glot/engine"
	"github.com/caffeineduck/glot/language/wasm"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive REPL with persistent state",
	Long: `Start an interactive REPL (Read-Eval-Print Loop) session.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \, or leave parentheses open)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	RunE:         runRepl,
	SilenceUsage: true,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.glot_history)")
	addSessionFlags(replCmd)
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	langFlag, _ := cmd.Flags().GetString("lang")
	historyFile, _ := cmd.Flags().GetString("history")

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".glot_history")
	}

	if langFlag == "" {
		langFlag = "sexp"
	}
	lang, err := getLanguage(langFlag, "")
	if err != nil {
		return err
	}
	if lang == wasm.ID {
		return errors.New("the repl needs a text language: use --lang sexp")
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

	session, err := e.NewSession(opts...)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer session.Close(context.Background(), true)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(os.Stderr, "glot %s REPL (type 'exit' to quit, Ctrl+D to exit)\n", lang)

	var pending strings.Builder
	reset := func() {
		pending.Reset()
		rl.SetPrompt(">>> ")
	}

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				reset()
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if pending.Len() == 0 {
			switch strings.TrimSpace(line) {
			case "":
				continue
			case "exit", "quit":
				return nil
			}
		}

		explicit := strings.HasSuffix(line, "\\")
		pending.WriteString(strings.TrimSuffix(line, "\\"))
		pending.WriteString("\n")
		if explicit || openParens(pending.String()) > 0 {
			rl.SetPrompt("... ")
			continue
		}

		code := pending.String()
		reset()

		v, err := session.Eval(context.Background(), engine.NewSource(lang, "<repl>", code))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if null, _ := v.IsNull(); !null {
			fmt.Println(v)
		}
	}
}

// openParens counts unclosed parentheses outside strings and comments.
func openParens(code string) int {
	depth := 0
	inString, escaped, comment := false, false, false
	for _, r := range code {
		switch {
		case comment:
			comment = r != '\n'
		case inString:
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
		case r == '"':
			inString = true
		case r == ';':
			comment = true
		case r == '(':
			depth++
		case r == ')':
			depth--
		}
	}
	return depth
}
