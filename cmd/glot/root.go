package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/glot/engine"
	"github.com/caffeineduck/glot/hostfunc"
	"github.com/caffeineduck/glot/language/sexp"
	"github.com/caffeineduck/glot/language/wasm"
)

var rootCmd = &cobra.Command{
	Use:   "glot [file]",
	Short: "Polyglot sandbox for s-expressions and WebAssembly",
	Long: `glot - Run guest code in sandboxed polyglot sessions.

Run code from files, inline strings, or stdin. Sessions start without
access to files, sockets, processes, environment variables or host
objects. Enable capabilities explicitly with flags or a --config file.

Languages: sexp (.sexp, .lisp) and wasm (.wasm).`,
	Args:         cobra.MaximumNArgs(1),
	RunE:         runRun, // Default to run command behavior
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("lang", "l", "", "Language: sexp, wasm (default: auto-detect)")
	rootCmd.PersistentFlags().Bool("no-cache", false, "Disable the WebAssembly compilation cache")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log engine decisions to stderr")
	rootCmd.PersistentFlags().String("config", "", "YAML file with session settings")

	addRunFlags(rootCmd)
}

func parseMount(spec string) (hostfunc.Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return hostfunc.Mount{}, fmt.Errorf("invalid mount spec %q (expected virtual:host:mode)", spec)
	}
	mode, err := hostfunc.ParseMountMode(parts[2])
	if err != nil {
		return hostfunc.Mount{}, fmt.Errorf("invalid mount mode %q (expected ro, rw, or rwc)", parts[2])
	}
	hostPath, err := filepath.Abs(parts[1])
	if err != nil {
		return hostfunc.Mount{}, err
	}
	return hostfunc.Mount{
		VirtualPath: parts[0],
		HostPath:    hostPath,
		Mode:        mode,
	}, nil
}

// getLanguage resolves the language id from the flag or the file extension.
func getLanguage(langFlag string, filename string) (string, error) {
	lang := strings.ToLower(langFlag)

	if lang == "" && filename != "" {
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".sexp", ".lisp":
			lang = sexp.ID
		case ".wasm":
			lang = wasm.ID
		}
	}

	switch lang {
	case "":
		return "", fmt.Errorf("language required: use --lang sexp or --lang wasm")
	case "sexp", "lisp":
		return sexp.ID, nil
	case "wasm", "webassembly":
		return wasm.ID, nil
	}
	return "", fmt.Errorf("unknown language %q: use sexp or wasm", lang)
}

// parseMemoryLimit converts a size like "64mb" to WebAssembly pages.
func parseMemoryLimit(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return 0, nil
	case "1mb":
		return 16, nil
	case "16mb":
		return 256, nil
	case "64mb":
		return 1024, nil
	case "256mb":
		return 4096, nil
	case "1gb":
		return 16384, nil
	}
	return 0, fmt.Errorf("invalid memory limit %q (expected 1mb, 16mb, 64mb, 256mb or 1gb)", s)
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		return zap.NewDevelopment()
	}
	return zap.NewNop(), nil
}

// newEngine creates the engine shared by every session of a command. The
// returned func closes it.
func newEngine(cmd *cobra.Command) (*engine.Engine, func(), error) {
	logger, err := newLogger(cmd)
	if err != nil {
		return nil, nil, err
	}

	var wasmOpts []wasm.Option
	if noCache, _ := cmd.Flags().GetBool("no-cache"); !noCache {
		wasmOpts = append(wasmOpts, wasm.WithCompilationCacheDir(defaultCacheDir()))
	}
	wasmLang := wasm.New(wasmOpts...)

	e, err := engine.New(
		engine.WithLanguages(sexp.New(), wasmLang),
		engine.WithLogger(logger),
	)
	if err != nil {
		wasmLang.Close(context.Background())
		return nil, nil, err
	}
	return e, func() {
		e.Close()
		wasmLang.Close(context.Background())
		logger.Sync()
	}, nil
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "glot")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "glot")
	}
	return filepath.Join(os.TempDir(), "glot-cache")
}

// readSource loads a source, as binary for wasm.
func readSource(lang, name string, data []byte) engine.Source {
	if lang == wasm.ID {
		return engine.NewBinarySource(lang, name, data)
	}
	return engine.NewSource(lang, name, string(data))
}
