// Package wasm runs WebAssembly modules as a guest language using wazero.
//
// A source is the binary of a module. Parsing compiles it; evaluating
// instantiates it in the session, runs its _start function if it has one and
// returns its exported functions as an object. Exports are also bound under
// the source name in the language bindings.
//
// WASI is available to every module. Its stdout, stderr, arguments and
// environment come from the session, and the filesystem is only visible when
// the session's IO access allows it: a custom filesystem is mounted read-only
// at "/", and session mounts are mounted with their modes.
package wasm

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/caffeineduck/glot/engine"
	glerrors "github.com/caffeineduck/glot/errors"
	"github.com/caffeineduck/glot/hostfunc"
	"github.com/caffeineduck/glot/interop"
)

// ID is the language id.
const ID = "wasm"

const (
	// OptionMemoryLimitPages caps the linear memory of every module, in 64KiB
	// pages. 0 keeps the wazero default.
	OptionMemoryLimitPages = "MemoryLimitPages"
	// OptionArgs are space separated arguments passed to WASI after the
	// module name.
	OptionArgs = "Args"
)

// Language implements engine.Language for WebAssembly.
type Language struct {
	cache    wazero.CompilationCache
	cacheDir string
	cacheErr error
}

// Option configures a Language.
type Option func(*Language)

// WithCompilationCacheDir persists compiled modules in dir so later
// processes skip compilation.
func WithCompilationCacheDir(dir string) Option {
	return func(l *Language) { l.cacheDir = dir }
}

// New returns the WebAssembly language. Instances created by it share one
// compilation cache.
func New(opts ...Option) *Language {
	l := &Language{}
	for _, opt := range opts {
		opt(l)
	}
	if l.cacheDir != "" {
		l.cache, l.cacheErr = wazero.NewCompilationCacheWithDir(l.cacheDir)
	} else {
		l.cache = wazero.NewCompilationCache()
	}
	return l
}

func (l *Language) Info() engine.LanguageInfo {
	return engine.LanguageInfo{
		ID:        ID,
		Name:      "WebAssembly",
		Version:   "2.0",
		MIMETypes: []string{"application/wasm"},
		Policy:    engine.PolicyShared,
		Options: map[string]string{
			OptionMemoryLimitPages: "0",
			OptionArgs:             "",
		},
	}
}

// CompatibleOptions shares instances between sessions with the same memory
// limit. Arguments are per session.
func (l *Language) CompatibleOptions(prev, next engine.Options) (bool, error) {
	if _, err := memoryLimit(next); err != nil {
		return false, err
	}
	return prev.Get(OptionMemoryLimitPages, "0") == next.Get(OptionMemoryLimitPages, "0"), nil
}

// Close releases the compilation cache. Instances still running keep working
// without it.
func (l *Language) Close(ctx context.Context) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Close(ctx)
}

func memoryLimit(opts engine.Options) (uint32, error) {
	raw := opts.Get(OptionMemoryLimitPages, "0")
	pages, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || pages > 65536 {
		return 0, fmt.Errorf("wasm: invalid %s %q", OptionMemoryLimitPages, raw)
	}
	return uint32(pages), nil
}

func (l *Language) NewInstance(opts engine.Options) (engine.Instance, error) {
	if l.cacheErr != nil {
		return nil, fmt.Errorf("wasm: create compilation cache: %w", l.cacheErr)
	}
	pages, err := memoryLimit(opts)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	rtConfig := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(l.cache)
	if pages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(pages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("wasm: instantiate WASI: %w", err)
	}
	return &instance{runtime: rt}, nil
}

// instance owns one wazero runtime. Modules of every attached session are
// instantiated anonymously into it, so sessions never see each other.
type instance struct {
	runtime wazero.Runtime
}

func (i *instance) CreateContext(env *engine.Env) (engine.LanguageContext, error) {
	c := &langContext{
		env:      env,
		args:     strings.Fields(env.Options().Get(OptionArgs, "")),
		bindings: interop.NewMemberObject(ID, nil),
	}
	env.Logger().Debug("wasm context created", zap.Strings("args", c.args))
	return c, nil
}

func (i *instance) Parse(ctx context.Context, src engine.Source) (engine.CallTarget, error) {
	compiled, err := i.runtime.CompileModule(ctx, src.Content)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", src.Name, err)
	}
	return &module{name: src.Name, runtime: i.runtime, compiled: compiled}, nil
}

// Dispose closes the runtime together with every compiled module and
// instantiated module left in it.
func (i *instance) Dispose() {
	i.runtime.Close(context.Background())
}

// module is a compiled module.
type module struct {
	name     string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

func (m *module) Execute(ctx context.Context, lc engine.LanguageContext) (any, error) {
	return lc.(*langContext).instantiate(ctx, m)
}

// langContext is the per-session state: instantiated modules and the
// bindings naming their exports.
type langContext struct {
	env      *engine.Env
	args     []string
	bindings *interop.Object

	mu      sync.Mutex
	modules []api.Module
}

func (c *langContext) Bindings() *interop.Object { return c.bindings }

func (c *langContext) Dispose() {
	c.mu.Lock()
	modules := c.modules
	c.modules = nil
	c.mu.Unlock()

	for _, mod := range modules {
		mod.Close(context.Background())
	}
	c.env.Logger().Debug("wasm context disposed", zap.Int("modules", len(modules)))
}

func (c *langContext) moduleConfig(name string) wazero.ModuleConfig {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStdout(c.env.Stdout()).
		WithStderr(c.env.Stderr()).
		WithArgs(append([]string{name}, c.args...)...).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)

	env := c.env.Environment()
	for _, k := range slices.Sorted(maps.Keys(env)) {
		cfg = cfg.WithEnv(k, env[k])
	}
	if fsConfig, ok := c.fsConfig(); ok {
		cfg = cfg.WithFSConfig(fsConfig)
	}
	return cfg
}

// fsConfig maps the session's IO access onto WASI preopens.
func (c *langContext) fsConfig() (wazero.FSConfig, bool) {
	io := c.env.IO()
	mounts := c.env.Mounts()
	custom := c.env.FileSystem()
	cwd := c.env.WorkingDirectory()
	hostRoot := io.AllowsHostFileAccess() && cwd != ""

	if custom == nil && !hostRoot && len(mounts) == 0 {
		return nil, false
	}

	cfg := wazero.NewFSConfig()
	switch {
	case custom != nil:
		cfg = cfg.WithFSMount(billyFS{fs: custom}, "/")
	case hostRoot:
		cfg = cfg.WithDirMount(cwd, "/")
	}
	for _, m := range mounts {
		// A billy backed mount is exposed read-only; WASI writes need a host directory.
		if m.FS != nil {
			cfg = cfg.WithFSMount(billyFS{fs: m.FS}, m.VirtualPath)
			continue
		}
		if m.HostPath == "" {
			continue
		}
		if m.Mode == hostfunc.MountReadOnly {
			cfg = cfg.WithReadOnlyDirMount(m.HostPath, m.VirtualPath)
		} else {
			cfg = cfg.WithDirMount(m.HostPath, m.VirtualPath)
		}
	}
	return cfg, true
}

func (c *langContext) instantiate(ctx context.Context, m *module) (any, error) {
	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, c.moduleConfig(m.name))
	if err != nil {
		return nil, c.callError(ctx, m.name, err)
	}
	// A _start that exited with code 0 leaves nothing behind.
	if mod == nil {
		return nil, nil
	}

	c.mu.Lock()
	c.modules = append(c.modules, mod)
	c.mu.Unlock()

	exports := c.exports(mod)
	if err := interop.Write(c.bindings, m.name, exports); err != nil {
		return nil, err
	}
	return exports, nil
}

// exports wraps the exported functions of mod as executable objects.
func (c *langContext) exports(mod api.Module) *interop.Object {
	defs := mod.ExportedFunctionDefinitions()
	members := make(map[string]any, len(defs))
	var mu sync.Mutex
	for name, def := range defs {
		if name == "_start" {
			continue
		}
		members[name] = c.function(mod, &mu, name, def)
	}
	return interop.NewMemberObject("exports", members)
}

// function adapts one export. Calls into the same module are serialized
// because a module instance is not safe for concurrent use.
func (c *langContext) function(mod api.Module, mu *sync.Mutex, name string, def api.FunctionDefinition) *interop.Object {
	fn := mod.ExportedFunction(name)
	params := def.ParamTypes()
	results := def.ResultTypes()

	return interop.NewFunction(name, len(params), len(params), func(ctx context.Context, args []any) (any, error) {
		stack := make([]uint64, max(len(params), len(results)))
		for i, t := range params {
			raw, err := encode(t, args[i])
			if err != nil {
				return nil, err
			}
			stack[i] = raw
		}

		mu.Lock()
		err := fn.CallWithStack(ctx, stack)
		mu.Unlock()
		if err != nil {
			return nil, c.callError(ctx, name, err)
		}

		switch len(results) {
		case 0:
			return nil, nil
		case 1:
			return decode(results[0], stack[0]), nil
		}
		out := make([]any, len(results))
		for i, t := range results {
			out[i] = decode(t, stack[i])
		}
		return interop.NewArrayObject("results", out, false), nil
	})
}

func (c *langContext) callError(ctx context.Context, name string, err error) error {
	if ctx.Err() != nil {
		return glerrors.Cancelled(context.Cause(ctx))
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		return glerrors.Guest(ID, fmt.Errorf("%s exited with code %d", name, exit.ExitCode()))
	}
	return glerrors.Guest(ID, fmt.Errorf("%s: %w", name, err))
}

func encode(t api.ValueType, v any) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		n, err := interop.AsInt32(v)
		return api.EncodeI32(n), err
	case api.ValueTypeI64:
		n, err := interop.AsInt64(v)
		return api.EncodeI64(n), err
	case api.ValueTypeF32:
		f, err := interop.AsFloat32(v)
		return api.EncodeF32(f), err
	case api.ValueTypeF64:
		f, err := interop.AsFloat64(v)
		return api.EncodeF64(f), err
	}
	return 0, glerrors.UnsupportedType("wasm parameter type "+api.ValueTypeName(t), v)
}

func decode(t api.ValueType, raw uint64) any {
	switch t {
	case api.ValueTypeI32:
		return api.DecodeI32(raw)
	case api.ValueTypeI64:
		return int64(raw)
	case api.ValueTypeF32:
		return api.DecodeF32(raw)
	case api.ValueTypeF64:
		return api.DecodeF64(raw)
	}
	return raw
}
