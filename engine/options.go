package engine

import (
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
	"go.uber.org/zap"

	"github.com/caffeineduck/glot/access"
	glerrors "github.com/caffeineduck/glot/errors"
	"github.com/caffeineduck/glot/hostfunc"
)

// OptionSourceCache is the engine option that enables the parsed-source
// cache. It defaults to "true".
const OptionSourceCache = "engine.SourceCache"

// ExceptionHandler receives guest-visible errors leaving Eval and returns
// the error to report, possibly a replacement. Returning nil swallows it.
type ExceptionHandler func(err error) error

// Option configures an Engine or a Session. Options are accumulated first
// and validated together, so the order they are given in does not matter.
type Option func(*config)

type config struct {
	set map[string]bool

	languages []Language
	options   map[string]string
	logger    *zap.Logger
	handler   ExceptionHandler

	engine         *Engine
	hostAccess     access.HostAccess
	io             access.IOAccess
	fs             billy.Filesystem
	allowIO        bool
	allowHost      bool
	createProcess  bool
	envAccess      access.EnvironmentAccess
	env            map[string]string
	cwd            string
	mounts         []hostfunc.Mount
	allowedHosts   []string
	kv             *hostfunc.KVConfig
	hostFuncs      *hostfunc.Registry
	stdout         io.Writer
	stderr         io.Writer
	sessionHandler ExceptionHandler
	permitted      []string

	errs []error
}

func defaultConfig() config {
	return config{
		set:        make(map[string]bool),
		options:    make(map[string]string),
		hostAccess: access.HostAccessExplicit,
		io:         access.IONone,
		envAccess:  access.EnvironmentNone,
		env:        make(map[string]string),
		stdout:     io.Discard,
		stderr:     io.Discard,
	}
}

func newConfig(opts []Option) config {
	c := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}

func (c *config) mark(name string) { c.set[name] = true }

// Engine options

// WithLanguages registers guest languages. With a session it configures
// the session's implicit engine.
func WithLanguages(langs ...Language) Option {
	return func(c *config) {
		c.mark("WithLanguages")
		c.languages = append(c.languages, langs...)
	}
}

// WithOption sets an option. Keys are "engine.<name>" or "<language>.<name>"
// where name is one of the options the language declares.
func WithOption(key, value string) Option {
	return func(c *config) {
		c.mark("WithOption")
		c.options[key] = value
	}
}

// WithLogger sets the engine logger. Defaults to the package logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.mark("WithLogger")
		c.logger = logger
	}
}

// WithExceptionHandler sets the engine-wide handler for guest errors, used
// by sessions without their own handler.
func WithExceptionHandler(h ExceptionHandler) Option {
	return func(c *config) {
		c.mark("WithExceptionHandler")
		c.handler = h
	}
}

// Session options

// WithEngine attaches the session to an explicit engine instead of a bound
// engine created for the session alone.
func WithEngine(e *Engine) Option {
	return func(c *config) {
		c.mark("WithEngine")
		c.engine = e
	}
}

// WithHostAccess sets the host object access policy.
func WithHostAccess(h access.HostAccess) Option {
	return func(c *config) {
		c.mark("WithHostAccess")
		c.hostAccess = h
	}
}

// WithExtendHostAccess sets the host access policy to base extended by fn.
func WithExtendHostAccess(base access.HostAccess, fn func(b *access.HostAccessBuilder)) Option {
	return func(c *config) {
		c.mark("WithExtendHostAccess")
		h, err := base.Extend(fn)
		if err != nil {
			c.errs = append(c.errs, err)
			return
		}
		c.hostAccess = h
	}
}

// WithAllowHostAccess is shorthand for HostAccessAll (true) or
// HostAccessNone (false).
func WithAllowHostAccess(allow bool) Option {
	return func(c *config) {
		c.mark("WithAllowHostAccess")
		c.allowHost = allow
	}
}

// WithIO sets the file and socket policy.
func WithIO(a access.IOAccess) Option {
	return func(c *config) {
		c.mark("WithIO")
		c.io = a
	}
}

// WithExtendIO sets the IO policy to base extended by fn.
func WithExtendIO(base access.IOAccess, fn func(b *access.IOAccessBuilder)) Option {
	return func(c *config) {
		c.mark("WithExtendIO")
		a, err := base.Extend(fn)
		if err != nil {
			c.errs = append(c.errs, err)
			return
		}
		c.io = a
	}
}

// WithAllowIO is shorthand for IOAll (true) or IONone (false).
func WithAllowIO(allow bool) Option {
	return func(c *config) {
		c.mark("WithAllowIO")
		c.allowIO = allow
	}
}

// WithFileSystem backs guest file access with fs. It is applied on top of
// the IO policy, so combining it with host file access fails.
func WithFileSystem(fs billy.Filesystem) Option {
	return func(c *config) {
		c.mark("WithFileSystem")
		c.fs = fs
	}
}

// WithAllowCreateProcess enables the process_run host function.
func WithAllowCreateProcess(allow bool) Option {
	return func(c *config) {
		c.mark("WithAllowCreateProcess")
		c.createProcess = allow
	}
}

// WithEnvironmentAccess sets whether processes inherit the host environment.
func WithEnvironmentAccess(e access.EnvironmentAccess) Option {
	return func(c *config) {
		c.mark("WithEnvironmentAccess")
		c.envAccess = e
	}
}

// WithEnvironment sets a session environment variable.
func WithEnvironment(key, value string) Option {
	return func(c *config) {
		c.mark("WithEnvironment")
		c.env[key] = value
	}
}

// WithCurrentWorkingDirectory sets the working directory for processes. It
// must be absolute.
func WithCurrentWorkingDirectory(dir string) Option {
	return func(c *config) {
		c.mark("WithCurrentWorkingDirectory")
		c.cwd = dir
	}
}

// WithMount adds a filesystem mount for the fs_* host functions. The
// virtual path is what guest code sees; the host path is the actual
// location.
//
//	engine.WithMount(hostfunc.Mount{VirtualPath: "/data", HostPath: "./input", Mode: hostfunc.MountReadOnly})
func WithMount(m hostfunc.Mount) Option {
	return func(c *config) {
		c.mark("WithMount")
		c.mounts = append(c.mounts, m)
	}
}

// WithAllowedHosts sets the hosts the http_* host functions may reach.
func WithAllowedHosts(hosts ...string) Option {
	return func(c *config) {
		c.mark("WithAllowedHosts")
		c.allowedHosts = append(c.allowedHosts, hosts...)
	}
}

// WithKV enables the kv_* host functions with the given limits.
func WithKV(cfg hostfunc.KVConfig) Option {
	return func(c *config) {
		c.mark("WithKV")
		c.kv = &cfg
	}
}

// WithHostFunctions adds user host functions. The registry is copied when
// the session is created.
func WithHostFunctions(r *hostfunc.Registry) Option {
	return func(c *config) {
		c.mark("WithHostFunctions")
		c.hostFuncs = r
	}
}

// WithStdout sets where guest output goes. Defaults to io.Discard.
func WithStdout(w io.Writer) Option {
	return func(c *config) {
		c.mark("WithStdout")
		c.stdout = w
	}
}

// WithStderr sets where guest error output goes. Defaults to io.Discard.
func WithStderr(w io.Writer) Option {
	return func(c *config) {
		c.mark("WithStderr")
		c.stderr = w
	}
}

// WithSessionExceptionHandler sets the session's handler for guest errors.
func WithSessionExceptionHandler(h ExceptionHandler) Option {
	return func(c *config) {
		c.mark("WithSessionExceptionHandler")
		c.sessionHandler = h
	}
}

// WithPermittedLanguages restricts the languages the session may use.
func WithPermittedLanguages(ids ...string) Option {
	return func(c *config) {
		c.mark("WithPermittedLanguages")
		c.permitted = append(c.permitted, ids...)
	}
}

// Apply bundles options into one.
func Apply(opts ...Option) Option {
	return func(c *config) {
		for _, opt := range opts {
			if opt != nil {
				opt(c)
			}
		}
	}
}

var engineOnly = []string{"WithLanguages", "WithLogger", "WithExceptionHandler"}

// validateEngine checks options given to New.
func (c *config) validateEngine() error {
	if len(c.errs) > 0 {
		return c.errs[0]
	}
	for _, name := range slices.Sorted(maps.Keys(c.set)) {
		if name != "WithOption" && !slices.Contains(engineOnly, name) {
			return glerrors.Config("%s is a session option and cannot configure an engine", name)
		}
	}
	return nil
}

// validateSession runs the fixed list of session checks and resolves the
// effective capability descriptors.
func (c *config) validateSession() error {
	if len(c.errs) > 0 {
		return c.errs[0]
	}

	if c.engine != nil {
		for _, name := range engineOnly {
			if c.set[name] {
				return glerrors.Config("%s cannot be used with an explicit engine", name)
			}
		}
		for _, key := range slices.Sorted(maps.Keys(c.options)) {
			if strings.HasPrefix(key, "engine.") {
				return glerrors.Config("option %q cannot be used with an explicit engine", key)
			}
		}
	}

	for _, pair := range [][2]string{
		{"WithHostAccess", "WithAllowHostAccess"},
		{"WithExtendHostAccess", "WithAllowHostAccess"},
		{"WithIO", "WithAllowIO"},
		{"WithExtendIO", "WithAllowIO"},
		{"WithFileSystem", "WithIO"},
		{"WithFileSystem", "WithAllowIO"},
	} {
		if c.set[pair[0]] && c.set[pair[1]] {
			return glerrors.Exclusive(pair[0], pair[1])
		}
	}

	if c.set["WithAllowHostAccess"] {
		c.hostAccess = access.HostAccessNone
		if c.allowHost {
			c.hostAccess = access.HostAccessAll
		}
	}
	if c.set["WithAllowIO"] {
		c.io = access.IONone
		if c.allowIO {
			c.io = access.IOAll
		}
	}
	if c.fs != nil {
		a, err := c.io.Extend(func(b *access.IOAccessBuilder) { b.FileSystem(c.fs) })
		if err != nil {
			return err
		}
		c.io = a
	}

	if c.cwd != "" && !filepath.IsAbs(c.cwd) {
		return glerrors.Config("WithCurrentWorkingDirectory requires an absolute path, got %q", c.cwd)
	}
	for _, m := range c.mounts {
		if m.FS == nil && !c.io.AllowsHostFileAccess() {
			return glerrors.Config("WithMount %s requires host file access", m.VirtualPath)
		}
		if m.FS != nil && !c.io.AllowsFiles() {
			return glerrors.Config("WithMount %s requires file access", m.VirtualPath)
		}
	}
	if len(c.allowedHosts) > 0 && !c.io.AllowsHostSocketAccess() {
		return glerrors.Config("WithAllowedHosts requires host socket access")
	}
	return nil
}

// splitOptionKey splits "group.name".
func splitOptionKey(key string) (group, name string, err error) {
	group, name, ok := strings.Cut(key, ".")
	if !ok || group == "" || name == "" {
		return "", "", glerrors.Config("invalid option key %q: expected <group>.<name>", key)
	}
	return group, name, nil
}

func parseBoolOption(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, glerrors.Config("option %s: invalid boolean %q", key, value)
	}
	return b, nil
}
