package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/caffeineduck/glot/access"
	"github.com/caffeineduck/glot/engine"
	"github.com/caffeineduck/glot/hostfunc"
	"github.com/caffeineduck/glot/language/wasm"
)

// sessionConfig is the capability bundle of CLI sessions. It is read from
// the --config file; flags given on the command line override it.
//
//	timeout: 10s
//	kv: true
//	allow_hosts: [api.example.com]
//	mounts: ["/data:./input:ro"]
//	host_access: all
//	environment: inherit
//	env: {MODE: test}
//	options: {sexp.MaxDepth: "64"}
type sessionConfig struct {
	Timeout      time.Duration     `yaml:"timeout"`
	KV           bool              `yaml:"kv"`
	AllowHosts   []string          `yaml:"allow_hosts"`
	Mounts       []string          `yaml:"mounts"`
	AllowIO      bool              `yaml:"allow_io"`
	AllowProcess bool              `yaml:"allow_process"`
	HostAccess   string            `yaml:"host_access"`
	Environment  string            `yaml:"environment"`
	Env          map[string]string `yaml:"env"`
	Cwd          string            `yaml:"cwd"`
	Memory       string            `yaml:"memory"`
	Options      map[string]string `yaml:"options"`
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		Timeout:     30 * time.Second,
		HostAccess:  "none",
		Environment: "none",
		Memory:      "256mb",
	}
}

func addSessionFlags(cmd *cobra.Command) {
	def := defaultSessionConfig()
	cmd.Flags().Duration("timeout", def.Timeout, "Execution timeout")
	cmd.Flags().Bool("kv", false, "Enable key-value store")
	cmd.Flags().StringSlice("allow-host", nil, "Allow HTTP to host (repeatable)")
	cmd.Flags().StringSlice("mount", nil, "Mount filesystem virtual:host:mode (repeatable)")
	cmd.Flags().Bool("allow-io", false, "Allow all host file and socket access")
	cmd.Flags().Bool("allow-process", false, "Allow the process_run host function")
	cmd.Flags().String("host-access", def.HostAccess, "Host object access: none, explicit, scoped, all")
	cmd.Flags().String("environment", def.Environment, "Environment variables: none, inherit")
	cmd.Flags().StringToString("env", nil, "Set an environment variable KEY=VALUE (repeatable)")
	cmd.Flags().String("cwd", "", "Working directory for processes and WebAssembly")
	cmd.Flags().String("memory", def.Memory, "WebAssembly memory limit: 1mb, 16mb, 64mb, 256mb, 1gb")
	cmd.Flags().StringToString("option", nil, "Language option group.name=value (repeatable)")
}

// loadSessionConfig reads --config and applies the flags that were set.
func loadSessionConfig(cmd *cobra.Command) (sessionConfig, error) {
	cfg := defaultSessionConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}

	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	if changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if changed("kv") {
		cfg.KV, _ = flags.GetBool("kv")
	}
	if changed("allow-host") {
		hosts, _ := flags.GetStringSlice("allow-host")
		cfg.AllowHosts = append(cfg.AllowHosts, hosts...)
	}
	if changed("mount") {
		mounts, _ := flags.GetStringSlice("mount")
		cfg.Mounts = append(cfg.Mounts, mounts...)
	}
	if changed("allow-io") {
		cfg.AllowIO, _ = flags.GetBool("allow-io")
	}
	if changed("allow-process") {
		cfg.AllowProcess, _ = flags.GetBool("allow-process")
	}
	if changed("host-access") {
		cfg.HostAccess, _ = flags.GetString("host-access")
	}
	if changed("environment") {
		cfg.Environment, _ = flags.GetString("environment")
	}
	if changed("env") {
		env, _ := flags.GetStringToString("env")
		cfg.Env = merge(cfg.Env, env)
	}
	if changed("cwd") {
		cfg.Cwd, _ = flags.GetString("cwd")
	}
	if changed("memory") {
		cfg.Memory, _ = flags.GetString("memory")
	}
	if changed("option") {
		opts, _ := flags.GetStringToString("option")
		cfg.Options = merge(cfg.Options, opts)
	}
	return cfg, nil
}

func merge(base, over map[string]string) map[string]string {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]string, len(over))
	}
	maps.Copy(out, over)
	return out
}

// sessionOptions turns the bundle into session options. Mounts and allowed
// hosts grant the host file and socket access they need.
func (c sessionConfig) sessionOptions() ([]engine.Option, error) {
	var opts []engine.Option

	mounts := make([]hostfunc.Mount, 0, len(c.Mounts))
	for _, spec := range c.Mounts {
		m, err := parseMount(spec)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, m)
	}

	if c.AllowIO {
		opts = append(opts, engine.WithAllowIO(true))
	} else if len(mounts) > 0 || len(c.AllowHosts) > 0 {
		opts = append(opts, engine.WithExtendIO(access.IONone, func(b *access.IOAccessBuilder) {
			b.AllowHostFileAccess(len(mounts) > 0)
			b.AllowHostSocketAccess(len(c.AllowHosts) > 0)
		}))
	}
	for _, m := range mounts {
		opts = append(opts, engine.WithMount(m))
	}
	if len(c.AllowHosts) > 0 {
		opts = append(opts, engine.WithAllowedHosts(c.AllowHosts...))
	}
	if c.KV {
		opts = append(opts, engine.WithKV(hostfunc.DefaultKVConfig()))
	}
	if c.AllowProcess {
		opts = append(opts, engine.WithAllowCreateProcess(true))
	}

	hostAccess, ok := access.ParseHostAccess(c.HostAccess)
	if !ok {
		return nil, fmt.Errorf("invalid host access %q (expected none, explicit, scoped or all)", c.HostAccess)
	}
	opts = append(opts, engine.WithHostAccess(hostAccess))

	envAccess, ok := access.ParseEnvironmentAccess(c.Environment)
	if !ok {
		return nil, fmt.Errorf("invalid environment %q (expected none or inherit)", c.Environment)
	}
	opts = append(opts, engine.WithEnvironmentAccess(envAccess))
	for _, k := range slices.Sorted(maps.Keys(c.Env)) {
		opts = append(opts, engine.WithEnvironment(k, c.Env[k]))
	}

	if c.Cwd != "" {
		cwd, err := filepath.Abs(c.Cwd)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithCurrentWorkingDirectory(cwd))
	}

	pages, err := parseMemoryLimit(c.Memory)
	if err != nil {
		return nil, err
	}
	if pages > 0 {
		opts = append(opts, engine.WithOption(wasm.ID+"."+wasm.OptionMemoryLimitPages, strconv.FormatUint(uint64(pages), 10)))
	}
	for _, k := range slices.Sorted(maps.Keys(c.Options)) {
		opts = append(opts, engine.WithOption(k, c.Options[k]))
	}
	return opts, nil
}
