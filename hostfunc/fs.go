package hostfunc

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// MountMode defines the permission level for a mount point.
type MountMode int

const (
	// MountReadOnly allows only read operations.
	MountReadOnly MountMode = iota
	// MountReadWrite allows read and write operations to existing files/dirs.
	MountReadWrite
	// MountReadWriteCreate allows read, write, and create operations.
	MountReadWriteCreate
)

func (m MountMode) String() string {
	switch m {
	case MountReadOnly:
		return "ro"
	case MountReadWrite:
		return "rw"
	case MountReadWriteCreate:
		return "rwc"
	}
	return "unknown"
}

// ParseMountMode parses "ro", "rw" or "rwc".
func ParseMountMode(s string) (MountMode, error) {
	switch s {
	case "ro", "":
		return MountReadOnly, nil
	case "rw":
		return MountReadWrite, nil
	case "rwc":
		return MountReadWriteCreate, nil
	}
	return 0, errors.New("invalid mount mode: " + s)
}

// Mount represents a virtual path mapped to a backing filesystem.
// FS takes precedence over HostPath.
type Mount struct {
	VirtualPath string           // Path as seen by sandboxed code (e.g., "/data")
	HostPath    string           // Directory on the host filesystem
	Mode        MountMode        // Permission level
	FS          billy.Filesystem // Optional custom backing filesystem
}

const (
	DefaultMaxFileSize   = 10 << 20
	DefaultMaxWriteSize  = 10 << 20
	DefaultMaxPathLength = 4096
)

type fsConfig struct {
	maxFileSize   int64
	maxWriteSize  int64
	maxPathLength int
}

type FSOption func(*fsConfig)

func WithMaxFileSize(size int64) FSOption {
	return func(c *fsConfig) { c.maxFileSize = size }
}

func WithMaxWriteSize(size int64) FSOption {
	return func(c *fsConfig) { c.maxWriteSize = size }
}

func WithMaxPathLength(n int) FSOption {
	return func(c *fsConfig) { c.maxPathLength = n }
}

type mount struct {
	virtual string
	mode    MountMode
	fs      billy.Filesystem
}

// FS provides filesystem operations over explicit mount points. Every mount is
// a chrooted billy filesystem, so resolved paths cannot leave it.
type FS struct {
	mounts []mount
	cfg    fsConfig
}

// NewFS creates a new filesystem handler with the given mount points.
func NewFS(mounts []Mount, opts ...FSOption) *FS {
	cfg := fsConfig{
		maxFileSize:   DefaultMaxFileSize,
		maxWriteSize:  DefaultMaxWriteSize,
		maxPathLength: DefaultMaxPathLength,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	normalized := make([]mount, 0, len(mounts))
	for _, m := range mounts {
		backing := m.FS
		if backing == nil {
			if m.HostPath == "" {
				continue
			}
			backing = osfs.New(m.HostPath)
		}
		normalized = append(normalized, mount{
			virtual: "/" + strings.Trim(m.VirtualPath, "/"),
			mode:    m.Mode,
			fs:      backing,
		})
	}
	return &FS{mounts: normalized, cfg: cfg}
}

// Register installs the fs_* functions.
func (f *FS) Register(r *Registry) {
	r.Register("fs_read", f.Read)
	r.Register("fs_write", f.Write)
	r.Register("fs_list", f.List)
	r.Register("fs_exists", f.Exists)
	r.Register("fs_mkdir", f.Mkdir)
	r.Register("fs_remove", f.Remove)
	r.Register("fs_stat", f.Stat)
}

// resolve maps a virtual path to a mount and a path inside it.
func (f *FS) resolve(virtualPath string, needWrite bool) (*mount, string, error) {
	if len(virtualPath) > f.cfg.maxPathLength {
		return nil, "", errors.New("path exceeds max length")
	}

	// Cleaning a rooted path collapses any ".." before matching mounts.
	vp := path.Clean("/" + strings.TrimPrefix(virtualPath, "/"))

	for i := range f.mounts {
		m := &f.mounts[i]
		if vp == m.virtual || m.virtual == "/" || strings.HasPrefix(vp, m.virtual+"/") {
			if needWrite && m.mode == MountReadOnly {
				return nil, "", errors.New("permission denied: read-only mount")
			}
			rel := strings.TrimPrefix(vp, strings.TrimSuffix(m.virtual, "/"))
			if rel == "" {
				rel = "/"
			}
			return m, rel, nil
		}
	}

	return nil, "", errors.New("permission denied: path not in any mount")
}

func pathArg(args map[string]any) (string, error) {
	p, ok := args["path"].(string)
	if !ok {
		return "", errors.New("path required")
	}
	return p, nil
}

// Read returns the contents of a file.
func (f *FS) Read(ctx context.Context, args map[string]any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	m, rel, err := f.resolve(p, false)
	if err != nil {
		return nil, err
	}

	info, err := m.fs.Stat(rel)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("file not found: " + p)
		}
		return nil, errors.New("read error: " + err.Error())
	}
	if info.Size() > f.cfg.maxFileSize {
		return nil, errors.New("file exceeds max size")
	}

	file, err := m.fs.Open(rel)
	if err != nil {
		return nil, errors.New("read error: " + err.Error())
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, f.cfg.maxFileSize))
	if err != nil {
		return nil, errors.New("read error: " + err.Error())
	}

	return string(data), nil
}

// Write writes content to a file.
func (f *FS) Write(ctx context.Context, args map[string]any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, errors.New("content required")
	}
	if int64(len(content)) > f.cfg.maxWriteSize {
		return nil, errors.New("content exceeds max write size")
	}

	m, rel, err := f.resolve(p, true)
	if err != nil {
		return nil, err
	}

	if _, statErr := m.fs.Stat(rel); os.IsNotExist(statErr) && m.mode != MountReadWriteCreate {
		return nil, errors.New("permission denied: cannot create new files")
	}

	if err := util.WriteFile(m.fs, rel, []byte(content), 0644); err != nil {
		return nil, errors.New("write error: " + err.Error())
	}

	return "ok", nil
}

// List returns the contents of a directory.
func (f *FS) List(ctx context.Context, args map[string]any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	m, rel, err := f.resolve(p, false)
	if err != nil {
		return nil, err
	}

	entries, err := m.fs.ReadDir(rel)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("directory not found: " + p)
		}
		return nil, errors.New("list error: " + err.Error())
	}

	result := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		result = append(result, map[string]any{
			"name":   entry.Name(),
			"is_dir": entry.IsDir(),
			"size":   entry.Size(),
		})
	}

	return result, nil
}

// Exists checks if a path exists.
func (f *FS) Exists(ctx context.Context, args map[string]any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	m, rel, err := f.resolve(p, false)
	if err != nil {
		// Permission denied means it doesn't exist from sandbox perspective
		return false, nil
	}

	_, err = m.fs.Stat(rel)
	return err == nil, nil
}

// Mkdir creates a directory.
func (f *FS) Mkdir(ctx context.Context, args map[string]any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	m, rel, err := f.resolve(p, true)
	if err != nil {
		return nil, err
	}
	if m.mode != MountReadWriteCreate {
		return nil, errors.New("permission denied: cannot create directories")
	}

	if err := m.fs.MkdirAll(rel, 0755); err != nil {
		return nil, errors.New("mkdir error: " + err.Error())
	}

	return "ok", nil
}

// Remove deletes a file or empty directory.
func (f *FS) Remove(ctx context.Context, args map[string]any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	m, rel, err := f.resolve(p, true)
	if err != nil {
		return nil, err
	}

	if err := m.fs.Remove(rel); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("file not found: " + p)
		}
		if strings.Contains(err.Error(), "not empty") {
			return nil, errors.New("directory not empty: " + p)
		}
		return nil, errors.New("remove error: " + err.Error())
	}

	return "ok", nil
}

// Stat returns information about a file or directory.
func (f *FS) Stat(ctx context.Context, args map[string]any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	m, rel, err := f.resolve(p, false)
	if err != nil {
		return nil, err
	}

	info, err := m.fs.Stat(rel)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("file not found: " + p)
		}
		return nil, errors.New("stat error: " + err.Error())
	}

	return map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"is_dir":   info.IsDir(),
		"mod_time": info.ModTime().Unix(),
	}, nil
}
