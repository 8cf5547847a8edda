package wasm

import (
	"io"
	"io/fs"
	"time"

	"github.com/go-git/go-billy/v5"
)

// billyFS exposes a billy filesystem as an fs.FS, which is what wazero
// mounts for WASI.
type billyFS struct {
	fs billy.Filesystem
}

func (b billyFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	info, err := b.fs.Stat(name)
	if err != nil && name == "." {
		info, err = rootInfo{}, nil
	}
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if info.IsDir() {
		return &billyDir{fs: b.fs, name: name, info: info}, nil
	}
	f, err := b.fs.Open(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &billyFile{File: f, info: info}, nil
}

type billyFile struct {
	billy.File
	info fs.FileInfo
}

func (f *billyFile) Stat() (fs.FileInfo, error) { return f.info, nil }

type billyDir struct {
	fs      billy.Filesystem
	name    string
	info    fs.FileInfo
	entries []fs.DirEntry
	read    bool
}

func (d *billyDir) Stat() (fs.FileInfo, error) { return d.info, nil }

func (d *billyDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *billyDir) Close() error { return nil }

// ReadDir follows fs.ReadDirFile: n <= 0 returns everything left, n > 0
// returns at most n entries and io.EOF once exhausted.
func (d *billyDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.read {
		infos, err := d.fs.ReadDir(d.name)
		if err != nil {
			return nil, &fs.PathError{Op: "readdir", Path: d.name, Err: err}
		}
		d.entries = make([]fs.DirEntry, len(infos))
		for i, info := range infos {
			d.entries[i] = fs.FileInfoToDirEntry(info)
		}
		d.read = true
	}

	if n <= 0 {
		out := d.entries
		d.entries = nil
		return out, nil
	}
	if len(d.entries) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(d.entries))
	out := d.entries[:n]
	d.entries = d.entries[n:]
	return out, nil
}

// rootInfo stands in for filesystems that cannot stat their root.
type rootInfo struct{}

func (rootInfo) Name() string       { return "." }
func (rootInfo) Size() int64        { return 0 }
func (rootInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (rootInfo) ModTime() time.Time { return time.Time{} }
func (rootInfo) IsDir() bool        { return true }
func (rootInfo) Sys() any           { return nil }
