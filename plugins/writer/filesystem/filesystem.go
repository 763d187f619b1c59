// Package filesystem 将工件写入输出目录：同目录临时文件 + rename 的原子替换。
package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"bcaugment/pkg/contract"
)

type Options struct {
	// OutputDir: 输出根目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 默认 true；显式 false 时直接覆盖写。
	Atomic   *bool       `json:"atomic,omitempty"`
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	BufSize  int         `json:"buf_size,omitempty"`
}

type FS struct {
	root    string
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

var _ contract.Writer = (*FS)(nil)

func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("fs writer: %w: missing output_dir", contract.ErrInvalidInput)
	}
	w := &FS{root: opts.OutputDir, atomic: true, permF: 0o644, permD: 0o755, bufSize: 64 << 10}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if opts.PermFile != 0 {
		w.permF = opts.PermFile
	}
	if opts.PermDir != 0 {
		w.permD = opts.PermDir
	}
	if opts.BufSize > 0 {
		w.bufSize = opts.BufSize
	}
	return w, nil
}

// Root 返回输出根目录。
func (w *FS) Root() string { return w.root }

// Write 将 r 的全部字节写入 id 映射的目标路径；中间目录按需创建。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.resolve(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	if w.atomic {
		return w.writeAtomic(ctx, dest, r)
	}
	return w.writeDirect(ctx, dest, r)
}

// resolve 拒绝空路径、绝对路径、卷名与父级逃逸。
func (w *FS) resolve(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(string(id)))
	switch {
	case rel == "." || rel == "",
		filepath.IsAbs(rel),
		filepath.VolumeName(rel) != "",
		rel == "..", strings.HasPrefix(rel, ".."+string(filepath.Separator)):
		return "", fmt.Errorf("%w: %q", contract.ErrPathInvalid, id)
	}
	return filepath.Join(w.root, rel), nil
}

func (w *FS) writeDirect(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, ctxReader{ctx, r}); err != nil {
		return err
	}
	return bw.Flush()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) (err error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()
	_ = os.Chmod(tmpPath, w.permF)

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err = io.Copy(bw, ctxReader{ctx, r}); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	// Windows 上 os.Rename 使用 MoveFileEx(REPLACE_EXISTING)
	if err = os.Rename(tmpPath, dest); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir 尽力 fsync 父目录；Windows 不支持目录 fsync。
func syncDir(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	_ = f.Close()
}

// ctxReader 在每次 Read 前检查 ctx。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
