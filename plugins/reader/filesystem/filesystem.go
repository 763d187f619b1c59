// Package filesystem 按稳定顺序遍历文件与目录，供离线子命令读取已生成的病例与病历文本。
package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"bcaugment/pkg/contract"
)

type Options struct {
	// BufSize: 读缓冲区大小，默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 递归时跳过的目录基名（大小写不敏感），例如 ["logs","pools"]。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// Extensions: 仅产出这些扩展名的文件（大小写不敏感，含点）。为空表示不过滤。
	// 只作用于目录递归；显式给出的文件 root 总会产出。
	Extensions []string `json:"extensions"`
}

type FileSystem struct {
	bufSize    int
	excludeDir map[string]bool
	exts       map[string]bool
}

var _ contract.Reader = (*FileSystem)(nil)

func New(opts *Options) *FileSystem {
	r := &FileSystem{bufSize: 64 << 10, excludeDir: map[string]bool{}, exts: map[string]bool{}}
	if opts == nil {
		return r
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	for _, n := range opts.ExcludeDirNames {
		if n != "" {
			r.excludeDir[strings.ToLower(n)] = true
		}
	}
	for _, e := range opts.Extensions {
		if e != "" {
			r.exts[strings.ToLower(e)] = true
		}
	}
	return r
}

// Iterate 依次处理 roots；roots 为空或仅为 "-" 时读取 STDIN。
// 目录按字典序递归，不跟随目录符号链接；指向常规文件的符号链接会被读取；非常规文件跳过。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(id contract.ArtifactID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield("stdin", r.wrap(io.NopCloser(os.Stdin)))
	}
	for _, root := range roots {
		if root == "-" {
			return fmt.Errorf("fs reader: %w: stdin '-' cannot be mixed with other roots", contract.ErrInvalidInput)
		}
	}
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return err
		}
		if info.IsDir() {
			err = r.walk(ctx, root, yield)
		} else if info.Mode().IsRegular() {
			err = r.open(root, yield)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) walk(ctx context.Context, root string, yield func(contract.ArtifactID, io.ReadCloser) error) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if p != root && r.excludeDir[strings.ToLower(d.Name())] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(r.exts) > 0 && !r.exts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		info, err := os.Stat(p) // 跟随文件符号链接
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return r.open(p, yield)
	})
}

func (r *FileSystem) open(p string, yield func(contract.ArtifactID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	rc := r.wrap(f)
	if err := yield(contract.NormalizeArtifactID(p), rc); err != nil {
		_ = rc.Close()
		return err
	}
	return nil
}

type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func (r *FileSystem) wrap(rc io.ReadCloser) *bufferedCloser {
	return &bufferedCloser{Reader: bufio.NewReaderSize(rc, r.bufSize), c: rc}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
