package contract

import (
	"context"
	"io"
)

// Reader: 输入源抽象（文件/目录）。用于离线子命令读取已生成的病例或病历文本。
// 约束：
// 1) 流式读取，按文件维度回调；
// 2) ArtifactID 稳定且去平台差异化；
// 3) 不做业务解析，仅提供字节流；
// 4) 不在内部起并发。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(id ArtifactID, r io.ReadCloser) error) error
}
