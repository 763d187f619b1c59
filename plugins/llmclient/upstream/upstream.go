// Package upstream 将 HTTP 生成服务的非 2xx 响应映射为 contract 错误。
package upstream

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"bcaugment/pkg/contract"
)

// Error 实现 net.Error 与 contract.UpstreamError：5xx/408 归为可重试的网络类错误。
type Error struct {
	Client string
	Status int
	Msg    string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s upstream %d: %s", e.Client, e.Status, e.Msg)
}
func (e Error) Timeout() bool           { return e.Status == http.StatusRequestTimeout }
func (e Error) Temporary() bool         { return e.Status/100 == 5 }
func (e Error) UpstreamStatus() int     { return e.Status }
func (e Error) UpstreamMessage() string { return e.Msg }

var _ contract.UpstreamError = Error{}

// Check 检查响应状态：2xx 返回 nil；429 → ErrRateLimited；408/5xx → Error；其余 4xx → ErrInvalidInput。
// 出错时读取最多 4KiB 响应体作为诊断信息。
func Check(client string, resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", client, contract.ErrRateLimited)
	}
	slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	msg := strings.TrimSpace(string(slurp))
	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
		return Error{Client: client, Status: resp.StatusCode, Msg: msg}
	}
	return fmt.Errorf("%s upstream %d: %s: %w", client, resp.StatusCode, msg, contract.ErrInvalidInput)
}
