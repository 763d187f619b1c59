package rate

import (
	"crypto/sha256"
	"fmt"
	"os"
)

// DeriveKey 由 client 名与其原样 options 计算限流分组键：client:sha256(凭据)。
// openai 需要 api_key 或 api_key_env；report 服务无鉴权时以 url 作为凭据；
// mock/flaky 为本地实现，同名 client 共享一个分组。
func DeriveKey(client string, opts map[string]any) (Key, error) {
	str := func(k string) string {
		s, _ := opts[k].(string)
		return s
	}
	secret := str("api_key")
	if secret == "" {
		if env := str("api_key_env"); env != "" {
			secret = os.Getenv(env)
		}
	}
	switch client {
	case "mock", "flaky":
		if secret == "" {
			secret = "local"
		}
	case "report":
		if secret == "" {
			secret = str("url")
		}
	}
	if secret == "" {
		return "", fmt.Errorf("rate: missing api key for client %s", client)
	}
	sum := sha256.Sum256([]byte(secret))
	return Key(fmt.Sprintf("%s:%x", client, sum[:8])), nil
}
