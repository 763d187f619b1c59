package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；跳过空行与以 # 开头的行；支持可选的前缀 "export "。
// - 仅按首个 '=' 分割；若 value 被成对的单/双引号包裹，则去除外层引号；双引号内常见转义作最小处理。
// - 不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if !ok || key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '\'' || val[0] == '"') && val[len(val)-1] == val[0] {
			quoted := val[0]
			val = val[1 : len(val)-1]
			if quoted == '"' {
				val = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`).Replace(val)
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过，不覆盖、不合并）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# bcaugment .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：命令行 > ENV(.env) > 配置文件 > 默认值\n\n")
	b.WriteString("# 配置文件\n")
	b.WriteString("BCAUG_CONFIG_FILE=\n\n")
	b.WriteString("# 运行参数覆盖\n")
	for _, k := range []string{"COUNT", "POOL_SIZE", "CONCURRENCY", "SEED", "MAX_TOKENS", "MAX_RETRIES", "OUTPUT_DIR", "LLM", "LOGGING_LEVEL"} {
		b.WriteString("# BCAUG_" + k + "=\n")
	}
	b.WriteString("\n# 噪声参数（任意叶子键均可覆盖，例如）\n")
	b.WriteString("# BCAUG_NOISE_MAX_FRONT=\n# BCAUG_NOISE_OCR_TYPO_GATE=\n\n")
	b.WriteString("# Provider 限额（例如 openai）\n")
	b.WriteString("# BCAUG_PROVIDER_OPENAI_LIMITS_RPM=\n# BCAUG_PROVIDER_OPENAI_LIMITS_TPM=\n\n")
	b.WriteString("# 供应商 API Key（由客户端读取，不经 BCAUG_ 前缀）\n")
	b.WriteString("OPENAI_API_KEY=\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// preflightCheckOutputDir: 启动前检查输出目录可写性。
// 目录存在时尝试创建并删除临时文件；不存在时检查父目录可写性。
func preflightCheckOutputDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if err == nil {
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	} else if !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(filepath.Clean(dir))
	for {
		st, err := os.Stat(parent)
		if err == nil {
			if !st.IsDir() {
				return fmt.Errorf("父路径不是目录: %s", parent)
			}
			break
		}
		if !os.IsNotExist(err) {
			return err
		}
		next := filepath.Dir(parent)
		if next == parent {
			return fmt.Errorf("无法确定父目录: %s", dir)
		}
		parent = next
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
