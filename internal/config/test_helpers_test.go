package config

import (
	"os"
	"path/filepath"
	"testing"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("缺少测试配置 %s: %v", name, err)
	}
	return path
}

// loadInline 将 TOML 内容写入临时文件后调用 Load。
func loadInline(t *testing.T, content string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return Load(path)
}
