package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// configFixture 返回 internal/config/testdata 下的配置文件；go test 在包目录（即仓库根）执行。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("internal", "config", "testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("缺少配置样例 %s: %v", name, err)
	}
	return path
}

// useBufferWriters 在测试期间把 stdOut/stdErr 替换为内存缓冲。
func useBufferWriters(t *testing.T) {
	t.Helper()

	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = &bytes.Buffer{}, &bytes.Buffer{}
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
}

func stdOutBuffer() *bytes.Buffer {
	buf, _ := stdOut.(*bytes.Buffer)
	return buf
}

func stdErrBuffer() *bytes.Buffer {
	buf, _ := stdErr.(*bytes.Buffer)
	return buf
}
