package main

import (
	"fmt"
	"runtime"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/version"
)

// printVersion 输出注入的版本、提交信息与构建所用的 Go 版本。
func printVersion() {
	fmt.Fprintf(stdOut, "%s %s/%s %s\n", version.Full(), runtime.GOOS, runtime.GOARCH, runtime.Version())
}
