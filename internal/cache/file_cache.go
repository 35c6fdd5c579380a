package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// tempSuffix 标记尚未下载完成的缓存文件。
const tempSuffix = ".download"

// FileCache 以单个文件实现 Store。未完成时写入 <name>.download，完成后 rename 为 <name>。
type FileCache struct {
	mu        sync.RWMutex
	file      *os.File
	path      string
	finalPath string
	available int64
	completed bool
	closed    bool

	onComplete func(path string)
	onClose    func(path string)
}

// OpenFile 打开 finalPath 对应的缓存：若最终文件已存在则以只读方式复用，否则续写临时文件。
func OpenFile(finalPath string) (*FileCache, error) {
	if finalPath == "" {
		return nil, errors.New("cache file path required")
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	if info, err := os.Stat(finalPath); err == nil && !info.IsDir() {
		f, err := os.Open(finalPath)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		_ = os.Chtimes(finalPath, now, now)
		return &FileCache{
			file:      f,
			path:      finalPath,
			finalPath: finalPath,
			available: info.Size(),
			completed: true,
		}, nil
	}

	tempPath := finalPath + tempSuffix
	f, err := os.OpenFile(tempPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open cache file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileCache{
		file:      f,
		path:      tempPath,
		finalPath: finalPath,
		available: info.Size(),
	}, nil
}

func (c *FileCache) Available() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *FileCache) IsCompleted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completed
}

// Path 返回当前实际读写的文件路径。
func (c *FileCache) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

func (c *FileCache) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, ErrClosed
	}
	if off >= c.available {
		return 0, io.EOF
	}
	if remaining := c.available - off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := c.file.ReadAt(p, off)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}

func (c *FileCache) Append(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.completed {
		return ErrCompleted
	}
	n, err := c.file.WriteAt(p, c.available)
	c.available += int64(n)
	if err != nil {
		return fmt.Errorf("append %s: %w", c.path, err)
	}
	return nil
}

func (c *FileCache) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.completed {
		return ErrCompleted
	}
	if err := c.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate %s: %w", c.path, err)
	}
	c.available = 0
	return nil
}

func (c *FileCache) Complete() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.completed {
		c.mu.Unlock()
		return nil
	}

	if err := c.file.Close(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("close %s: %w", c.path, err)
	}
	if err := os.Rename(c.path, c.finalPath); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("rename %s: %w", c.path, err)
	}
	f, err := os.Open(c.finalPath)
	if err != nil {
		c.closed = true
		c.mu.Unlock()
		return fmt.Errorf("reopen %s: %w", c.finalPath, err)
	}
	c.file = f
	c.path = c.finalPath
	c.completed = true
	hook := c.onComplete
	finalPath := c.finalPath
	c.mu.Unlock()

	if hook != nil {
		hook(finalPath)
	}
	return nil
}

func (c *FileCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	err := c.file.Close()
	hook := c.onClose
	finalPath := c.finalPath
	c.mu.Unlock()

	if hook != nil {
		hook(finalPath)
	}
	return err
}

func isTempFile(name string) bool {
	return strings.HasSuffix(name, tempSuffix)
}
