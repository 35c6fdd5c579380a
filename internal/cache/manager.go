package cache

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const maxExtensionLength = 4

// Manager 以 basePath 为根目录管理所有资源的缓存文件，整站复用一份实例。
type Manager struct {
	basePath string
	maxSize  int64
	logger   logrus.FieldLogger

	mu     sync.Mutex
	active map[string]*entryRef

	trimMu sync.Mutex
}

// entryRef 统计同一缓存文件被打开的次数，裁剪时跳过仍在使用的文件。
type entryRef struct {
	refs int
}

// NewManager 创建缓存目录；maxSize 为 0 时不做裁剪。
func NewManager(basePath string, maxSize int64, logger logrus.FieldLogger) (*Manager, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	return &Manager{
		basePath: abs,
		maxSize:  maxSize,
		logger:   logger,
		active:   make(map[string]*entryRef),
	}, nil
}

// Open 返回 rawURL 对应的缓存文件，调用方负责 Close。
func (m *Manager) Open(rawURL string) (Store, error) {
	finalPath := m.PathFor(rawURL)
	fc, err := OpenFile(finalPath)
	if err != nil {
		return nil, err
	}
	m.retain(finalPath)
	fc.onComplete = m.completed
	fc.onClose = m.release
	return fc, nil
}

// PathFor 返回 rawURL 完整下载后的缓存文件路径。
func (m *Manager) PathFor(rawURL string) string {
	return filepath.Join(m.basePath, FileName(rawURL))
}

// IsCached 判断 rawURL 是否已经完整缓存在磁盘上。
func (m *Manager) IsCached(rawURL string) bool {
	info, err := os.Stat(m.PathFor(rawURL))
	return err == nil && !info.IsDir()
}

// Trim 按修改时间从旧到新删除已完成的缓存文件，直到总量不超过 maxSize。
// 仍被打开的文件与未完成的临时文件不会被删除。
func (m *Manager) Trim() error {
	if m.maxSize <= 0 {
		return nil
	}
	m.trimMu.Lock()
	defer m.trimMu.Unlock()

	entries, err := os.ReadDir(m.basePath)
	if err != nil {
		return err
	}

	type candidate struct {
		path    string
		size    int64
		modTime time.Time
	}
	var (
		files []candidate
		total int64
	)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || isTempFile(name) || isInfoFile(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{
			path:    filepath.Join(m.basePath, name),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		total += info.Size()
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	var errs []error
	for _, file := range files {
		if total <= m.maxSize {
			break
		}
		if m.isActive(file.path) {
			continue
		}
		if err := os.Remove(file.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		_ = os.Remove(infoPathForBody(file.path))
		total -= file.size
		m.logger.WithFields(logrus.Fields{
			"action": "cache_trim",
			"path":   file.path,
			"size":   file.size,
		}).Debug("cache_file_removed")
	}
	return errors.Join(errs...)
}

func (m *Manager) completed(string) {
	if err := m.Trim(); err != nil {
		m.logger.WithError(err).WithField("action", "cache_trim").Warn("cache_trim_failed")
	}
}

func (m *Manager) retain(finalPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := m.active[finalPath]
	if ref == nil {
		ref = &entryRef{}
		m.active[finalPath] = ref
	}
	ref.refs++
}

func (m *Manager) release(finalPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := m.active[finalPath]
	if ref == nil {
		return
	}
	ref.refs--
	if ref.refs <= 0 {
		delete(m.active, finalPath)
	}
}

func (m *Manager) isActive(finalPath string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[finalPath]
	return ok
}

// FileName 以 URL 的 MD5 作为文件名，并保留不超过 4 个字符的扩展名。
func FileName(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	name := hex.EncodeToString(sum[:])
	if ext := extension(rawURL); ext != "" {
		return name + "." + ext
	}
	return name
}

func extension(rawURL string) string {
	p := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		p = parsed.Path
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	if ext == "" || len(ext) > maxExtensionLength {
		return ""
	}
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return strings.ToLower(ext)
}
