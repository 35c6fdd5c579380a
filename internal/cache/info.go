package cache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/source"
)

const infoSuffix = ".info.json"

type infoRecord struct {
	URL    string `json:"url"`
	Length int64  `json:"length"`
	Mime   string `json:"mime"`
}

// LoadInfo 读取 rawURL 的源信息旁路文件，实现 source.InfoStorage。
func (m *Manager) LoadInfo(rawURL string) (source.Info, bool) {
	data, err := os.ReadFile(m.infoPath(rawURL))
	if err != nil {
		return source.Info{}, false
	}
	var record infoRecord
	if err := json.Unmarshal(data, &record); err != nil || record.URL != rawURL {
		return source.Info{}, false
	}
	return source.Info{Length: record.Length, Mime: record.Mime}, true
}

// SaveInfo 通过临时文件 + rename 原子写入源信息。
func (m *Manager) SaveInfo(rawURL string, info source.Info) error {
	data, err := json.Marshal(infoRecord{URL: rawURL, Length: info.Length, Mime: info.Mime})
	if err != nil {
		return err
	}
	target := m.infoPath(rawURL)
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".info-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}
	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

// RemoveInfo 删除源信息旁路文件，文件不存在时视为成功。
func (m *Manager) RemoveInfo(rawURL string) error {
	if err := os.Remove(m.infoPath(rawURL)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (m *Manager) infoPath(rawURL string) string {
	return infoPathForBody(m.PathFor(rawURL))
}

func infoPathForBody(bodyPath string) string {
	name := filepath.Base(bodyPath)
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		name = name[:idx]
	}
	return filepath.Join(filepath.Dir(bodyPath), name+infoSuffix)
}

func isInfoFile(name string) bool {
	return strings.HasSuffix(name, infoSuffix)
}
