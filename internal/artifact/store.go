// Package artifact 负责模型产物的落盘与加载，格式为 JSON 文件。
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound 表示产物文件不存在。
var ErrNotFound = errors.New("artifact not found")

// Store 把每个产物写成目录下的一个 JSON 文件。
// 写入先落临时文件再原子改名，避免半截文件被加载。
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact dir 不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Save 序列化并原子写入。
func (s *Store) Save(name string, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	final := s.path(name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// Load 读取并反序列化到 v。
func (s *Store) Load(name string, v any) error {
	blob, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}

// Exists 判断产物是否已落盘。
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}
