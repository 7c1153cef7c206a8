// Package profile 管理风险档位配置，支持文件热更新。
package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tradeloop/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Sizing 是档位对仓位规则的覆盖，零值表示沿用默认。
type Sizing struct {
	MaxRiskFraction  float64 `mapstructure:"max_risk_fraction" yaml:"max_risk_fraction" json:"max_risk_fraction"`
	MinPositionValue float64 `mapstructure:"min_position_value" yaml:"min_position_value" json:"min_position_value"`
}

// Profile 描述单个风险档位。
type Profile struct {
	ID            string         `mapstructure:"id" yaml:"id" json:"id"`
	Description   string         `mapstructure:"description" yaml:"description" json:"description"`
	Version       int            `mapstructure:"version" yaml:"version" json:"version"`
	RiskTolerance float64        `mapstructure:"risk_tolerance" yaml:"risk_tolerance" json:"risk_tolerance"`
	Sizing        Sizing         `mapstructure:"sizing" yaml:"sizing" json:"sizing"`
	Schema        map[string]any `mapstructure:"schema" yaml:"schema" json:"-"`

	schemaCompiled *jsonschema.Schema
}

// FileConfig 映射 risk_profiles。
type FileConfig struct {
	RiskProfiles map[string]Profile `mapstructure:"risk_profiles" yaml:"risk_profiles"`
}

// Snapshot 是档位集的只读快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]Profile
}

// ChangeListener 在档位文件重载后触发。
type ChangeListener func(Snapshot)

// Registry 读取档位文件并监听更新。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("risk profile registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read risk profile config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("risk profile reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Subscribe 注册重载回调。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Snapshot 返回当前档位集。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Profile 返回指定 ID 的档位。
func (r *Registry) Profile(id string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Profiles[strings.TrimSpace(strings.ToLower(id))]
	return p, ok
}

// IDs 返回全部档位 ID（字典序）。
func (r *Registry) IDs() []string {
	snap := r.Snapshot()
	out := make([]string, 0, len(snap.Profiles))
	for id := range snap.Profiles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	profiles := make(map[string]Profile)
	for name, p := range cfg.RiskProfiles {
		norm := normalizeProfile(name, p)
		profiles[norm.ID] = norm
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	r.mu.Unlock()
	logger.Infof("risk profile registry loaded %d profiles from %s", len(profiles), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("risk profile listener")
			cb(snap)
		}(fn)
	}
}

func normalizeProfile(name string, p Profile) Profile {
	p.ID = strings.ToLower(strings.TrimSpace(p.ID))
	if p.ID == "" {
		p.ID = strings.ToLower(strings.TrimSpace(name))
	}
	if p.Version <= 0 {
		p.Version = 1
	}
	if p.RiskTolerance < 0 {
		p.RiskTolerance = 0
	}
	if p.RiskTolerance > 1 {
		p.RiskTolerance = 1
	}
	p.Description = strings.TrimSpace(p.Description)
	if len(p.Schema) > 0 {
		if compiled, err := compileSchema(p.Schema); err != nil {
			logger.Errorf("risk profile schema compile failed id=%s: %v", p.ID, err)
		} else {
			p.schemaCompiled = compiled
		}
	}
	return p
}

// Validate 用档位自带 schema 校验覆盖参数，没有 schema 时直接通过。
func (p Profile) Validate(params map[string]any) error {
	if p.schemaCompiled == nil {
		return nil
	}
	return p.schemaCompiled.Validate(params)
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]Profile, len(src.Profiles)),
	}
	for id, p := range src.Profiles {
		dst.Profiles[id] = p
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read risk profile config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse risk profile config failed: %w", err)
	}
	return cfg, nil
}
