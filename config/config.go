// Package config loads and hot-reloads pipeline settings from YAML. The
// active settings live behind an atomic pointer: readers take a snapshot per
// request and keep it for the whole evaluation, so a reload mid-request never
// mixes old and new values.
package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	sieve "github.com/modstack/imagesieve"
)

// Settings is the full runtime configuration snapshot.
type Settings struct {
	// Components is the default toggle matrix; per-request overrides are
	// merged on top by the pipeline.
	Components sieve.ComponentConfig `json:"components"`

	// Contexts maps context type to its threshold pair.
	Contexts map[string]sieve.Thresholds `json:"contexts"`

	// ChildKeywords overrides the built-in child keyword list.
	ChildKeywords []string `json:"child_keywords"`

	// RiskyTags overrides the built-in risky tag list.
	RiskyTags []string `json:"risky_tags"`

	// StageTimeout bounds each analyzer stage.
	StageTimeout time.Duration `json:"stage_timeout"`

	// BatchConcurrency bounds concurrent evaluations in EvaluateBatch.
	BatchConcurrency int `json:"batch_concurrency"`
}

// DefaultSettings returns the built-in settings used when no file is loaded.
func DefaultSettings() Settings {
	contexts := make(map[string]sieve.Thresholds)
	for ctx, th := range defaultContextTable() {
		contexts[string(ctx)] = th
	}
	return Settings{
		Components:       sieve.DefaultComponentConfig(),
		Contexts:         contexts,
		ChildKeywords:    append([]string(nil), sieve.DefaultChildKeywords...),
		RiskyTags:        append([]string(nil), sieve.DefaultRiskyTags...),
		StageTimeout:     sieve.DefaultStageTimeoutSeconds * time.Second,
		BatchConcurrency: sieve.DefaultBatchConcurrency,
	}
}

func defaultContextTable() map[sieve.ContextType]sieve.Thresholds {
	return map[sieve.ContextType]sieve.Thresholds{
		sieve.ContextPublicGallery:  {AutoApprove: 20, AutoReject: 80},
		sieve.ContextPrivateGallery: {AutoApprove: 60, AutoReject: 95},
		sieve.ContextPaysite:        {AutoApprove: 40, AutoReject: 90},
		sieve.ContextProfilePic:     {AutoApprove: 10, AutoReject: 60},
	}
}

// Validate checks the settings for internal consistency.
func (s Settings) Validate() error {
	if _, ok := s.Contexts[string(sieve.ContextPublicGallery)]; !ok {
		return fmt.Errorf("%w: contexts must include %q", sieve.ErrInvalidConfig, sieve.ContextPublicGallery)
	}
	for name, th := range s.Contexts {
		if th.AutoApprove < 0 || th.AutoReject > 100 || th.AutoApprove >= th.AutoReject {
			return fmt.Errorf("%w: context %q thresholds approve=%v reject=%v",
				sieve.ErrInvalidConfig, name, th.AutoApprove, th.AutoReject)
		}
	}
	if s.StageTimeout <= 0 {
		return fmt.Errorf("%w: stage_timeout must be positive", sieve.ErrInvalidConfig)
	}
	if s.BatchConcurrency <= 0 {
		return fmt.Errorf("%w: batch_concurrency must be positive", sieve.ErrInvalidConfig)
	}
	return nil
}

// ContextTable returns the contexts as typed keys for the policy registry.
func (s Settings) ContextTable() map[sieve.ContextType]sieve.Thresholds {
	table := make(map[sieve.ContextType]sieve.Thresholds, len(s.Contexts))
	for name, th := range s.Contexts {
		table[sieve.ContextType(name)] = th
	}
	return table
}

// Manager owns the active settings snapshot.
type Manager struct {
	v       *viper.Viper
	log     *zap.Logger
	current atomic.Pointer[Settings]
	mu      sync.Mutex // serializes Apply and reload
	subs    []func(Settings)
}

// Load reads settings from the given YAML file. An empty path yields the
// defaults without touching the filesystem.
func Load(path string, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: %v", sieve.ErrInvalidConfig, err)
		}
	}

	m := &Manager{v: v, log: log}
	settings, err := decode(v)
	if err != nil {
		return nil, err
	}
	m.current.Store(&settings)
	return m, nil
}

func setDefaults(v *viper.Viper) {
	def := DefaultSettings()
	// Per-leaf defaults: a partial components block in the file must only
	// override the keys it names.
	v.SetDefault("components.breast_detection", def.Components.BreastDetection)
	v.SetDefault("components.genitalia_detection", def.Components.GenitaliaDetection)
	v.SetDefault("components.buttocks_detection", def.Components.ButtocksDetection)
	v.SetDefault("components.anus_detection", def.Components.AnusDetection)
	v.SetDefault("components.face_detection", def.Components.FaceDetection)
	v.SetDefault("components.age_estimation", def.Components.AgeEstimation)
	v.SetDefault("components.child_content_detection", def.Components.ChildContentDetection)
	v.SetDefault("components.image_description", def.Components.ImageDescription)
	for name, th := range def.Contexts {
		v.SetDefault("contexts."+name+".auto_approve", th.AutoApprove)
		v.SetDefault("contexts."+name+".auto_reject", th.AutoReject)
	}
	v.SetDefault("child_keywords", def.ChildKeywords)
	v.SetDefault("risky_tags", def.RiskyTags)
	v.SetDefault("stage_timeout", def.StageTimeout)
	v.SetDefault("batch_concurrency", def.BatchConcurrency)
}

func decode(v *viper.Viper) (Settings, error) {
	var s Settings
	// The shared types carry json tags; decode by those instead of
	// mapstructure's defaults.
	err := v.Unmarshal(&s, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
	})
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %v", sieve.ErrInvalidConfig, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Current returns the active settings snapshot. The returned value is safe to
// keep for the duration of a request.
func (m *Manager) Current() Settings {
	return *m.current.Load()
}

// Apply mutates a copy of the current settings, validates it, and atomically
// installs it. In-flight requests keep the snapshot they started with.
func (m *Manager) Apply(mutate func(*Settings)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.Current()
	// Deep-copy the mutable members so the mutation never aliases the
	// installed snapshot.
	next.Contexts = copyContexts(next.Contexts)
	next.ChildKeywords = append([]string(nil), next.ChildKeywords...)
	next.RiskyTags = append([]string(nil), next.RiskyTags...)

	mutate(&next)
	if err := next.Validate(); err != nil {
		return err
	}

	m.current.Store(&next)
	m.notify(next)
	return nil
}

// Subscribe registers a callback invoked after every successful settings swap.
func (m *Manager) Subscribe(fn func(Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

func (m *Manager) notify(s Settings) {
	for _, fn := range m.subs {
		fn(s)
	}
}

// Watch reloads the settings whenever the config file changes on disk. A
// reload that fails validation is logged and discarded; the previous snapshot
// stays active.
func (m *Manager) Watch() {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		m.mu.Lock()
		defer m.mu.Unlock()

		settings, err := decode(m.v)
		if err != nil {
			m.log.Warn("config reload rejected",
				zap.String("file", e.Name),
				zap.Error(err))
			return
		}

		m.current.Store(&settings)
		m.notify(settings)
		m.log.Info("config reloaded", zap.String("file", e.Name))
	})
	m.v.WatchConfig()
}

func copyContexts(in map[string]sieve.Thresholds) map[string]sieve.Thresholds {
	out := make(map[string]sieve.Thresholds, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
