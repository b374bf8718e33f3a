package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"gps-relay/internal/models"
)

const (
	KeyPollIntervalMillis = "pollIntervalMillis"
	KeyMinDistanceMeters  = "minDistanceMeters"
	KeyProviderName       = "locationProviderName"
	KeyDestinationHost    = "destinationHost"
	KeyDestinationPort    = "destinationPort"
	KeyMockProviderName   = "mockProviderName"

	EnvPrefix = "RELAY"
)

// Keys lists every recognized relay setting.
var Keys = []string{
	KeyPollIntervalMillis,
	KeyMinDistanceMeters,
	KeyProviderName,
	KeyDestinationHost,
	KeyDestinationPort,
	KeyMockProviderName,
}

// Store is the key-value settings provider for the relay. Values come from
// an optional YAML/JSON file, RELAY_<KEY> environment variables (key upper
// cased, e.g. RELAY_DESTINATIONHOST) and runtime updates via Set.
type Store struct {
	mu       sync.RWMutex
	v        *viper.Viper
	path     string
	logger   zerolog.Logger
	watchers []func()
	loaded   bool

	fileWatcher *fsnotify.Watcher
	wg          sync.WaitGroup
}

// Open loads the settings file at path. A missing file is not an error; the
// store then runs on defaults and environment overrides.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	s := &Store{v: v, path: path, logger: logger}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
			}
			logger.Info().Str("path", path).Msg("settings file not found, using defaults")
		} else {
			s.loaded = true
			logger.Info().Str("path", v.ConfigFileUsed()).Msg("settings loaded")
		}
	}

	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyPollIntervalMillis, models.DefaultPollIntervalMillis)
	v.SetDefault(KeyMinDistanceMeters, 0)
	v.SetDefault(KeyProviderName, models.DefaultProviderName)
	v.SetDefault(KeyDestinationHost, "")
	v.SetDefault(KeyDestinationPort, models.DefaultDestinationPort)
	v.SetDefault(KeyMockProviderName, models.DefaultMockProviderName)
}

// RelayConfig builds a validated RelayConfig from the current values.
func (s *Store) RelayConfig() (models.RelayConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, err := configFrom(s.valuesLocked())
	if err != nil {
		return models.RelayConfig{}, err
	}
	return cfg, cfg.Validate()
}

// ListenPort is the UDP port the Receiver binds. It needs no destination
// host, so it is available even when RelayConfig fails validation.
func (s *Store) ListenPort() (uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return portFrom(s.v.Get(KeyDestinationPort))
}

func (s *Store) MockProviderName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString(KeyMockProviderName)
}

// All returns the effective value of every recognized key.
func (s *Store) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valuesLocked()
}

func (s *Store) valuesLocked() map[string]any {
	out := make(map[string]any, len(Keys))
	for _, k := range Keys {
		out[k] = s.v.Get(k)
	}
	return out
}

// Set updates keys at runtime and notifies watchers. The update is checked
// against the current values first; on an unknown key, a value of the wrong
// type or an out of range value nothing is applied. The destination host
// may stay empty on a receive-only host.
func (s *Store) Set(values map[string]any) error {
	updates := make(map[string]any, len(values))
	for k, val := range values {
		key, ok := canonical(k)
		if !ok {
			return fmt.Errorf("unknown setting %q", k)
		}
		updates[key] = val
	}

	s.mu.Lock()
	staged := s.valuesLocked()
	for k, val := range updates {
		staged[k] = val
	}
	cfg, err := configFrom(staged)
	if err == nil {
		if cfg.DestinationHost == "" {
			err = cfg.ValidateExcept("DestinationHost")
		} else {
			err = cfg.Validate()
		}
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	for k, val := range updates {
		s.v.Set(k, val)
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Save writes the current values to the settings file.
func (s *Store) Save() error {
	if s.path == "" {
		return fmt.Errorf("no settings file configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write settings file %s: %w", s.path, err)
	}
	return nil
}

// Watch registers fn to be called whenever settings change, either through
// Set or an edit of the settings file. Watchers read the values they need
// back from the store.
func (s *Store) Watch(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.watchers = append(s.watchers, fn)
	if s.fileWatcher != nil || !s.loaded {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn().Err(err).Msg("cannot watch settings file")
		return
	}
	// editors replace files, so watch the directory
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		s.logger.Warn().Err(err).Str("path", s.path).Msg("cannot watch settings file")
		return
	}
	s.fileWatcher = w
	s.wg.Add(1)
	go s.watchFile(w)
}

func (s *Store) watchFile(w *fsnotify.Watcher) {
	defer s.wg.Done()
	target := filepath.Clean(s.path)

	for {
		select {
		case e, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != target || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.logger.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("settings file changed")
			s.reload()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Msg("settings watcher error")
		}
	}
}

func (s *Store) reload() {
	s.mu.Lock()
	err := s.v.ReadInConfig()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("failed to reload settings file")
		return
	}
	s.notify()
}

// Close stops watching the settings file.
func (s *Store) Close() error {
	s.mu.Lock()
	w := s.fileWatcher
	s.fileWatcher = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	s.wg.Wait()
	return err
}

func (s *Store) notify() {
	s.mu.RLock()
	watchers := append([]func(){}, s.watchers...)
	s.mu.RUnlock()

	for _, fn := range watchers {
		fn()
	}
}

func configFrom(values map[string]any) (models.RelayConfig, error) {
	port, err := portFrom(values[KeyDestinationPort])
	if err != nil {
		return models.RelayConfig{}, err
	}
	interval, err := cast.ToInt64E(values[KeyPollIntervalMillis])
	if err != nil {
		return models.RelayConfig{}, invalidValue(KeyPollIntervalMillis, values[KeyPollIntervalMillis], err)
	}
	if interval < 0 {
		return models.RelayConfig{}, fmt.Errorf("invalid relay config: %s must not be negative, got %d", KeyPollIntervalMillis, interval)
	}
	distance, err := cast.ToFloat64E(values[KeyMinDistanceMeters])
	if err != nil {
		return models.RelayConfig{}, invalidValue(KeyMinDistanceMeters, values[KeyMinDistanceMeters], err)
	}

	var names [3]string
	for i, key := range []string{KeyDestinationHost, KeyProviderName, KeyMockProviderName} {
		if names[i], err = cast.ToStringE(values[key]); err != nil {
			return models.RelayConfig{}, invalidValue(key, values[key], err)
		}
	}

	return models.RelayConfig{
		DestinationHost:    names[0],
		DestinationPort:    port,
		PollIntervalMillis: uint64(interval),
		ProviderName:       names[1],
		MinDistanceMeters:  float32(distance),
		MockProviderName:   names[2],
	}, nil
}

func portFrom(value any) (uint16, error) {
	port, err := cast.ToIntE(value)
	if err != nil {
		return 0, invalidValue(KeyDestinationPort, value, err)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid relay config: %s must be between 1 and 65535, got %d", KeyDestinationPort, port)
	}
	return uint16(port), nil
}

func invalidValue(key string, value any, err error) error {
	return fmt.Errorf("invalid relay config: %s has invalid value %v: %w", key, value, err)
}

func canonical(key string) (string, bool) {
	for _, k := range Keys {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	return "", false
}
