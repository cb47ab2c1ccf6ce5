package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// FileStore reads secrets from a JSON file of {"name": "value"} pairs and
// hot-reloads when the file changes, so rotated credentials take effect
// without a restart.
type FileStore struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu     sync.RWMutex
	values map[string]string
}

// NewFileStore loads path and begins watching it for changes.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		done: make(chan struct{}),
	}

	if err := fs.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets watcher: %w", err)
	}
	// Watch the directory, not the file: editors and secret managers
	// typically replace the file via rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch secrets directory: %w", err)
	}

	fs.watcher = watcher
	go fs.eventLoop()

	return fs, nil
}

func (fs *FileStore) Get(name string) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	value, ok := fs.values[name]
	if !ok || value == "" {
		return "", &NotConfiguredError{Name: name}
	}
	return value, nil
}

// Names returns the configured secret names. Values are never enumerated.
func (fs *FileStore) Names() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	names := make([]string, 0, len(fs.values))
	for name := range fs.values {
		names = append(names, name)
	}
	return names
}

// Close stops watching the secrets file.
func (fs *FileStore) Close() error {
	close(fs.done)
	if fs.watcher != nil {
		return fs.watcher.Close()
	}
	return nil
}

func (fs *FileStore) reload() error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return fmt.Errorf("failed to read secrets file: %w", err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse secrets file: %w", err)
	}

	fs.mu.Lock()
	fs.values = values
	fs.mu.Unlock()

	log.Info().Int("count", len(values)).Msg("Secrets file loaded")

	return nil
}

func (fs *FileStore) eventLoop() {
	for {
		select {
		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(fs.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := fs.reload(); err != nil {
				// Keep serving the last good snapshot on a bad write.
				log.Error().Err(err).Msg("Secrets reload failed")
			}
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Secrets watcher error")
		case <-fs.done:
			return
		}
	}
}

var _ Store = (*FileStore)(nil)
