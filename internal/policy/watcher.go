package policy

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

type ChangeHandler func(path string)

type FileWatcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	handler  ChangeHandler
	debounce time.Duration
	done     chan struct{}
}

func NewFileWatcher(dir string, handler ChangeHandler) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch directory: %w", err)
	}

	fw := &FileWatcher{
		watcher:  watcher,
		dir:      dir,
		handler:  handler,
		debounce: 300 * time.Millisecond,
		done:     make(chan struct{}),
	}

	go fw.watch()

	return fw, nil
}

// WatchStore re-applies changed policy files to s. Policies missing from a
// rewritten file stay registered.
func WatchStore(s *Store, dir string) (*FileWatcher, error) {
	return NewFileWatcher(dir, func(path string) {
		policies, err := LoadFile(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to reload policy file")
			return
		}
		for _, p := range policies {
			if err := s.Put(p); err != nil {
				log.Error().Err(err).Str("agent", p.AgentID).Msg("rejected reloaded policy")
			}
		}
		log.Info().Str("path", path).Int("count", len(policies)).Msg("policies reloaded")
	})
}

func (fw *FileWatcher) Close() error {
	close(fw.done)
	return fw.watcher.Close()
}

func (fw *FileWatcher) watch() {
	pending := make(map[string]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if !fw.shouldHandle(event) {
				continue
			}

			// Debounce rapid writes per file
			if t, exists := pending[event.Name]; exists {
				t.Stop()
			}
			path := event.Name
			pending[path] = time.AfterFunc(fw.debounce, func() {
				select {
				case <-fw.done:
				default:
					fw.handler(path)
				}
			})

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("watcher error")

		case <-fw.done:
			return
		}
	}
}

func (fw *FileWatcher) shouldHandle(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	return isPolicyFile(event.Name)
}
