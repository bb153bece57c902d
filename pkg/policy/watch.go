package policy

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mendhq/mend/pkg/log"
)

// watchDebounce coalesces editor write bursts into a single reload
const watchDebounce = 250 * time.Millisecond

// Watch reloads the store whenever its rule source changes on disk. The
// parent directory is watched rather than the file itself so atomic
// rename-based saves keep working. Blocks until stopCh closes.
func (s *Store) Watch(stopCh <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger := log.WithComponent("policy-watch")
	logger.Info().Str("path", s.path).Msg("Watching rule source for changes")

	var timer *time.Timer
	var timerCh <-chan time.Time

	target := filepath.Clean(s.path)
	for {
		select {
		case <-stopCh:
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			res := s.Reload()
			if !res.OK {
				logger.Warn().Str("error", res.Error).Msg("Reload after file change failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("File watcher error")
		}
	}
}
