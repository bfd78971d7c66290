package logtail

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultFollowPoll is the fallback poll interval for Follow
const DefaultFollowPoll = time.Second

// Follow delivers new log content to fn until ctx is done.
// The log directory is watched so rotations wake the reader immediately;
// a periodic poll covers filesystems that do not emit events.
func (t *Tailer) Follow(ctx context.Context, poll time.Duration, fn func(string)) error {
	if poll <= 0 {
		poll = DefaultFollowPoll
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(t.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	emit := func() {
		if content := t.ReadNew(); content != "" {
			fn(content)
		}
	}
	emit()

	stem := strings.TrimSuffix(filepath.Base(t.path), filepath.Ext(t.path))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(ev.Name), stem) {
				emit()
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.log.WithError(werr).Warn("Log watcher error")
		case <-ticker.C:
			emit()
		}
	}
}
