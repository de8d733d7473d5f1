package resources

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ReloadDelay is how long a path has to stay quiet before the reload
// callback runs.
const ReloadDelay = 500 * time.Millisecond

// Watch calls callback once changes under path settle. path may be a
// directory or a single file. For a file, the parent directory is watched
// and events are filtered by name, so editors that save by rename are seen.
// The returned func stops the watcher.
func Watch(
	path string,
	log logrus.FieldLogger,
	callback func(),
) (
	func() error,
	error,
) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	dir, only := path, ""
	if !info.IsDir() {
		dir, only = filepath.Dir(path), filepath.Clean(path)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	reload := make(chan struct{})
	go scheduleReload(reload, done, callback)
	go handleWatcher(watcher, only, reload, done, log.WithField("path", path))

	var once sync.Once
	stop := func() error {
		var err error
		once.Do(func() {
			close(done)
			err = watcher.Close()
		})
		return err
	}
	return stop, nil
}

func handleWatcher(
	watcher *fsnotify.Watcher,
	only string,
	reload chan<- struct{},
	done <-chan struct{},
	log logrus.FieldLogger,
) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if only != "" && filepath.Clean(event.Name) != only {
				continue
			}
			if event.Has(fsnotify.Write | fsnotify.Remove | fsnotify.Create | fsnotify.Rename) {
				select {
				case reload <- struct{}{}:
				case <-done:
					return
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("resource watcher error")
		case <-done:
			return
		}
	}
}

func scheduleReload(reload <-chan struct{}, done <-chan struct{}, callback func()) {
	var timer *time.Timer = nil
	var c <-chan time.Time = nil
	for {
		select {
		case <-reload:
			if timer != nil {
				timer.Reset(ReloadDelay)
			} else {
				timer = time.NewTimer(ReloadDelay)
				c = timer.C
			}

		case <-c:
			c = nil
			timer = nil
			callback()

		case <-done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
