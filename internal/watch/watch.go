package watch

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"hookhub/internal/storage"
)

// Watcher monitors the manifest source directory and invokes the reload
// callback when YAML files change. Events are debounced so editors that
// write-then-rename trigger a single reload.
type Watcher struct {
	fsw      *fsnotify.Watcher
	dir      string
	onChange func(project string)
	done     chan struct{}
}

// New creates a watcher on the given directory. onChange receives the
// project name whose manifest file changed.
func New(dir string, onChange func(project string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, dir: dir, onChange: onChange, done: make(chan struct{})}, nil
}

// Start runs the event loop in a background goroutine.
func (w *Watcher) Start() {
	go w.run()
	log.Printf("Watching manifest directory %s", w.dir)
}

// Stop terminates the event loop.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
}

func (w *Watcher) run() {
	pending := map[string]struct{}{}
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
				!event.Op.Has(fsnotify.Rename) && !event.Op.Has(fsnotify.Remove) {
				continue
			}
			project, ok := storage.ProjectFromFilename(filepath.Base(event.Name))
			if !ok {
				continue
			}
			pending[project] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(300 * time.Millisecond)
			} else {
				timer.Reset(300 * time.Millisecond)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			for project := range pending {
				w.onChange(project)
			}
			pending = map[string]struct{}{}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("WARN: manifest watcher: %v", err)
		}
	}
}
