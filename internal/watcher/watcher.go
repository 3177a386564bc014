// Package watcher implements the filesystem half of spec.md §6's
// ingestion trigger: "filesystem watch on UPLOAD_DIR — new file ->
// submit after a quiet period (default 2s) to ensure write completion."
// Grounded on 0xcro3dile-localrag-go's FSNotifyWatcher, generalized from
// a raw fsnotify-event passthrough channel to a debounced submitter that
// calls Submitter.Submit directly instead of handing events to a caller.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/ingestion"
)

// Submitter is the subset of ingestion.Pipeline the watcher needs.
type Submitter interface {
	Submit(ctx context.Context, path, originalFilename string) (ingestion.SubmitResult, error)
}

// Watcher debounces fsnotify create/write events on one directory into
// Submitter.Submit calls, one per settled file.
type Watcher struct {
	fsw        *fsnotify.Watcher
	submitter  Submitter
	quietPeriod time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
}

// New builds a Watcher. quietPeriod <= 0 defaults to 2 seconds, spec.md
// §6's stated default.
func New(submitter Submitter, quietPeriod time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if quietPeriod <= 0 {
		quietPeriod = 2 * time.Second
	}
	return &Watcher{
		fsw:         fsw,
		submitter:   submitter,
		quietPeriod: quietPeriod,
		timers:      make(map[string]*time.Timer),
	}, nil
}

// Run watches dir until ctx is cancelled. Every create/write event resets
// that file's quiet-period timer; the file is submitted only once the
// timer fires without being reset again, so a still-copying file is
// never submitted mid-write.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			w.cancelAllTimers()
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if strings.HasSuffix(event.Name, "~") || strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			w.scheduleSubmit(ctx, event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Str("dir", dir).Msg("watcher: fsnotify error")
		}
	}
}

func (w *Watcher) scheduleSubmit(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, exists := w.timers[path]; exists {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.quietPeriod, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.submit(ctx, path)
	})
}

func (w *Watcher) submit(ctx context.Context, path string) {
	filename := filepath.Base(path)
	result, err := w.submitter.Submit(ctx, path, filename)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("watcher: submit failed")
		return
	}
	if result.Rejected {
		log.Warn().Str("path", path).Str("reason", result.Reason).Msg("watcher: submission rejected")
		return
	}
	log.Info().Str("doc_id", result.DocID).Str("path", path).Bool("duplicate", result.Duplicate).Msg("watcher: submitted")
}

func (w *Watcher) cancelAllTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// Close stops the underlying fsnotify watcher; safe to call after Run has
// already returned.
func (w *Watcher) Close() error { return w.fsw.Close() }
