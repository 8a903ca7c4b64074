package tabsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/idx"
	"github.com/fsnotify/fsnotify"
)

// FileBus signals peers in other processes through a shared directory. A
// ping creates and immediately removes the sentinel file <dir>/<key>.<origin>;
// peers watch the directory and react to the create.
type FileBus struct {
	dir     string
	origin  string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu     sync.Mutex
	subs   map[int]func(Signal)
	nextID int

	closeOnce sync.Once
	doneCh    chan struct{}
}

// NewFileBus starts watching dir, creating it if needed.
func NewFileBus(dir string, logger *slog.Logger) (*FileBus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create sync dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	b := &FileBus{
		dir:     dir,
		origin:  idx.New().String(),
		watcher: w,
		subs:    make(map[int]func(Signal)),
		doneCh:  make(chan struct{}),
	}
	b.logger = logger.With("component", "tabsync", "origin", b.origin)

	go b.loop()

	return b, nil
}

func (b *FileBus) Origin() string { return b.origin }

func (b *FileBus) Ping(_ context.Context, key string) error {
	if strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("tabsync: invalid key %q", key)
	}

	path := filepath.Join(b.dir, key+"."+b.origin)
	_ = os.Remove(path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create sentinel: %w", err)
	}
	_, _ = f.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	_ = f.Close()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove sentinel: %w", err)
	}
	return nil
}

func (b *FileBus) Subscribe(fn func(Signal)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Close stops the watcher and waits for the delivery loop to exit.
func (b *FileBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.watcher.Close()
		<-b.doneCh
	})
	return err
}

func (b *FileBus) loop() {
	defer close(b.doneCh)

	for {
		select {
		case e, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if !e.Has(fsnotify.Create) {
				continue
			}

			key, origin, ok := parseSentinel(filepath.Base(e.Name))
			if !ok || origin == b.origin {
				continue
			}
			b.deliver(Signal{Key: key, Origin: origin, At: time.Now()})

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("watcher error", "error", err)
		}
	}
}

func (b *FileBus) deliver(sig Signal) {
	b.mu.Lock()
	fns := make([]func(Signal), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(sig)
	}
}

// parseSentinel splits "<key>.<origin>". The origin is a ULID so the last
// dot is the separator even when the key itself has dots.
func parseSentinel(name string) (key, origin string, ok bool) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}

	origin = name[i+1:]
	if _, err := idx.Parse(origin); err != nil {
		return "", "", false
	}
	return name[:i], origin, true
}
