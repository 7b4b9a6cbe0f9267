package cfg

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher 监听配置文件，文件写入或被替换后重新解码并通知
// 监听的是所在目录，编辑器先写临时文件再 rename 的情况也能收到事件
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	handlers []func(*Node, error)
	done     chan struct{}
	once     sync.Once
}

func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "abs %s failed", path)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "fsnotify.NewWatcher failed")
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, errors.Wrapf(err, "watch %s failed", filepath.Dir(abs))
	}
	w := &Watcher{path: abs, watcher: fw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

// OnChange 注册回调，解码失败时 node 为 nil
func (w *Watcher) OnChange(fn func(node *Node, err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, fn)
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.notify(LoadNode(w.path))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.notify(nil, errors.Wrap(err, "watch failed"))
		}
	}
}

func (w *Watcher) notify(node *Node, err error) {
	w.mu.Lock()
	handlers := append([]func(*Node, error){}, w.handlers...)
	w.mu.Unlock()
	for _, fn := range handlers {
		fn(node, err)
	}
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
