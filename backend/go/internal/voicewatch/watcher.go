// Package voicewatch 监视一个目录，把录音设备同步进来的音频文件送进语音管道。
// 处理成功的文件移到 processed/，失败的移到 failed/，不会被重复处理。
package voicewatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/voice"
	"Steward/backend/go/pkg/logger"

	"github.com/djherbis/times"
	"github.com/fsnotify/fsnotify"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
	sourceName   = "watch_folder"
)

var audioExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".ogg": true,
	".oga": true, ".webm": true, ".flac": true, ".aac": true,
}

// Processor 处理一次语音采集，*voice.Pipeline 实现了它。
type Processor interface {
	Process(ctx context.Context, c voice.Capture) (*models.VoiceNote, error)
}

// Options 配置 Watcher。
type Options struct {
	Owner      string            // 写入 RecordedBy
	Visibility models.Visibility // 默认 private
	Settle     time.Duration     // 文件最后一次写入后等待多久再处理，默认 2s
	Logger     *logger.Logger
}

// Watcher 监视目录中新出现的音频文件。
type Watcher struct {
	dir  string
	proc Processor
	opts Options

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
}

// New 创建 Watcher，并确保目录和归档子目录存在。
func New(dir string, proc Processor, opts Options) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("voicewatch: empty watch directory")
	}
	if opts.Visibility == "" {
		opts.Visibility = models.VisibilityPrivate
	}
	if opts.Settle <= 0 {
		opts.Settle = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	for _, sub := range []string{"", processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("创建目录失败: %w", err)
		}
	}
	return &Watcher{
		dir:     dir,
		proc:    proc,
		opts:    opts,
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, 64),
	}, nil
}

// IsAudio 报告文件名是否是支持的音频格式。
func IsAudio(name string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(name))]
}

// Run 先处理目录中已有的文件，再监视新文件直到 ctx 结束。
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() && IsAudio(e.Name()) {
			w.schedule(filepath.Join(w.dir, e.Name()))
		}
	}
	w.opts.Logger.Infof("开始监视 %s", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !IsAudio(ev.Name) {
				continue
			}
			if filepath.Dir(ev.Name) != filepath.Clean(w.dir) {
				continue
			}
			w.schedule(ev.Name)

		case path := <-w.ready:
			w.handle(ctx, path)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.opts.Logger.WithError(err).Warn("文件监视出错")
		}
	}
}

// schedule 重置文件的等待计时器，连续写入只触发一次处理。
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.opts.Settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.opts.Settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ready <- path
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// handle 处理一个文件并归档。文件在等待期间被移走时直接忽略。
func (w *Watcher) handle(ctx context.Context, path string) {
	log := w.opts.Logger.WithField("file", filepath.Base(path))
	audio, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		log.WithError(err).Error("读取音频失败")
		return
	}

	note, err := w.proc.Process(ctx, voice.Capture{
		Audio:         audio,
		FileName:      filepath.Base(path),
		SourceChannel: sourceName,
		RecordedBy:    w.opts.Owner,
		Visibility:    w.opts.Visibility,
		RecordedAt:    RecordedAt(path),
	})
	dest := processedDir
	if err != nil {
		log.WithError(err).Error("处理语音笔记失败")
		dest = failedDir
	} else {
		log.WithField("note_id", note.ID).Info("语音笔记已保存")
	}
	if err := os.Rename(path, filepath.Join(w.dir, dest, filepath.Base(path))); err != nil {
		log.WithError(err).Error("归档音频文件失败")
	}
}

// RecordedAt 返回文件的录制时间: 文件系统支持时取创建时间，否则取修改时间。
func RecordedAt(path string) time.Time {
	ts, err := times.Stat(path)
	if err != nil {
		return time.Now().UTC()
	}
	if ts.HasBirthTime() {
		return ts.BirthTime().UTC()
	}
	return ts.ModTime().UTC()
}
