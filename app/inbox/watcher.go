// Package inbox 监控投递目录，将其中的 JSON 描述文件转为下载任务
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"download-tracker/app/config"
	"download-tracker/app/logger"
	"download-tracker/app/model"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// Submitter 接收解析出的启动描述
type Submitter interface {
	Start(ctx context.Context, desc model.Descriptor) (string, error)
}

// Watcher 投递目录监控器
type Watcher struct {
	dir      string
	submit   Submitter
	watcher  *fsnotify.Watcher
	logger   *logger.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	watching bool
	mu       sync.Mutex
	inflight map[string]bool

	// 文件大小稳定检查的间隔与上限
	readyInterval time.Duration
	readyTimeout  time.Duration
}

// New 创建投递目录监控器
func New(cfg config.InboxConfig, submit Submitter, log *logger.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("投递目录未设置")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &Watcher{
		dir:           cfg.Dir,
		submit:        submit,
		watcher:       watcher,
		logger:        log,
		stopCh:        make(chan struct{}),
		inflight:      make(map[string]bool),
		readyInterval: 500 * time.Millisecond,
		readyTimeout:  30 * time.Second,
	}, nil
}

// Start 启动监控并处理目录中已存在的文件
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return fmt.Errorf("投递目录监控已经在运行")
	}

	for _, dir := range []string{w.dir, filepath.Join(w.dir, processedDir), filepath.Join(w.dir, failedDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建投递目录失败: %w", err)
		}
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}

	w.watching = true
	w.wg.Add(2)
	go w.watchLoop()
	go func() {
		defer w.wg.Done()
		w.ProcessExisting()
	}()

	w.logger.Infof("投递目录监控已启动: %s", w.dir)
	return nil
}

// Stop 停止监控
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = false
	close(w.stopCh)
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()

	w.logger.Info("投递目录监控已停止")
	return err
}

// watchLoop 监控事件循环
func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("投递目录监控错误: %v", err)

		case <-w.stopCh:
			return
		}
	}
}

// handleEvent 只处理新建或写入的 JSON 文件
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !isDescriptorFile(event.Name) {
		return
	}

	if err := w.waitForFileReady(event.Name); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warnf("等待文件就绪失败: %s, 错误: %v", event.Name, err)
		}
		return
	}

	if _, err := w.ProcessFile(event.Name); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Errorf("处理投递文件失败: %s, 错误: %v", event.Name, err)
	}
}

// ProcessExisting 处理目录中已存在的描述文件
func (w *Watcher) ProcessExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Errorf("读取投递目录失败: %s, 错误: %v", w.dir, err)
		return
	}

	var processed, failed int
	for _, entry := range entries {
		if entry.IsDir() || !isDescriptorFile(entry.Name()) {
			continue
		}
		if _, err := w.ProcessFile(filepath.Join(w.dir, entry.Name())); err != nil {
			failed++
		} else {
			processed++
		}
	}

	if processed+failed > 0 {
		w.logger.Infof("投递目录初始扫描完成: 成功 %d 个, 失败 %d 个", processed, failed)
	}
}

// ProcessFile 解析描述文件并提交任务，返回创建的任务ID。
// 全部提交成功的文件移入 processed，否则移入 failed。
func (w *Watcher) ProcessFile(path string) ([]string, error) {
	w.mu.Lock()
	if w.inflight[path] {
		w.mu.Unlock()
		return nil, nil
	}
	w.inflight[path] = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.inflight, path)
		w.mu.Unlock()
	}()

	descs, err := readDescriptors(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		w.archive(path, failedDir)
		return nil, err
	}

	var ids []string
	var errs []error
	for i, desc := range descs {
		id, err := w.submit.Start(context.Background(), desc)
		if err != nil {
			errs = append(errs, fmt.Errorf("第%d个描述: %w", i+1, err))
			continue
		}
		ids = append(ids, id)
	}

	if len(errs) > 0 {
		w.archive(path, failedDir)
		return ids, errors.Join(errs...)
	}

	w.archive(path, processedDir)
	w.logger.Infof("投递文件已处理: %s, 创建任务 %d 个", filepath.Base(path), len(ids))
	return ids, nil
}

// archive 将文件移入归档子目录，文件名加时间前缀避免重名
func (w *Watcher) archive(path, sub string) {
	target := filepath.Join(w.dir, sub, time.Now().Format("20060102-150405.000")+"-"+filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		w.logger.Warnf("归档投递文件失败: %s -> %s, 错误: %v", path, target, err)
	}
}

// waitForFileReady 等待文件写入完成
func (w *Watcher) waitForFileReady(path string) error {
	timeout := time.After(w.readyTimeout)
	var lastSize int64 = -1

	for {
		select {
		case <-timeout:
			return fmt.Errorf("等待文件就绪超时: %s", path)
		case <-w.stopCh:
			return fmt.Errorf("监控已停止")
		case <-time.After(w.readyInterval):
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			size := info.Size()
			if size == lastSize && size > 0 {
				return nil
			}
			lastSize = size
		}
	}
}

func isDescriptorFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}

// readDescriptors 读取描述文件，支持 UTF-8 与带 BOM 的 UTF-16，内容可为单个对象或数组
func readDescriptors(path string) ([]model.Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	data, err := io.ReadAll(transform.NewReader(f, decoder))
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("文件内容为空")
	}

	var descs []model.Descriptor
	if data[0] == '[' {
		if err := json.Unmarshal(data, &descs); err != nil {
			return nil, fmt.Errorf("解析描述数组失败: %w", err)
		}
	} else {
		var desc model.Descriptor
		if err := json.Unmarshal(data, &desc); err != nil {
			return nil, fmt.Errorf("解析描述失败: %w", err)
		}
		descs = append(descs, desc)
	}

	if len(descs) == 0 {
		return nil, fmt.Errorf("文件中没有任务描述")
	}
	return descs, nil
}
