package service

import (
	"fmt"
	"sync"

	"download-tracker/app/logger"

	"github.com/robfig/cron/v3"
)

// Pruner 清理失去对应任务的缓存记录
type Pruner interface {
	PruneOrphans() (int, error)
}

// JanitorService 缓存清理服务
type JanitorService struct {
	pruner   Pruner
	schedule string
	logger   *logger.Logger
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
}

// NewJanitorService 创建缓存清理服务
func NewJanitorService(schedule string, pruner Pruner, log *logger.Logger) *JanitorService {
	return &JanitorService{
		pruner:   pruner,
		schedule: schedule,
		logger:   log,
	}
}

// Start 按计划启动清理
func (s *JanitorService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, s.RunOnce); err != nil {
		return fmt.Errorf("解析清理计划失败: %w", err)
	}

	c.Start()
	s.cron = c
	s.running = true
	s.logger.Infof("缓存清理服务已启动，计划: %s", s.schedule)
	return nil
}

// Stop 停止清理并等待正在执行的任务结束
func (s *JanitorService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("缓存清理服务已停止")
}

// RunOnce 执行一次清理
func (s *JanitorService) RunOnce() {
	pruned, err := s.pruner.PruneOrphans()
	if err != nil {
		s.logger.Errorf("清理缓存失败: %v", err)
		return
	}
	if pruned > 0 {
		s.logger.Infof("已清理 %d 条失效缓存", pruned)
	} else {
		s.logger.Debug("没有需要清理的缓存")
	}
}
