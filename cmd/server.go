package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"download-tracker/app/config"
	"download-tracker/app/database"
	"download-tracker/app/logger"
	"download-tracker/app/remote"
	"download-tracker/app/server"
	"download-tracker/app/store"
	"download-tracker/app/tracker"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动服务器",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		// 创建日志器
		log := logger.New(cfg.Log)
		defer log.Close()

		// 初始化数据库
		if err := database.Init(cfg, log); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}

		client := remote.New(cfg.Remote, log.Named("remote"))
		defer client.Close()

		engine := tracker.New(
			tracker.OptionsFromConfig(cfg),
			client,
			store.NewTaskCacheStore(database.GetDB()),
			log.Named("tracker"),
		)

		loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
		if err := engine.Load(loadCtx); err != nil {
			log.Errorf("恢复任务失败: %v", err)
		}
		cancelLoad()

		srv, err := server.New(cfg, log, engine)
		if err != nil {
			log.Fatalf("创建服务器失败: %v", err)
		}

		// 在协程中启动服务器
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("启动服务器失败: %v", err)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("收到关闭信号，正在关闭服务器...")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("服务器关闭失败: %v", err)
		}
		log.Info("服务器已退出")
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
