package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	tthttp "github.com/forever-free1/TideTable/api/http"
	"github.com/forever-free1/TideTable/kvstore"
	"github.com/forever-free1/TideTable/watch"
)

func main() {
	var (
		dir        = flag.String("dir", "./tidetable-data", "数据目录")
		addr       = flag.String("addr", ":8080", "HTTP 监听地址")
		syncWrites = flag.Bool("sync", true, "每次写入后同步到磁盘")
		cacheBytes = flag.Int64("cache", 32<<20, "读缓存大小（字节），0 表示关闭")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	hub := watch.NewHub()
	opts := []kvstore.Option{
		kvstore.WithSyncWrites(*syncWrites),
		kvstore.WithHub(hub),
		kvstore.WithLogger(logger),
	}
	if *cacheBytes > 0 {
		opts = append(opts, kvstore.WithReadCache(*cacheBytes))
	}
	store, err := kvstore.Open(*dir, opts...)
	if err != nil {
		logger.Fatal("打开存储失败", zap.String("dir", *dir), zap.Error(err))
	}

	server := tthttp.NewServer(*addr, store, hub, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func(ctx context.Context) {
		defer wg.Done()
		<-ctx.Done()
		if err := server.Shutdown(5 * time.Second); err != nil {
			logger.Error("停机失败", zap.Error(err))
		}
		hub.Close()
		if err := store.Close(); err != nil {
			logger.Error("关闭存储失败", zap.Error(err))
		}
	}(ctx)

	logger.Info("tidetable 启动", zap.String("addr", *addr), zap.String("dir", *dir))
	if err := server.Start(); err != nil {
		logger.Error("服务器退出", zap.Error(err))
	}

	wg.Wait()
}
