package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MomentumBP/pkg/core/services"
)

func main() {
	port := flag.String("port", "8080", "HTTP listen port")
	dataDir := flag.String("data", "", "directory of IDX datasets that runs may reference (empty disables datasets)")
	flag.Parse()

	svc := services.NewTrainService(*port)
	svc.DataDir = *dataDir

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Start()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("训练服务启动失败: %v", err)
		}
	case s := <-sig:
		log.Printf("收到信号 %v，停止所有训练任务...", s)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			log.Printf("关闭HTTP服务器失败: %v", err)
		}
	}
}
