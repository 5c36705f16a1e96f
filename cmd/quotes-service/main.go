package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"tickwire.com/internal/quotes/app"
)

var configName = flag.String("c", "quotes-service", "config file name under ./config, without .yaml")

func main() {
	flag.Parse()

	// 1. 支持 Ctrl+C / kubernetes 停止信号的 context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化 App
	quotesApp, err := app.New(*configName)
	if err != nil {
		log.Fatalf("init quotes-service error: %v", err)
	}
	cleanUp, err := quotesApp.StartService(ctx)
	if err != nil {
		log.Fatalf("start quotes-service error: %v", err)
	}
	defer cleanUp()

	// 3. 状态接口
	srv := quotesApp.StartHttp()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("quotes-service ListenAndServe error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("quotes-service shutdown error: %v", err)
	}
	log.Println("quotes-service exit")
}
