package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talkincode/evopanel/config"
	"github.com/talkincode/evopanel/internal/adminapi"
	"github.com/talkincode/evopanel/internal/app"
	"github.com/talkincode/evopanel/internal/gateway"
	"github.com/talkincode/evopanel/internal/instance"
	"github.com/talkincode/evopanel/internal/webserver"
	"go.uber.org/zap"
)

var (
	h        = flag.Bool("h", false, "help usage")
	conffile = flag.String("c", "/etc/evopanel.yml", "config yaml file")
	initdb   = flag.Bool("initdb", false, "drop and recreate database tables")
)

func printHelp() {
	if *h {
		fmt.Fprintf(os.Stderr, "evopanel usage:\nUsage: %s -h\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(0)
	}
}

func main() {
	flag.Parse()
	printHelp()

	cfg := config.LoadConfig(*conffile)
	cfg.InitDirs()

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initdb {
		application.InitDb()
		zap.S().Info("database initialized")
		return
	}

	gw := gateway.NewClient(application.ManagerWebhookURL(),
		time.Duration(cfg.Manager.Timeout)*time.Second)
	manager := instance.NewManager(application.InstanceStore(), gw,
		instance.NewBusFeed(application.Bus()))
	defer manager.Close()

	webserver.Init(application)
	adminapi.Init(application, manager)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	application.StartBackgroundJobs(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- webserver.Start()
	}()

	select {
	case err := <-errCh:
		zap.S().Errorf("web server stopped: %v", err)
	case <-ctx.Done():
		zap.S().Info("shutdown signal received")
	}
}
