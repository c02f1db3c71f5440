package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdptap/internal/config"
	"cdptap/internal/logger"
	"cdptap/internal/storage"
	"cdptap/pkg/api"
	"cdptap/pkg/model"
)

// main 是 CLI 入口：附加目标、启用拦截并持续输出事件
func main() {
	var (
		cfgPath  = flag.String("config", "", "配置文件路径 (YAML)")
		devtools = flag.String("devtools", "", "DevTools 地址，覆盖配置文件")
		rules    = flag.String("rules", "", "规则文件路径，覆盖配置文件")
		target   = flag.String("target", "", "目标ID，为空附加第一个目标")
		list     = flag.Bool("list", false, "仅列出目标后退出")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *devtools != "" {
		cfg.DevTools.URL = *devtools
	}
	if *rules != "" {
		cfg.RulesFile = *rules
	}

	log := logger.New(logger.Options{
		Level:    cfg.Log.Level,
		Writer:   cfg.Log.Writer,
		FilePath: cfg.Log.File,
	})

	svc := api.NewService(log)
	sid, err := svc.StartSession(model.SessionConfig{
		DevToolsURL:      cfg.DevTools.URL,
		ProcessTimeoutMS: cfg.DevTools.ProcessTimeoutMS,
		URLPattern:       cfg.Intercept.URLPattern,
		RequestStage:     cfg.Intercept.RequestStage,
		ResponseStage:    cfg.Intercept.ResponseStage,
	})
	if err != nil {
		log.Err(err, "启动会话失败")
		os.Exit(1)
	}
	defer svc.StopSession(sid)

	if *list {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		targets, err := svc.ListTargets(ctx, sid)
		if err != nil {
			log.Err(err, "列出目标失败")
			os.Exit(1)
		}
		for _, t := range targets {
			fmt.Printf("%s\t%s\t%s\n", t.ID, t.Type, t.URL)
		}
		return
	}

	if cfg.RulesFile != "" {
		rs, err := config.LoadRules(cfg.RulesFile)
		if err != nil {
			log.Err(err, "加载规则失败")
			os.Exit(1)
		}
		if err := svc.LoadRules(sid, rs); err != nil {
			log.Err(err, "设置规则失败")
			os.Exit(1)
		}
	}

	if err := svc.AttachTarget(sid, model.TargetID(*target)); err != nil {
		log.Err(err, "附加目标失败")
		os.Exit(1)
	}
	if err := svc.EnableInterception(sid); err != nil {
		log.Err(err, "启用拦截失败")
		os.Exit(1)
	}

	var store *storage.Store
	if cfg.Sqlite.Dsn != "" {
		store, err = storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, log)
		if err != nil {
			log.Err(err, "打开存储失败", "dsn", cfg.Sqlite.Dsn)
			os.Exit(1)
		}
		defer store.Close()
	}

	events, err := svc.SubscribeEvents(sid)
	if err != nil {
		log.Err(err, "订阅事件失败")
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	log.Info("拦截已启动", "devtools", cfg.DevTools.URL)

	for {
		select {
		case evt := <-events:
			evt.Session = sid
			log.Info("拦截事件", "type", evt.Type, "url", evt.URL, "method", evt.Method, "stage", evt.Stage)
			if store != nil {
				if err := store.Record(evt); err != nil {
					log.Err(err, "写入记录失败")
				}
			}
		case <-sig:
			log.Info("收到退出信号")
			return
		}
	}
}
