package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"SpotBridge/internal/arbiter"
	"SpotBridge/internal/collector"
	"SpotBridge/internal/config"
	"SpotBridge/internal/console"
	"SpotBridge/internal/logging"
	"SpotBridge/internal/model"
	"SpotBridge/internal/notifier"
	"SpotBridge/internal/percentile"
	"SpotBridge/internal/plc"
	"SpotBridge/internal/recorder"
	"SpotBridge/internal/scheduler"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "configs/config.yaml", "path to the YAML or TOML config file")
	once := flag.Bool("once", false, "run a single synchronization cycle and exit")
	autoDelay := flag.Duration("auto-delay", 0, "time to wait for operator input before synchronizing unattended (overrides config)")
	flag.Parse()
	if v := os.Getenv("CONFIG_PATH"); v != "" && !flagPassed("config") {
		*cfgPath = v
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		return 1
	}

	var logPaths []string
	if cfg.Log.File != "" {
		logPaths = []string{cfg.Log.File}
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development, logPaths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer log.Sync()
	log.Infow("SpotBridge starting", "config", *cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Init fetcher
	var fetcher collector.Fetcher
	if cfg.Feeds.Mock {
		fetcher = &collector.MockFetcher{
			Rate:   decimal.RequireFromString("0.134"),
			Series: collector.GenerateMockSeries(time.Now(), 500),
		}
	} else {
		ed := collector.NewEnergiDataFetcher(cfg.Feeds.ExchangeRateURL, cfg.Feeds.PricesURL, cfg.Feeds.APIKey,
			cfg.Feeds.Proxy, cfg.FeedTimeout(), collector.RetryPolicy{
				MaxAttempts:       cfg.Feeds.MaxRetries,
				RateLimitCooldown: time.Duration(cfg.Feeds.CooldownSeconds) * time.Second,
				BaseDelay:         time.Duration(cfg.Feeds.BaseDelaySeconds) * time.Second,
			}, log)
		if err := ed.ValidateExchangeRateKey(ctx); err != nil {
			if errors.Is(err, collector.ErrUnauthorized) {
				log.Errorw("exchange rate API key rejected", "error", err)
				return 1
			}
			log.Warnw("could not validate exchange rate API key, continuing", "error", err)
		}
		fetcher = ed
	}
	log.Infow("price source", "source", fetcher.Name())
	col := collector.NewCollector(fetcher, log)

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log)
		if err != nil {
			log.Warnw("init sqlite recorder failed, using noop", "error", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	// Init notifier
	var notif notifier.Notifier = notifier.NoopNotifier{}
	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Feeds.Proxy, log)
		notif = tn
	}

	regs, err := cfg.RegisterMap()
	if err != nil {
		log.Errorw("register map", "error", err)
		return 1
	}
	schedule, err := cfg.CronSchedule()
	if err != nil {
		log.Errorw("schedule", "error", err)
		return 1
	}

	ep := endpoint(cfg)
	open := func(ctx context.Context) (scheduler.Session, error) {
		s, err := plc.Open(ctx, ep, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	sched := scheduler.NewScheduler(col, open, regs, schedule, rec, notif, log)
	cache := percentile.NewCache(cfg.Cache.PercentilePath, log)

	if *once {
		return runOnce(ctx, sched, cache, log)
	}

	arb := arbiter.New()
	con := console.New(os.Stdin, os.Stdout, col, sched, arb, cache, cfg.ExportPath, log)
	sched.Params = con.Params

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info("telegram polling started")
	}

	delay := cfg.AutoDelay()
	if *autoDelay > 0 {
		delay = *autoDelay
	}
	arb.Arm(delay, func() { con.StartAuto(ctx) })
	log.Infow("waiting for operator input", "auto_start_in", delay)

	if err := con.Run(ctx); err != nil {
		log.Errorw("console", "error", err)
		return 1
	}
	arb.Disarm()
	log.Info("SpotBridge stopped")
	return 0
}

func runOnce(ctx context.Context, sched *scheduler.Scheduler, cache *percentile.Cache, log *zap.SugaredLogger) int {
	params, _ := cache.Resolve(true, nil)
	sched.Params = func() model.PercentileParameters { return params }

	rep, err := sched.RunOnce(ctx, model.TriggerManual)
	if err != nil {
		log.Errorw("single cycle", "error", err)
		return 1
	}
	fmt.Print(notifier.FormatCycleReport(rep))
	if !rep.OK() {
		return 1
	}
	return 0
}

func endpoint(cfg *config.Config) plc.Endpoint {
	return plc.Endpoint{
		Transport:       cfg.PLC.Transport,
		Address:         cfg.PLC.Address,
		SerialDevice:    cfg.PLC.SerialDevice,
		BaudRate:        cfg.PLC.BaudRate,
		DataBits:        cfg.PLC.DataBits,
		Parity:          cfg.PLC.Parity,
		StopBits:        cfg.PLC.StopBits,
		SlaveID:         byte(cfg.PLC.UnitID),
		Timeout:         time.Duration(cfg.PLC.TimeoutSeconds) * time.Second,
		ConnectAttempts: cfg.PLC.ConnectAttempts,
		RetryDelay:      time.Duration(cfg.PLC.RetryDelay) * time.Second,
		Ping:            cfg.PLC.Ping,
	}
}

func flagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
