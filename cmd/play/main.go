package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"pitara-engine/internal/config"
	"pitara-engine/internal/domain"
	"pitara-engine/internal/player"
	"pitara-engine/internal/player/mpv"
	"pitara-engine/internal/repository"
	"pitara-engine/internal/repository/store"
	"pitara-engine/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	quality := pflag.StringP("quality", "q", "", "initial quality label (defaults to player.quality)")
	startSecs := pflag.Float64P("start", "s", 0, "start position in seconds")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: play [flags] <download-id | uri>\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}
	if *quality == "" {
		*quality = cfg.Player.Quality
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	uri, downloaded, err := resolveSource(ctx, cfg, pflag.Arg(0))
	if err != nil {
		logger.Fatalf("resolve source: %v", err)
	}
	if downloaded != "" {
		// local files only exist in the quality they were downloaded in
		*quality = downloaded
	}

	// mpv reports observed properties as soon as it is spawned; callbacks wait for the controller.
	var controller *player.Controller
	ready := make(chan struct{})
	engine, err := mpv.Spawn(ctx, cfg.Player.Binary, cfg.Player.SocketPath, nil, mpv.Config{
		Logger: logger,
		OnStatus: func(st player.Status) {
			<-ready
			if err := controller.OnStatus(ctx, st); err != nil {
				logger.Warnf("status: %v", err)
			}
		},
		OnError: func(err error) {
			<-ready
			if err := controller.OnError(ctx, err); err != nil {
				logger.Errorf("playback: %v", err)
			}
		},
	})
	if err != nil {
		logger.Fatalf("start mpv: %v", err)
	}

	controller = player.NewController(player.Config{
		Engine: engine,
		Chrome: player.NopChrome{},
		Logger: logger,
		OnProgress: func(fraction float64) {
			logger.Debugf("progress %.3f", fraction)
		},
	})
	close(ready)

	if err := controller.Open(ctx, player.OpenOptions{
		URI:         uri,
		Quality:     *quality,
		StartMillis: int64(*startSecs * 1000),
	}); err != nil {
		logger.Errorf("open: %v", err)
	}

	fmt.Println(usage)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			err := runCommand(ctx, controller, os.Stdout, line)
			if errors.Is(err, errQuit) {
				break loop
			}
			if err != nil {
				logger.Warn(err)
			}
		}
	}

	closeCtx := context.WithoutCancel(ctx)
	if err := controller.Close(closeCtx); err != nil {
		logger.Warnf("close player: %v", err)
	}
	if err := engine.Close(); err != nil {
		logger.Debugf("close mpv: %v", err)
	}
}

// resolveSource maps a download id to its completed local file and its quality; anything
// else is used as a URI.
func resolveSource(ctx context.Context, cfg config.Config, arg string) (uri, quality string, err error) {
	store, err := openStore(cfg)
	if err != nil {
		return "", "", err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return "", "", err
	}

	downloads, err := service.NewDownloadService(store).LoadDownloads(ctx)
	if err != nil {
		return "", "", err
	}
	for _, d := range downloads {
		if d.ID != arg {
			continue
		}
		if d.Status != domain.DownloadStatusCompleted {
			return "", "", fmt.Errorf("download %s is %s", d.ID, d.Status)
		}
		return d.LocalPath, d.Quality, nil
	}
	return arg, "", nil
}

func openStore(cfg config.Config) (repository.KVStore, error) {
	return store.Open(store.Options{
		Backend:     cfg.Store.Backend,
		Dir:         cfg.Store.Dir,
		SQLitePath:  cfg.Database.Path,
		PostgresDSN: cfg.Database.DSN,
	})
}
