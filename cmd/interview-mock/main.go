// Command interview-mock runs a scripted interview backend for local
// development: the application REST endpoints and the interview websocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jwulff/interview/internal/config"
	"github.com/jwulff/interview/internal/logging"
	"github.com/jwulff/interview/internal/mockserver"
)

func main() {
	configFile := flag.String("config", "", "config file")
	listen := flag.String("listen", "", "listen address, overrides mock.listen")
	scriptFile := flag.String("script", "", "YAML interview script, overrides mock.script")
	typing := flag.Duration("typing-delay", 800*time.Millisecond, "pause between the typing indicator and each message")
	flag.Parse()

	if err := run(*configFile, *listen, *scriptFile, *typing); err != nil {
		fmt.Fprintln(os.Stderr, "interview-mock:", err)
		os.Exit(1)
	}
}

func run(configFile, listen, scriptFile string, typing time.Duration) error {
	src, err := config.Load(configFile)
	if err != nil {
		return err
	}
	cfg := src.Config()

	logOpts := cfg.Logging.Options("interview-mock")
	logOpts.Console = true
	log, level, err := logging.Init(logOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	src.Watch(log, func(c *config.Config) {
		if err := logging.SetLevel(level, c.Logging.Level); err != nil {
			log.Warn("Ignoring log level change", zap.Error(err))
		}
	})

	if scriptFile == "" {
		scriptFile = cfg.Mock.Script
	}
	script := mockserver.DefaultScript()
	if scriptFile != "" {
		if script, err = mockserver.LoadScript(scriptFile); err != nil {
			return err
		}
		log.Info("Loaded interview script", zap.String("file", scriptFile), zap.Int("questions", len(script.Questions)))
	}

	if listen == "" {
		listen = cfg.Mock.Listen
	}
	gin.SetMode(gin.ReleaseMode)
	srv := mockserver.New(mockserver.Options{
		Script:      script,
		Token:       cfg.Mock.Token,
		TypingDelay: typing,
		Logger:      log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx, listen); err != nil {
		log.Error("Mock backend stopped", zap.Error(err))
		return err
	}
	log.Info("Mock backend shut down")
	return nil
}
