package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/framestream/internal/config"
	"github.com/danmuck/framestream/internal/interop"
	logs "github.com/danmuck/framestream/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("streamctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "run config path (defaults apply when empty)")
	initPath := fs.String("init", "", "write a run config template to this path and exit")
	force := fs.Bool("force", false, "overwrite an existing template with -init")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logs.ConfigureRuntime()

	if *initPath != "" {
		if err := config.WriteTemplate(*initPath, "run", *force); err != nil {
			fmt.Fprintf(os.Stderr, "streamctl: %v\n", err)
			return 1
		}
		logs.Infof("streamctl wrote run config template path=%s", *initPath)
		return 0
	}

	cfg := defaultRunConfig()
	if *configPath != "" {
		loaded, err := loadRunConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "streamctl: %v\n", err)
			fmt.Println(interop.BannerPrefix + " FAILED")
			return 1
		}
		cfg = loaded
		logs.Infof("streamctl loaded config path=%s", *configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := interop.NewServiceWithConfig(cfg.Service)
	rep := svc.Run(ctx)
	if rep.Err != nil {
		fmt.Fprintf(os.Stderr, "streamctl: step=%s: %v\n", rep.Step, rep.Err)
	}
	for _, err := range rep.TeardownErrs {
		fmt.Fprintf(os.Stderr, "streamctl: teardown: %v\n", err)
	}
	fmt.Println(rep.Banner())
	return rep.ExitCode(cfg.LegacyExitZero)
}
