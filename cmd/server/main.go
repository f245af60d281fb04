// Command server runs the OCA gateway: a local HTTP gateway that lets
// OpenAI- and Anthropic-protocol clients talk to the OAuth2-gated OCA model
// service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/ocagate/ocagate/internal/api"
	"github.com/ocagate/ocagate/internal/auth"
	"github.com/ocagate/ocagate/internal/browser"
	"github.com/ocagate/ocagate/internal/buildinfo"
	"github.com/ocagate/ocagate/internal/config"
	"github.com/ocagate/ocagate/internal/executor"
	"github.com/ocagate/ocagate/internal/logging"
	"github.com/ocagate/ocagate/internal/registry"
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".ocagate", "config.yaml")
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the configuration file")
	login := flag.Bool("login", false, "open the login page in the default browser on startup")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("ocagate %s (%s)\n", buildinfo.Version, buildinfo.Commit)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authenticator := auth.NewAuthenticator(cfg)
	tokenStore := auth.NewFileTokenStore(cfg.AuthDir)
	tokens := auth.NewTokenManager(authenticator, tokenStore)
	resolver := registry.NewResolver(cfg)
	execClient := executor.NewClient(cfg, tokens)
	server := api.NewServer(cfg, tokens, authenticator, resolver, execClient)

	watcher, err := config.NewWatcher(cfg, func(updated *config.Config) {
		if errLog := logging.ConfigureLogOutput(updated); errLog != nil {
			log.Errorf("failed to reconfigure logging: %v", errLog)
		}
	})
	if err != nil {
		log.Warnf("config watcher unavailable: %v", err)
	} else if err = watcher.Start(ctx); err != nil {
		log.Warnf("failed to start config watcher: %v", err)
	}

	if !tokens.IsAuthenticated() {
		log.Warnf("no stored credentials; sign in at http://%s/auth/login", server.Addr())
	}
	if *login {
		loginURL := fmt.Sprintf("http://%s/auth/login", server.Addr())
		go func() {
			if errOpen := browser.OpenURL(loginURL); errOpen != nil {
				log.Warnf("failed to open browser, visit %s manually: %v", loginURL, errOpen)
			}
		}()
	}

	if err = server.Run(ctx); err != nil {
		log.Errorf("server exited with error: %v", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}
