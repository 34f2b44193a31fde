package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"storefront/internal/storefront"
)

func main() {
	_ = godotenv.Load() // .env is optional

	var configPath, listen string
	flag.StringVar(&configPath, "config", getenvDefault("STOREFRONT_CONFIG", "/storefront.yaml"), "path to storefront.yaml")
	flag.StringVar(&listen, "listen", "", "listen address, overrides server.port")
	flag.Parse()

	if err := run(configPath, listen); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, listen string) error {
	cfg, err := storefront.LoadConfig(configPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if listen == "" {
		listen = fmt.Sprintf(":%d", cfg.Server.Port)
	}

	svc, err := storefront.NewService(cfg)
	if err != nil {
		return errors.Wrap(err, "init service")
	}
	defer svc.Close()

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return errors.Wrapf(err, "listen %s", listen)
	}
	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("storefront listening on %s, source=%s, key=%s", listen, cfg.Source.URL, cfg.Storage.Key)
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve")
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func getenvDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
