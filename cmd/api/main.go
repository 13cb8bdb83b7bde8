package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httplog"
	"github.com/marcelsud/library-catalog/book"
	"github.com/marcelsud/library-catalog/book/rest"
	"github.com/marcelsud/library-catalog/cache"
	"github.com/marcelsud/library-catalog/config"
	"github.com/marcelsud/library-catalog/internal/http/chi"
	"github.com/marcelsud/library-catalog/metrics"
)

const TIMEOUT = 30 * time.Second

/* Entry point of the catalog API.
 * Everything is wired here, imports only go down: api -> book/cache -> rest.
 * The cache sits between the handlers and the backend; it is closed after the
 * server so background refetches can finish.
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	logger := httplog.NewLogger("library-catalog", httplog.Options{
		JSON:     cfg.LogJSON,
		LogLevel: cfg.LogLevel,
	})

	repo := rest.NewRepository(cfg.BackendURL,
		rest.WithRequestTimeout(cfg.RequestTimeout()),
		rest.WithMaxRetries(cfg.QueryMaxRetries),
		rest.WithRateLimit(cfg.RateLimitRPS),
		rest.WithLogger(logger),
	)
	defer repo.Close(ctx)

	store := cache.NewStore(
		cache.WithGracePeriod(cfg.CacheGrace()),
		cache.WithStoreLogger(logger),
	)
	client := cache.New(store,
		cache.WithFetchTimeout(cfg.FetchTimeout()),
		cache.WithLogger(logger),
	)
	defer closeCache(client)

	exporter, err := metrics.NewOTelExporter(metrics.NewCacheCollector(client))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer exporter.Shutdown(context.Background())

	s := book.NewService(repo, client, book.NewValidator(), book.WithServiceLogger(logger))
	r := chi.Handlers(ctx, s, logger, exporter.ServeHTTP())
	http.Handle("/", r)
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      http.DefaultServeMux,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	logger.Info().Str("port", cfg.Port).Str("backend", cfg.BackendURL).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		fmt.Println(err)
		return
	}
	err = <-errShutdown
	if err != nil {
		fmt.Println(err)
		return
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	}
}

func closeCache(client *cache.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), TIMEOUT)
	defer cancel()
	if err := client.Close(ctx); err != nil {
		fmt.Println(err)
	}
}
