package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"s3verify/internal/config"
	"s3verify/internal/logging"
	"s3verify/internal/objstore"

	"golang.org/x/sync/errgroup"
)

func Run(ctx context.Context) error {

	listen := flag.String("listen", "9000", "HTTP listen port")
	listenTLS := flag.String("listen-tls", "8443", "HTTPS listen port")
	certFile := flag.String("tls-cert", "", "certificate file for HTTPS; HTTPS is off without it")
	keyFile := flag.String("tls-key", "", "private key file for HTTPS")
	dataDir := flag.String("data-dir", "./data", "directory to store object data")
	configFile := flag.String("config", "", "properties file supplying the region and credentials")
	region := flag.String("region", "", "region reported in KMS key ARNs (default from -config, then us-east-1)")
	kmsAccount := flag.String("kms-account", "", "account id reported in KMS key ARNs")
	accessKey := flag.String("access-key", "", "access key required in request signatures; requests are not authenticated without it")
	secretKey := flag.String("secret-key", "", "secret key matching -access-key")
	insecureSSEC := flag.Bool("insecure-sse-c", false, "accept SSE-C keys over plain HTTP")
	logLevel := flag.String("log-level", "debug", "log level: debug, info, warn or error")

	flag.Parse()

	logging.Setup(os.Stdout, logging.Options{Level: *logLevel, ReportCaller: true})

	var opts []objstore.Option

	if *configFile != "" {
		conf, err := config.Load(*configFile)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", *configFile, err)
		}
		if r := conf.GetTrimmed(config.KeyRegion); r != "" {
			opts = append(opts, objstore.WithRegion(r))
		}
		if *accessKey == "" {
			*accessKey = conf.GetTrimmed(config.KeyAccessKey)
			*secretKey = conf.GetTrimmed(config.KeySecretKey)
		}
	}
	if *region != "" {
		opts = append(opts, objstore.WithRegion(*region))
	}
	if *kmsAccount != "" {
		opts = append(opts, objstore.WithKMSAccount(*kmsAccount))
	}
	if *accessKey != "" {
		if *secretKey == "" {
			return errors.New("-secret-key is required with -access-key")
		}
		opts = append(opts, objstore.WithCredentials(*accessKey, *secretKey))
	} else {
		slog.Warn("Serving requests without authentication")
	}
	if *insecureSSEC {
		slog.Warn("Accepting SSE-C keys over plain HTTP")
		opts = append(opts, objstore.WithInsecureCustomerKeys())
	}

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	opts = append(opts, objstore.WithDataDir(absDataDir))

	server, err := objstore.NewServer(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create objstore server: %w", err)
	}

	defer server.Close()

	router := server.Handler()

	httpServer := &http.Server{
		Addr:              ":" + *listen,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	httpsServer := &http.Server{
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		Addr:              ":" + *listenTLS,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return httpsServer.Shutdown(context.Background())
	})

	eg.Go(func() error {
		<-ctx.Done()
		return httpServer.Shutdown(context.Background())
	})

	eg.Go(func() error {
		if *certFile == "" || *keyFile == "" {
			slog.Info("Skipping HTTPS service because no certificate was provided; SSE-C requests will be rejected")
			return nil
		}

		slog.Info("Starting objstore HTTPS server", "port", *listenTLS)
		err := httpsServer.ListenAndServeTLS(*certFile, *keyFile)
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		slog.Info("Starting objstore HTTP server", "port", *listen, "data_dir", absDataDir)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("objstore started")
	return eg.Wait()

}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("objstore exited with error", "error", err)
		os.Exit(1)
	}
}
