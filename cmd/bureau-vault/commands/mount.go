// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/cmd/bureau-vault/cli"
	"github.com/bureau-foundation/vault/lib/vaultfs"
)

type mountParams struct {
	repositoryParams
	AllowOther    bool   `flag:"allow-other" desc:"let other users read the mount (needs user_allow_other in /etc/fuse.conf)"`
	MetricsListen string `flag:"metrics-listen" desc:"host:port serving Prometheus metrics (default: metrics.listen)"`
}

func mountCommand() *cli.Command {
	var params mountParams
	return &cli.Command{
		Name:    "mount",
		Summary: "Mount archives as a read-only filesystem",
		Description: `Mount the repository with FUSE. Each archive is a directory below the
mountpoint. The command runs until interrupted, then unmounts. The
repository stays locked while mounted.`,
		Usage: "bureau-vault mount [flags] <mountpoint>",
		Examples: []cli.Example{
			{
				Description: "Browse archives and expose metrics",
				Command:     "bureau-vault mount --metrics-listen 127.0.0.1:9464 /mnt/vault",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("mount", &params)
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if len(args) != 1 {
				return fmt.Errorf("expected <mountpoint>, got %d arguments", len(args))
			}
			s, err := params.session("mount")
			if err != nil {
				return err
			}
			listen := params.MetricsListen
			if listen == "" {
				listen = s.config.Metrics.Listen
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			repo, err := s.open(ctx, registry)
			if err != nil {
				return err
			}
			defer closeRepository(repo, &err)

			if listen != "" {
				stop, err := serveMetrics(listen, registry, s.logger)
				if err != nil {
					return err
				}
				defer stop()
			}

			server, err := vaultfs.Mount(vaultfs.Options{
				Mountpoint: args[0],
				Source:     repo,
				AllowOther: params.AllowOther,
				Logger:     s.logger,
			})
			if err != nil {
				return err
			}
			s.logger.Info("mounted", "mountpoint", args[0])

			unmounted := make(chan struct{})
			go func() {
				server.Wait()
				close(unmounted)
			}()
			select {
			case <-ctx.Done():
				s.logger.Info("unmounting", "mountpoint", args[0])
				if err := server.Unmount(); err != nil {
					return fmt.Errorf("unmounting %s: %w", args[0], err)
				}
				<-unmounted
			case <-unmounted:
				s.logger.Info("unmounted externally", "mountpoint", args[0])
			}
			return nil
		},
	}
}

// serveMetrics serves registry on listen until the returned stop
// function is called.
func serveMetrics(listen string, registry *prometheus.Registry, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "address", listener.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}, nil
}
