// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeeDigitalWorks/gasmeter/pkg/env"
	"github.com/LeeDigitalWorks/gasmeter/pkg/logger"
	"github.com/LeeDigitalWorks/gasmeter/pkg/utils"

	"github.com/gin-gonic/gin"
)

// configureGin sets gin's process-wide mode. Debug route dumps stay on for
// local runs only.
func configureGin() {
	if !env.IsLocal() {
		gin.SetMode(gin.ReleaseMode)
	}
}

func startHTTPServer(name string, handler http.Handler, ip string, port int) *http.Server {
	addr := utils.JoinHostPort(ip, port)
	listener, err := utils.NewListener(addr, 3*time.Minute)
	if err != nil {
		logger.Fatal().Err(err).Str("server", name).Msg("failed to create HTTP listener")
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("server", name).Str("http_addr", addr).Msg("Starting HTTP server")
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Str("server", name).Msg("failed to start HTTP server")
		}
	}()
	return httpServer
}

func waitForShutdown() os.Signal {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	defer signal.Stop(stopChan)
	return <-stopChan
}
