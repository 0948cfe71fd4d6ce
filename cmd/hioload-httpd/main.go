// File: cmd/hioload-httpd/main.go
// Package main
// Static file daemon: one epoll reactor, a bounded worker pool, idle eviction.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/momentics/hioload-httpd/control"
	"github.com/momentics/hioload-httpd/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("hioload-httpd", flag.ContinueOnError)
	root := fs.String("root", "", "document root (default ./)")
	cfgPath := fs.String("config", "", "YAML configuration file")
	admin := fs.String("admin", "", "admin listen address for /metrics and /debug/state")
	workers := fs.Int("workers", 0, "worker goroutines (default 8)")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [flags] ip_address port_number\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := server.DefaultConfig()
	logLevel := ""
	if *cfgPath != "" {
		fc, err := control.LoadConfigFile(*cfgPath)
		if err != nil {
			return err
		}
		cfg.ApplyFile(fc)
		logLevel = fc.LogLevel
	}

	switch fs.NArg() {
	case 2:
		port, err := strconv.Atoi(fs.Arg(1))
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("bad port %q", fs.Arg(1))
		}
		cfg.Addr, cfg.Port = fs.Arg(0), port
	case 0:
		if *cfgPath == "" || cfg.Port == 0 {
			fs.Usage()
			return fmt.Errorf("missing ip_address and port_number")
		}
	default:
		fs.Usage()
		return fmt.Errorf("expected ip_address and port_number")
	}
	if *root != "" {
		cfg.DocRoot = *root
	}
	if *admin != "" {
		cfg.AdminAddr = *admin
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *verbose {
		logLevel = "debug"
	}
	cfg.Logger = newLogger(logLevel)

	s, err := server.New(cfg)
	if err != nil {
		return err
	}
	return s.Run(context.Background())
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
