/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:build linux

// memdiag drives the mmap and System V shared-memory diagnostic suites.
//
// One-shot mode runs the selected suites and exits 0 when every scenario
// passed (skips included unless -strict), 1 otherwise. With -serve the
// suites re-run on an interval and the outcome is exposed over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/memdiag/internal/logging"
	"github.com/srediag/memdiag/internal/serve"
	"github.com/srediag/memdiag/internal/sysinfo"
	"github.com/srediag/memdiag/pkg/diag"
	"github.com/srediag/memdiag/pkg/diag/mmapcheck"
	"github.com/srediag/memdiag/pkg/diag/shmcheck"
)

type options struct {
	suite     string
	parallel  int
	strict    bool
	keepGoing bool
	serveAddr string
	interval  time.Duration
	logLevel  int
}

func parseOptions() (*options, error) {
	opts := &options{}
	flag.StringVar(&opts.suite, "suite", "all", "suite to run: mmap, shm or all")
	flag.IntVar(&opts.parallel, "parallel", 1, "scenario workers; 1 keeps the canonical linear order")
	flag.BoolVar(&opts.strict, "strict", false, "treat skipped scenarios as failures")
	flag.BoolVar(&opts.keepGoing, "keep-going", false, "continue past the first failed scenario")
	flag.StringVar(&opts.serveAddr, "serve", "", "monitor mode: listen address for health and metrics endpoints")
	flag.DurationVar(&opts.interval, "interval", time.Minute, "suite re-run interval in monitor mode")
	flag.IntVar(&opts.logLevel, "log-level", -1, "log level 0..5, -1 keeps MEMDIAG_LOG_LEVEL")
	flag.Parse()

	switch opts.suite {
	case "mmap", "shm", "all":
	default:
		return nil, fmt.Errorf("unknown suite %q", opts.suite)
	}
	if opts.parallel < 1 {
		return nil, fmt.Errorf("parallel must be >= 1, got %d", opts.parallel)
	}
	return opts, nil
}

func main() {
	// The child half of the shm scenario re-enters through the same binary.
	if code, isChild := shmcheck.ChildMain(); isChild {
		os.Exit(code)
	}

	log := logging.Default()
	opts, err := parseOptions()
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(2)
	}
	if opts.logLevel >= 0 {
		logging.SetLevel(opts.logLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	probe, err := sysinfo.Collect()
	if err != nil {
		log.Errorf("host probe: %v", err)
		os.Exit(1)
	}
	log.Infof("host: %s", probe.Summary())

	registry := prometheus.NewRegistry()
	runner, err := diag.NewRunner(diag.Config{
		Parallel: opts.parallel,
		FailFast: !opts.keepGoing && opts.parallel == 1,
		Strict:   opts.strict,
		Registry: registry,
	})
	if err != nil {
		log.Errorf("runner: %v", err)
		os.Exit(1)
	}
	if opts.suite == "mmap" || opts.suite == "all" {
		runner.Register(mmapcheck.Scenarios(probe)...)
	}
	if opts.suite == "shm" || opts.suite == "all" {
		runner.Register(shmcheck.Scenario())
	}

	if opts.serveAddr != "" {
		monitor := serve.NewMonitor(opts.serveAddr, opts.interval, registry, runner.Run)
		if err := monitor.Serve(ctx); err != nil {
			log.Errorf("monitor: %v", err)
			os.Exit(1)
		}
		return
	}

	sum, err := runner.Run(ctx)
	if err != nil {
		log.Errorf("run: %v", err)
		os.Exit(1)
	}
	if err := sum.Render(os.Stdout); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	if !sum.Ok() {
		os.Exit(1)
	}
}
