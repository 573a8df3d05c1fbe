/*
 * Copyright 2026 The Confcore Authors.
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

// Command confcored wires every component package into one running
// process: store, schema, validator, plugin bus, transaction engine,
// changelog engine, startup replay, confirmed-commit manager and the
// RPC surface, then serves /healthz and /metrics until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/confcore/confcore/changelog"
	"github.com/confcore/confcore/clock"
	"github.com/confcore/confcore/confirm"
	"github.com/confcore/confcore/plugin"
	"github.com/confcore/confcore/rpc"
	"github.com/confcore/confcore/store"
	"github.com/confcore/confcore/startup"
	"github.com/confcore/confcore/txengine"
	"github.com/confcore/confcore/validate"
	"github.com/confcore/confcore/xpath"
	"github.com/confcore/confcore/yang"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "directory holding one JSON file per datastore")
	addr := flag.String("addr", ":9191", "address to serve /healthz and /metrics on")
	mqttBroker := flag.String("mqtt-broker", "", "optional MQTT broker URL for confirmed-commit lifecycle events (e.g. tcp://localhost:1883)")
	mqttTopic := flag.String("mqtt-topic", "confcore/confirmed-commit", "MQTT topic confirmed-commit events publish to")
	checkOldModstate := flag.Bool("check-old-modstate", true, "detect module-state mismatch before running startup upgrades")
	flag.Parse()

	logger := log.New(os.Stderr, "confcored: ", log.LstdFlags)

	s, err := store.New(*dataDir)
	if err != nil {
		logger.Fatalf("open datastore directory %q: %v", *dataDir, err)
	}

	spec := bootstrapSpec()
	evaluator := xpath.NewEvaluator()
	validator := validate.New(spec, evaluator)
	registry := plugin.NewRegistry()
	bus := plugin.NewBus(registry)

	cfg := txengine.NewConfig(
		txengine.WithLogger(loggerAdapter{logger}),
		txengine.WithStore(s),
		txengine.WithSpec(spec),
		txengine.WithValidator(validator),
		txengine.WithBus(bus),
	)
	engine := txengine.NewEngine(cfg)

	changelogEngine := changelog.New(nil, evaluator)

	startupMgr := startup.New(engine, s, spec, bus, changelogEngine)
	startupMgr.Policy.CheckOld = *checkOldModstate
	startupMgr.Logger = loggerAdapter{logger}

	if res := startupMgr.Replay(); !res.IsOk() {
		logger.Fatalf("startup replay failed: %s", res.Error())
	}
	logger.Printf("startup replay complete")

	var publisher confirm.EventPublisher
	if *mqttBroker != "" {
		mp, err := confirm.NewMQTTPublisher(*mqttBroker, "confcored", *mqttTopic)
		if err != nil {
			logger.Fatalf("connect to mqtt broker: %v", err)
		}
		defer mp.Close()
		publisher = mp
	}
	confirmMgr := confirm.New(engine, clock.Real{}, filepath.Join(*dataDir, "confirmed-commit.json"), publisher)
	if err := confirmMgr.Restore(); err != nil {
		logger.Fatalf("restore confirmed-commit state: %v", err)
	}

	server := rpc.New(engine, confirmMgr, s)
	_ = server // the RPC surface is exercised by whatever transport a deployment fronts this process with; none is implemented here.

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	httpServer := &http.Server{Addr: *addr, Handler: mux}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Printf("serving /healthz and /metrics on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server failed: %v", err)
		}
	}()

	<-quit
	logger.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("forced shutdown: %v", err)
	}
}

// loggerAdapter satisfies txengine.Logger and startup.Manager's Logger
// field with the standard library logger this binary configures.
type loggerAdapter struct{ l *log.Logger }

func (a loggerAdapter) Printf(format string, v ...any) { a.l.Printf(format, v...) }

// bootstrapSpec is the minimal embedded schema confcored starts with: a
// yang.StaticSpec holding a single hostname leaf under config. txengine
// and validate take a *yang.StaticSpec, so a larger schema is supplied
// as another StaticSpec built the same way.
func bootstrapSpec() *yang.StaticSpec {
	root := &yang.Statement{Name: "config", Kind: yang.KindContainer, Module: "confcore-system"}
	hostname := &yang.Statement{
		Name: "hostname", Kind: yang.KindLeaf, Module: "confcore-system",
		Type: &yang.TypeSpec{Name: "string"},
	}
	root.AddChild(hostname)

	spec := yang.NewStaticSpec(root)
	spec.SetModuleRevision("confcore-system", "2026-01-01")
	return spec
}
