// Command escrowd boots the escrow timing engine: it wires the queue
// substrate, the deal API and notification ports, the scheduling engine
// and its three processors, then serves the Helius webhook endpoint and
// runs the worker pools until a shutdown signal arrives.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dealtimer/escrow-engine/api"
	"github.com/dealtimer/escrow-engine/chain"
	"github.com/dealtimer/escrow-engine/command"
	"github.com/dealtimer/escrow-engine/core"
	"github.com/dealtimer/escrow-engine/notify"
	"github.com/dealtimer/escrow-engine/policy"
	"github.com/dealtimer/escrow-engine/processor"
	"github.com/dealtimer/escrow-engine/queue"
	"github.com/dealtimer/escrow-engine/ratelimit"
	"github.com/dealtimer/escrow-engine/router"
	"github.com/dealtimer/escrow-engine/schedule"
	"github.com/dealtimer/escrow-engine/webhooks"
	"github.com/dealtimer/escrow-engine/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := core.LoadConfig(ctx, func(key string) (string, bool) { return os.LookupEnv(key) })
	if err != nil {
		log.Fatalf("escrowd: load config: %v", err)
	}

	deps := core.NewDeps(cfg.ServiceName)

	limiter := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())

	dealAPI := api.NewClient(cfg.ActionsBaseURL)
	dealAPI.Limiter = limiter

	notifier := buildNotifier(cfg, limiter)

	var policySource core.PolicySource
	if strings.TrimSpace(cfg.RPCURL) != "" {
		policySource = chain.NewPolicySource(cfg.RPCURL)
	}
	gate := policy.NewGate(cfg, policySource)

	registry, closeQueues := buildQueueRegistry(cfg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := closeQueues(shutdownCtx); err != nil {
			deps.Observer.LogError(shutdownCtx, "queue shutdown failed", map[string]any{"error": err.Error()})
		}
	}()

	engine := schedule.NewEngine(registry, schedule.NewMemoryNonceTracker(), deps.Clock)
	engine.Observer = deps.Observer

	deadlineProcessor := processor.NewDeadlineProcessor(dealAPI, gate, registry, notifier)
	deadlineProcessor.Observer = deps.Observer
	reminderProcessor := processor.NewReminderProcessor(dealAPI, notifier)
	reminderProcessor.Observer = deps.Observer
	escalationProcessor := processor.NewEscalationProcessor(gate, dealAPI, notifier)
	escalationProcessor.Observer = deps.Observer

	dispatcher := &worker.Dispatcher{
		Deadline:   command.NewDeadlineCommand(deadlineProcessor),
		Reminder:   command.NewReminderCommand(reminderProcessor),
		Escalation: command.NewEscalationCommand(escalationProcessor),
	}

	rescanner := schedule.NewRescanner(engine, dealAPI, dealAPI, deps.Observer)
	if err := rescanner.Start("*/15 * * * *"); err != nil {
		log.Fatalf("escrowd: start rescanner: %v", err)
	}
	defer rescanner.Stop()

	runtime := buildWorkerRuntime(cfg, registry, dispatcher, deps.Observer)
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		runtime.Start(ctx)
	}()
	defer func() {
		<-workersDone
	}()

	intake := webhooks.Intake{
		Verifier: webhooks.Verifier{Secret: cfg.HeliusWebhookSecret},
		Ledger:   deps.ReplayLedger,
		Burst: webhooks.NewBurstController(webhooks.BurstOptions{
			Mode:   webhooks.BurstMode(cfg.BurstMode),
			Window: time.Duration(cfg.BurstWindowMs) * time.Millisecond,
			Now:    deps.Clock,
		}),
	}
	webhookRouter := router.NewRouter(dealAPI, engine)
	webhookRouter.Observer = deps.Observer

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(cfg.ServiceName, deps.Clock))
	mux.HandleFunc("/webhooks/helius", webhookHandler(intake, webhookRouter))

	server := &http.Server{Addr: ":8080", Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	deps.Observer.LogInfo(ctx, "escrowd listening", map[string]any{"addr": server.Addr, "service": cfg.ServiceName})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("escrowd: server failed: %v", err)
	}
	deps.Observer.LogInfo(context.Background(), "escrowd shutting down", nil)
}

func buildNotifier(cfg core.Config, limiter *ratelimit.AdaptivePolicy) core.Notifier {
	switch cfg.NotifyDriver {
	case core.NotifyDriverDialect:
		n := notify.NewDialectNotifier(cfg.NotifyDialectBaseURL, cfg.NotifyDialectKey)
		n.Limiter = limiter
		return n
	default:
		return notify.NewNoopNotifier()
	}
}

func buildQueueRegistry(cfg core.Config) (*queue.Registry, func(context.Context) error) {
	registry := queue.NewRegistry()

	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("escrowd: invalid REDIS_URL: %v", err)
		}
		client := redis.NewClient(opts)
		for _, name := range queue.Names() {
			if err := registry.Register(name, queue.NewRedisStore(client, name)); err != nil {
				log.Fatalf("escrowd: register queue %s: %v", name, err)
			}
		}
		return registry, registry.CloseAll
	}

	for _, name := range queue.Names() {
		if err := registry.Register(name, queue.NewMemoryStore(name)); err != nil {
			log.Fatalf("escrowd: register queue %s: %v", name, err)
		}
	}
	return registry, registry.CloseAll
}

func buildWorkerRuntime(cfg core.Config, registry *queue.Registry, dispatcher *worker.Dispatcher, observer *core.Observer) *worker.Runtime {
	pools := make([]*worker.Pool, 0, len(queue.Names()))
	for _, name := range queue.Names() {
		store, ok := registry.Get(name)
		if !ok {
			log.Fatalf("escrowd: queue %s is not registered", name)
		}
		pools = append(pools, &worker.Pool{
			Queue:       name,
			Dequeuer:    store,
			Handler:     dispatcher,
			Concurrency: cfg.WorkerConcurrency,
			Retry:       worker.DefaultRetryPolicy(),
			Observer:    observer,
		})
	}
	return worker.NewRuntime(pools...)
}

func healthHandler(service string, clock core.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": service,
			"time":    clock().Format(time.RFC3339),
		})
	}
}

func webhookHandler(intake webhooks.Intake, r *router.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "reason": "method not allowed"})
			return
		}
		body, err := readBody(req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "reason": "malformed json"})
			return
		}

		webhookID := req.Header.Get(webhooks.WebhookIDHeader)
		signature := req.Header.Get(webhooks.SignatureHeader)

		result, err := intake.Process(req.Context(), webhookID, signature, body)
		if err != nil {
			if strings.Contains(err.Error(), "malformed json") {
				writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "reason": "malformed json"})
				return
			}
			writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "reason": "signature verification failed"})
			return
		}

		routed := r.Route(req.Context(), result.Events)
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"accepted": routed.Accepted,
			"ignored":  result.Ignored + routed.Ignored,
		})
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
