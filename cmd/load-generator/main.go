package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kitchensync/project/internal/contracts"
	"github.com/kitchensync/project/internal/platform/env"
)

type config struct {
	ServerBase     string
	Users          int
	Duration       time.Duration
	ActionsPerSec  float64
	RequestTimeout time.Duration
	MetricsAddr    string
	Password       string
	EnableSSE      bool
}

func loadConfig() config {
	return config{
		ServerBase:     env.String("LOADGEN_SERVER_BASE", "http://localhost:8080"),
		Users:          env.Int("LOADGEN_USERS", 50),
		Duration:       env.Duration("LOADGEN_DURATION", 2*time.Minute),
		ActionsPerSec:  float64(env.Int("LOADGEN_ACTIONS_PER_SEC", 1)),
		RequestTimeout: env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:    env.String("LOADGEN_METRICS_ADDR", ":9102"),
		Password:       env.String("LOADGEN_PASSWORD", "loadgen-password"),
		EnableSSE:      env.String("LOADGEN_ENABLE_SSE", "true") == "true",
	}
}

var (
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kitchen_loadgen_actions_total",
		Help: "User actions executed by the load generator.",
	}, []string{"action", "outcome"})

	sseConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kitchen_loadgen_sse_connections",
		Help: "Load-generated users with a live event stream.",
	})
)

type authResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type simulatedUser struct {
	Index    int
	Username string
	Token    string

	mu    sync.Mutex
	cards []string
}

type runner struct {
	cfg    config
	runID  string
	client *http.Client

	actionErrors atomic.Int64
}

func main() {
	cfg := loadConfig()
	if cfg.Users <= 0 {
		log.Fatal("LOADGEN_USERS must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
	defer cancel()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("loadgen metrics server failed: %v", err)
		}
	}()

	r := &runner{
		cfg:    cfg,
		runID:  strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}

	users := make([]*simulatedUser, 0, cfg.Users)
	for i := 0; i < cfg.Users; i++ {
		u, err := r.setupUser(ctx, i)
		if err != nil {
			log.Fatalf("setup user %d: %v", i, err)
		}
		users = append(users, u)
	}
	log.Printf("registered %d users, run id %s", len(users), r.runID)

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u *simulatedUser) {
			defer wg.Done()
			r.runUser(ctx, u)
		}(u)
		if cfg.EnableSSE {
			wg.Add(1)
			go func(u *simulatedUser) {
				defer wg.Done()
				r.streamEvents(ctx, u)
			}(u)
		}
	}
	wg.Wait()

	log.Printf("done; action errors: %d", r.actionErrors.Load())
}

func (r *runner) setupUser(ctx context.Context, index int) (*simulatedUser, error) {
	username := fmt.Sprintf("loadgen-%s-%d", r.runID, index)
	body := map[string]string{"username": username, "password": r.cfg.Password}
	var auth authResponse
	if err := r.postJSON(ctx, "", "/api/v1/auth/register", body, &auth); err != nil {
		return nil, err
	}
	return &simulatedUser{Index: index, Username: username, Token: auth.Token}, nil
}

func (r *runner) runUser(ctx context.Context, u *simulatedUser) {
	interval := time.Duration(float64(time.Second) / r.cfg.ActionsPerSec)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, u)
		}
	}
}

func (r *runner) runAction(ctx context.Context, u *simulatedUser) {
	var action string
	var err error
	switch rand.Intn(4) {
	case 0:
		action = "create_card"
		err = r.createCard(ctx, u)
	case 1:
		action = "move_card"
		err = r.moveCard(ctx, u)
	case 2:
		action = "send_message"
		err = r.sendMessage(ctx, u)
	default:
		action = "typing"
		err = r.postJSON(ctx, u.Token, "/api/v1/typing", nil, nil)
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
		r.actionErrors.Add(1)
	}
	actionsTotal.WithLabelValues(action, outcome).Inc()
}

func (r *runner) createCard(ctx context.Context, u *simulatedUser) error {
	body := map[string]any{
		"title":    fmt.Sprintf("prep task %d", rand.Intn(10000)),
		"priority": contracts.PriorityMedium,
	}
	var card contracts.Card
	if err := r.postJSON(ctx, u.Token, "/api/v1/cards", body, &card); err != nil {
		return err
	}
	u.mu.Lock()
	u.cards = append(u.cards, card.ID)
	u.mu.Unlock()
	return nil
}

func (r *runner) moveCard(ctx context.Context, u *simulatedUser) error {
	u.mu.Lock()
	if len(u.cards) == 0 {
		u.mu.Unlock()
		return r.createCard(ctx, u)
	}
	cardID := u.cards[rand.Intn(len(u.cards))]
	u.mu.Unlock()

	columns := contracts.Columns()
	body := map[string]any{
		"column": columns[rand.Intn(len(columns))],
		"index":  0,
	}
	return r.postJSON(ctx, u.Token, "/api/v1/cards/"+url.PathEscape(cardID)+"/move", body, nil)
}

func (r *runner) sendMessage(ctx context.Context, u *simulatedUser) error {
	body := map[string]any{
		"kind": contracts.MessageText,
		"body": fmt.Sprintf("status update %d from %s", rand.Intn(10000), u.Username),
	}
	return r.postJSON(ctx, u.Token, "/api/v1/messages", body, nil)
}

func (r *runner) streamEvents(ctx context.Context, u *simulatedUser) {
	for ctx.Err() == nil {
		if err := r.consumeStream(ctx, u); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("user %d stream dropped: %v", u.Index, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second + time.Duration(rand.Intn(1000))*time.Millisecond):
		}
	}
}

func (r *runner) consumeStream(ctx context.Context, u *simulatedUser) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.cfg.ServerBase+"/events?token="+url.QueryEscape(u.Token), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream status %d", resp.StatusCode)
	}

	sseConnected.Inc()
	defer sseConnected.Dec()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
	}
	return scanner.Err()
}

func (r *runner) postJSON(ctx context.Context, token, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.ServerBase+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, snippet)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
