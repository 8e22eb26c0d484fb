package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/waitlist-rebooking/internal/api"
	"github.com/hackgods/waitlist-rebooking/internal/config"
	"github.com/hackgods/waitlist-rebooking/internal/db"
)

// SimConfig drives the accept race. Every round opens a slot offer through the
// API and then answers all of its invitations at the same instant.
type SimConfig struct {
	APIBaseURL  string
	Rounds      int
	Duplicates  int
	SlotOfferID uuid.UUID
	PostgresDSN string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Process OperationMetrics
	Accept  OperationMetrics
}

// RoundResult is the outcome of racing every token of one slot offer
type RoundResult struct {
	SlotOfferID uuid.UUID
	Tokens      int
	Winners     int
	Statuses    map[int]int
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	metrics Metrics
	results []RoundResult
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if cfg.SlotOfferID != uuid.Nil {
		// race an existing offer whose tokens only live in the database
		pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer pgPool.Close()

		tokens, err := loadPendingTokens(ctx, pgPool, cfg.SlotOfferID)
		if err != nil {
			log.Fatalf("load pending tokens: %v", err)
		}
		log.Printf("loaded %d pending tokens for slot offer %s", len(tokens), cfg.SlotOfferID)
		sim.results = append(sim.results, sim.race(ctx, cfg.SlotOfferID, tokens))
	} else {
		sim.Run(ctx)
	}

	if violations := sim.PrintReport(); violations > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:"+baseCfg.HTTPPort),
		Rounds:      getInt("SIM_ROUNDS", 5),
		Duplicates:  getInt("SIM_DUPLICATES", 2),
		PostgresDSN: baseCfg.PostgresDSN,
	}
	if v := os.Getenv("SIM_SLOT_OFFER_ID"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			log.Fatalf("SIM_SLOT_OFFER_ID: %v", err)
		}
		cfg.SlotOfferID = id
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.SlotOfferID != uuid.Nil && cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required with SIM_SLOT_OFFER_ID")
	}
	if cfg.Rounds <= 0 {
		return fmt.Errorf("SIM_ROUNDS must be > 0")
	}
	if cfg.Duplicates <= 0 {
		return fmt.Errorf("SIM_DUPLICATES must be > 0")
	}
	return nil
}

func loadPendingTokens(ctx context.Context, pool *pgxpool.Pool, slotOfferID uuid.UUID) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT token FROM invitations
		WHERE slot_offer_id = $1 AND status = 'pending'
	`, slotOfferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no pending invitations for %s", slotOfferID)
	}
	return tokens, nil
}

func (s *Simulator) Run(ctx context.Context) {
	log.Printf("starting %d rounds, %d accepts per token", s.config.Rounds, s.config.Duplicates)

	for i := 0; i < s.config.Rounds; i++ {
		if ctx.Err() != nil {
			return
		}
		resp, err := s.openSlot(ctx, i)
		if err != nil {
			log.Printf("round %d: open slot: %v", i, err)
			continue
		}
		tokens := make([]string, 0, len(resp.Invitations))
		for _, inv := range resp.Invitations {
			tokens = append(tokens, inv.Token)
		}
		if len(tokens) == 0 {
			log.Printf("round %d: slot offer %s produced no invitations (status %s)", i, resp.SlotOfferID, resp.Status)
			continue
		}
		s.results = append(s.results, s.race(ctx, resp.SlotOfferID, tokens))
	}
	log.Println("simulation complete")
}

func (s *Simulator) openSlot(ctx context.Context, round int) (*api.ProcessSlotResponse, error) {
	startsAt := time.Now().Add(48*time.Hour + time.Duration(round)*time.Hour).Truncate(time.Minute)
	body, _ := json.Marshal(api.ProcessSlotRequest{
		AppointmentID:   uuid.NewString(),
		SlotDatetime:    &startsAt,
		DurationMinutes: 30,
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/slot-offers/process", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Process.Record(latency, false, false)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.metrics.Process.Record(latency, false, resp.StatusCode == http.StatusConflict)
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	s.metrics.Process.Record(latency, true, false)

	var out api.ProcessSlotResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// race releases every accept at once so the claims contend on the same row
func (s *Simulator) race(ctx context.Context, slotOfferID uuid.UUID, tokens []string) RoundResult {
	result := RoundResult{SlotOfferID: slotOfferID, Tokens: len(tokens), Statuses: map[int]int{}}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		gate = make(chan struct{})
	)
	for _, token := range tokens {
		for d := 0; d < s.config.Duplicates; d++ {
			wg.Add(1)
			go func(token string) {
				defer wg.Done()
				<-gate
				status := s.accept(ctx, token)

				mu.Lock()
				result.Statuses[status]++
				if status == http.StatusOK {
					result.Winners++
				}
				mu.Unlock()
			}(token)
		}
	}
	close(gate)
	wg.Wait()

	log.Printf("slot offer %s: %d tokens, %d winners, statuses %v", slotOfferID, len(tokens), result.Winners, result.Statuses)
	return result
}

func (s *Simulator) accept(ctx context.Context, token string) int {
	body, _ := json.Marshal(api.RespondRequest{Token: token, Action: "accept"})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/invitations/respond", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Accept.Record(latency, false, false)
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// 409 lost the race or answered twice, 410 the offer closed underneath it
	conflict := resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusGone
	s.metrics.Accept.Record(latency, resp.StatusCode == http.StatusOK, conflict)
	return resp.StatusCode
}

// PrintReport prints the run and returns how many rounds did not end with
// exactly one winner
func (s *Simulator) PrintReport() int {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("ACCEPT RACE REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Rounds: %d\n", len(s.results))
	fmt.Printf("Accepts per token: %d\n", s.config.Duplicates)
	fmt.Println()

	printOperationReport("Process slot", &s.metrics.Process)
	printOperationReport("Accept", &s.metrics.Accept)

	violations := 0
	for _, r := range s.results {
		if r.Winners != 1 {
			violations++
			fmt.Printf("VIOLATION: slot offer %s had %d winners across %d tokens\n", r.SlotOfferID, r.Winners, r.Tokens)
		}
	}
	if violations == 0 {
		fmt.Println("every slot offer had exactly one winner")
	}
	return violations
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func percentileIndex(n, pct int) int {
	return min(n*pct/100, n-1)
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
