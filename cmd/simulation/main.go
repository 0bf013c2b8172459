package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math"
	mrand "math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/intent-settlement/internal/auth"
	"github.com/ksred/intent-settlement/internal/chainsim"
	"github.com/ksred/intent-settlement/internal/config"
	"github.com/ksred/intent-settlement/internal/database"
	"github.com/ksred/intent-settlement/internal/metrics"
	"github.com/ksred/intent-settlement/internal/orchestrator"
	"github.com/ksred/intent-settlement/internal/store"
	"github.com/ksred/intent-settlement/internal/tracker"
	"github.com/ksred/intent-settlement/internal/types"
	"github.com/ksred/intent-settlement/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minOrders     = 15
	maxOrders     = 100
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
	pollInterval  = 200 * time.Millisecond
	pollTimeout   = 30 * time.Second
)

var (
	originChains      = []uint64{1, 10, 8453}
	destinationChains = []uint64{42161, 137, 56}
	tokens            = []string{
		"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		"0xdac17f958d2ee523a2206206994597c13d831ec7",
		"0x6b175474e89094c44da98b954eedeac495271d0f",
	}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the settlement API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":         {name: "Authentication"},
			"admit":        {name: "Admit Order"},
			"get":          {name: "Get Order"},
			"competitions": {name: "Get Competitions"},
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// admitOrder submits a signed order to the API
// Returns the order ID on success
func (sc *simulationClient) admitOrder(req *types.AdmitOrderRequest) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["admit"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/orders", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}

	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := sc.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("admit order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool                     `json:"success"`
		Data    types.AdmitOrderResponse `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	if result.Data.OrderID == "" {
		return "", fmt.Errorf("no order ID in response: %s", string(respBody))
	}

	return result.Data.OrderID, nil
}

// getOrder retrieves the current stored record of an order
func (sc *simulationClient) getOrder(orderID string) (*types.StoredOrderRecord, error) {
	start := time.Now()
	defer func() {
		sc.stats["get"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/orders/%s", sc.baseURL, orderID),
		nil,
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool                    `json:"success"`
		Data    types.StoredOrderRecord `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// getCompetitions retrieves the full competition snapshot
func (sc *simulationClient) getCompetitions() (map[string]*tracker.Competition, error) {
	start := time.Now()
	defer func() {
		sc.stats["competitions"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/competitions", sc.baseURL),
		nil,
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get competitions failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool                            `json:"success"`
		Data    map[string]*tracker.Competition `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return result.Data, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// randomOrderRequest builds a random cross-chain intent signed with dummy bytes
func randomOrderRequest(workerID int) *types.AdmitOrderRequest {
	now := time.Now()
	inputAmount := types.NewU256(uint64(mrand.Intn(1_000_000) + 1))
	outputAmount := types.NewU256(uint64(mrand.Intn(1_000_000) + 1))

	order := &types.Order{
		UserAddress:        fmt.Sprintf("0x%040x", mrand.Int63()),
		OriginChainID:      originChains[mrand.Intn(len(originChains))],
		DestinationChainID: destinationChains[mrand.Intn(len(destinationChains))],
		Expiry:             now.Add(time.Hour),
		FillDeadline:       now.Add(10 * time.Minute),
		OracleAddress:      fmt.Sprintf("0x%040x", mrand.Int63()),
		Inputs: []types.TokenInput{
			{Token: tokens[mrand.Intn(len(tokens))], Amount: inputAmount},
		},
		Outputs: []types.MandatedOutput{
			{
				Settler:   fmt.Sprintf("0x%040x", mrand.Int63()),
				Token:     tokens[mrand.Intn(len(tokens))],
				Amount:    outputAmount,
				Recipient: fmt.Sprintf("0x%040x", mrand.Int63()),
			},
		},
	}

	signature := make([]byte, 65)
	if _, err := rand.Read(signature); err != nil {
		panic(err)
	}

	return &types.AdmitOrderRequest{
		Order:     order,
		Signature: signature,
		Metadata: &types.OrderMetadata{
			Source:   "simulation",
			ClientID: fmt.Sprintf("CLIENT_%d", workerID),
		},
	}
}

// main runs the settlement simulation
// It starts a local API server, admits a batch of random intents from
// concurrent workers, then polls each order to a terminal status
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	targetOrders := mrand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	ordersChan := make(chan string, targetOrders)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			admitOrdersHTTP(workerID, targetOrders/numWorkers, simClient, ordersChan)
		}(i)
	}

	wg.Wait()
	close(ordersChan)

	var orderIDs []string
	for orderID := range ordersChan {
		orderIDs = append(orderIDs, orderID)
	}

	log.Info().Int("orders_admitted", len(orderIDs)).Msg("All orders admitted")

	stats := struct {
		TotalOrders int
		Finalized   int
		Failed      int
		Expired     int
		TimedOut    int
		StartTime   time.Time
		Statuses    map[string]int
	}{
		StartTime: time.Now(),
		Statuses:  make(map[string]int),
	}
	stats.TotalOrders = len(orderIDs)

	// Poll each order to a terminal status
	for _, orderID := range orderIDs {
		record, err := pollToTerminal(simClient, orderID)
		if err != nil {
			log.Error().Err(err).Str("order_id", orderID).Msg("Order did not reach a terminal status")
			stats.TimedOut++
			continue
		}

		stats.Statuses[string(record.Status)]++
		switch record.Status {
		case types.StatusFinalized:
			stats.Finalized++
		case types.StatusFailed:
			stats.Failed++
		case types.StatusExpired:
			stats.Expired++
		}

		log.Info().
			Str("order_id", orderID).
			Str("status", string(record.Status)).
			Msg("Order settled")
	}

	// Inspect the adjudicated competitions
	competitions, err := simClient.getCompetitions()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch competitions")
	}

	won := 0
	for _, comp := range competitions {
		if comp.Winner != "" {
			won++
		}
	}

	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SETTLEMENT SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Order Statistics
----------------
Total Orders:   %d
Finalized:      %d
Failed:         %d
Expired:        %d
Timed Out:      %d
Competitions:   %d (won: %d)
Duration:       %v

Status Distribution
-------------------
`, stats.TotalOrders, stats.Finalized, stats.Failed, stats.Expired, stats.TimedOut,
		len(competitions), won, duration.Round(time.Millisecond))

	maxCount := 0
	for _, count := range stats.Statuses {
		if count > maxCount {
			maxCount = count
		}
	}
	for status, count := range stats.Statuses {
		barLength := 0
		if maxCount > 0 {
			barLength = int(float64(count) / float64(maxCount) * 20)
		}
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-10s: %s (%d)\n", status, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	successRate := 0.0
	if stats.TotalOrders > 0 {
		successRate = float64(stats.Finalized) / float64(stats.TotalOrders) * 100
	}
	log.Info().
		Float64("success_rate", successRate).
		Int("total_orders", stats.TotalOrders).
		Int("finalized", stats.Finalized).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// pollToTerminal polls the order status until it reaches a terminal state or
// the poll timeout elapses
func pollToTerminal(simClient *simulationClient, orderID string) (*types.StoredOrderRecord, error) {
	deadline := time.Now().Add(pollTimeout)
	for time.Now().Before(deadline) {
		record, err := simClient.getOrder(orderID)
		if err != nil {
			return nil, err
		}
		if record.Status.Terminal() {
			return record, nil
		}
		time.Sleep(pollInterval)
	}
	return nil, fmt.Errorf("order %s still pending after %v", orderID, pollTimeout)
}

// admitOrdersHTTP generates and submits random orders to the API
// Runs as a worker goroutine, sending admitted order IDs to ordersChan
func admitOrdersHTTP(workerID, numOrders int, simClient *simulationClient, ordersChan chan<- string) {
	for i := 0; i < numOrders; i++ {
		req := randomOrderRequest(workerID)

		orderID, err := simClient.admitOrder(req)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Msg("Failed to admit order")
			continue
		}

		ordersChan <- orderID
		log.Info().
			Int("worker_id", workerID).
			Str("order_id", orderID).
			Uint64("origin_chain", req.Order.OriginChainID).
			Uint64("destination_chain", req.Order.DestinationChainID).
			Msg("Order admitted")

		// Random sleep between orders
		time.Sleep(time.Duration(mrand.Intn(200)) * time.Millisecond)
	}
}

// startServer initializes and starts the settlement API server with an
// ephemeral in-memory store and a short competition window
func startServer() error {
	cfg := config.Default()
	cfg.Store.DatabasePath = "" // in-memory, nothing survives the run
	cfg.Tracker.CompetitionWindowSeconds = 10

	db, err := database.NewDatabase(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	orderStore := store.NewStore(db, cfg.Store.MaxHeldOrders)

	chain := chainsim.NewSimulatedChain()
	fillExecutor := chainsim.NewFillExecutor(chain)
	finalizeExecutor := chainsim.NewFinalizeExecutor(orderStore)

	authService := auth.NewService(cfg.Server.JWTSecret)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	metricsRegistry := metrics.NewRegistry()

	orchestratorService := orchestrator.NewService(orderStore, fillExecutor, finalizeExecutor)
	orchestratorService.SetOutcomeObserver(metricsRegistry)

	fillTracker := tracker.New(chain, chain, cfg.Tracker.CompetitionWindow(), cfg.Tracker.MonitorFailures)
	fillTracker.RegisterCompetitionHandler("orchestrator", orchestratorService.ObserveCompetition)
	if err := fillTracker.StartListening(); err != nil {
		return err
	}

	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	orchestratorHandlers := orchestrator.NewGinHandlers(orchestratorService)
	trackerHandlers := tracker.NewGinHandlers(fillTracker)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/token", authHandlers.GenerateTokenHandler())

		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(cfg.Server.JWTSecret))
		{
			orders.POST("", orchestratorHandlers.AdmitOrderHandler())
			orders.GET("/:order_id", orchestratorHandlers.GetOrderStatusHandler())
			orders.GET("/:order_id/filled", trackerHandlers.IsOrderFilledHandler())
		}

		competitions := v1.Group("/competitions")
		competitions.Use(middleware.JWTAuth(cfg.Server.JWTSecret))
		{
			competitions.GET("", trackerHandlers.GetAllCompetitionsHandler())
			competitions.GET("/:order_id", trackerHandlers.GetCompetitionHandler())
		}
	}

	return router.Run(":" + cfg.Server.Port)
}
