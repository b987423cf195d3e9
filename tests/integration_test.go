package tests

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/orderledger/internal/adapter/handler"
	"github.com/roach88/orderledger/internal/adapter/storage"
	"github.com/roach88/orderledger/internal/core/domain"
	"github.com/roach88/orderledger/internal/core/service"
	"github.com/roach88/orderledger/internal/event"
	"github.com/roach88/orderledger/internal/metrics"
)

type testEnv struct {
	server     *httptest.Server
	orders     *service.OrderService
	dist       *event.Distributor
	ledgerPath string
	cleanup    func()
}

func setupTestEnv(t *testing.T, processingTimeout time.Duration) *testEnv {
	t.Helper()

	ledgerPath := filepath.Join(t.TempDir(), "ledger.json")
	store := storage.NewFileAdapter(ledgerPath)
	m := metrics.New()
	log := zap.NewNop()
	dist := event.NewDistributor(0, 0, m, log)

	orders := service.NewOrderService(store, storage.NewMemoryGuard(), dist, m, log, service.Options{
		ProcessingTimeout: processingTimeout,
		DefaultRate:       decimal.NewFromInt(3),
		DefaultDueLimit:   decimal.NewFromInt(1000),
	})
	tracker := service.NewPendingTracker(5 * time.Minute)
	recovery := service.NewRecoveryService(orders, tracker, nil, time.Second, log)

	srv := handler.NewServer(orders, recovery, tracker, dist, m, log)
	ts := httptest.NewServer(srv.Handler())

	return &testEnv{
		server:     ts,
		orders:     orders,
		dist:       dist,
		ledgerPath: ledgerPath,
		cleanup:    ts.Close,
	}
}

func (env *testEnv) postJSON(t *testing.T, path string, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(env.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (env *testEnv) createOrder(t *testing.T, originator string, qty int, ref string) domain.Order {
	t.Helper()
	resp, body := env.postJSON(t, "/api/v1/orders", fmt.Sprintf(
		`{"group_id":"g1","originator_id":"%s","quantity":%d,"target_account_id":"123456789","source_message_ref":"%s"}`,
		originator, qty, ref))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var o domain.Order
	require.NoError(t, json.Unmarshal(body, &o))
	return o
}

// collectSSE reads events from the live stream until the context ends.
func collectSSE(ctx context.Context, t *testing.T, url string, out chan<- event.Event) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e event.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			continue
		}
		select {
		case out <- e:
		case <-ctx.Done():
			return
		}
	}
}

func TestIntegration_FullOrderFlow(t *testing.T) {
	env := setupTestEnv(t, 300*time.Millisecond)
	defer env.cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events := make(chan event.Event, 64)
	go collectSSE(ctx, t, env.server.URL+"/api/v1/events", events)
	// Give the stream a moment to attach before mutations start.
	require.Eventually(t, func() bool {
		return env.dist.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	o := env.createOrder(t, "user-1", 500, "msg-1")

	resp, body := env.postJSON(t, "/api/v1/orders/"+o.ID+"/action",
		`{"group_id":"g1","action":"process","actor":"admin"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	// Silence past the processing window auto-approves.
	deadline := time.After(5 * time.Second)
	approved := false
	for !approved {
		time.Sleep(100 * time.Millisecond)
		expired, err := env.orders.SweepExpired(ctx)
		require.NoError(t, err)
		if len(expired) == 1 {
			assert.Equal(t, domain.OrderStatusApproved, expired[0].Status)
			approved = true
		}
		select {
		case <-deadline:
			t.Fatal("order was never auto-approved")
		default:
		}
	}

	// The stream saw the whole lifecycle in commit order, approved exactly
	// once.
	var seen []event.Type
	collectDeadline := time.After(3 * time.Second)
	for len(seen) < 3 {
		select {
		case e := <-events:
			if e.OrderID == o.ID {
				seen = append(seen, e.Type)
			}
		case <-collectDeadline:
			t.Fatalf("stream incomplete, saw %v", seen)
		}
	}
	assert.Equal(t, []event.Type{event.TypeCreated, event.TypeProcessing, event.TypeApproved}, seen)

	// The approval survives a reload from disk.
	reloaded := storage.NewFileAdapter(env.ledgerPath)
	ledger, err := reloaded.Load(ctx)
	require.NoError(t, err)
	persisted, err := ledger.FindOrder("g1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusApproved, persisted.Status)
	require.NotNil(t, persisted.ProcessingStartedAt)
}

func TestIntegration_ConcurrentIntake(t *testing.T) {
	env := setupTestEnv(t, time.Minute)
	defer env.cleanup()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Post(env.server.URL+"/api/v1/orders", "application/json",
				strings.NewReader(fmt.Sprintf(
					`{"group_id":"g1","originator_id":"user-%d","quantity":%d,"target_account_id":"acc","source_message_ref":"msg-%d"}`,
					i, (i+1)*10, i)))
			if err != nil {
				errs <- err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				errs <- fmt.Errorf("order %d: status %d", i, resp.StatusCode)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	all, err := env.orders.ListOrders(context.Background(), "g1", "")
	require.NoError(t, err)
	assert.Len(t, all, n)

	ids := make(map[string]bool, n)
	for _, o := range all {
		assert.False(t, ids[o.ID], "duplicate id %s", o.ID)
		ids[o.ID] = true
	}
}

func TestIntegration_RecoveryAfterLostWrite(t *testing.T) {
	env := setupTestEnv(t, time.Minute)
	defer env.cleanup()

	env.createOrder(t, "user-1", 500, "msg-1")
	env.createOrder(t, "user-1", 1000, "msg-2")

	// Without a usable hint the pair stays untouched.
	resp, _ := env.postJSON(t, "/api/v1/recovery",
		`{"group_id":"g1","originator_id":"user-1","hint":"done","actor":"admin"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := env.postJSON(t, "/api/v1/recovery",
		`{"group_id":"g1","originator_id":"user-1","hint":"1000 delivered","actor":"admin"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var recovered domain.Order
	require.NoError(t, json.Unmarshal(body, &recovered))
	assert.Equal(t, 1000, recovered.Quantity)
	assert.Equal(t, domain.OrderStatusProcessing, recovered.Status)
}
