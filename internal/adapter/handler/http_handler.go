package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/roach88/orderledger/internal/core/domain"
	"github.com/roach88/orderledger/internal/core/service"
	"github.com/roach88/orderledger/internal/event"
	"github.com/roach88/orderledger/internal/metrics"
)

// Server exposes the workflow to the two external collaborators: order
// intake for the messaging agent, mutations and the event stream for the
// management console.
type Server struct {
	echo     *echo.Echo
	orders   *service.OrderService
	recovery *service.RecoveryService
	tracker  *service.PendingTracker
	dist     *event.Distributor
	log      *zap.Logger
}

func NewServer(orders *service.OrderService, recovery *service.RecoveryService, tracker *service.PendingTracker, dist *event.Distributor, m *metrics.Metrics, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:     e,
		orders:   orders,
		recovery: recovery,
		tracker:  tracker,
		dist:     dist,
		log:      log,
	}

	e.GET("/health", s.handleHealth)
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/api/v1")
	v1.POST("/orders", s.handleCreateOrder)
	v1.GET("/orders", s.handleListOrders)
	v1.POST("/orders/:id/action", s.handleOrderAction)
	v1.POST("/recovery", s.handleRecovery)
	v1.GET("/events", s.handleEvents)
	v1.GET("/events/resync", s.handleResync)
	v1.GET("/snapshot", s.handleSnapshot)
	v1.GET("/groups/stats", s.handleGroupStats)
	v1.POST("/groups/:id/clear", s.handleClearGroup)

	return s
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }

type createOrderRequest struct {
	GroupID          string `json:"group_id"`
	OriginatorID     string `json:"originator_id"`
	Quantity         int    `json:"quantity"`
	TargetAccountID  string `json:"target_account_id"`
	SourceMessageRef string `json:"source_message_ref"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.dist.SubscriberCount(),
	})
}

// handleCreateOrder is the agent's notifyIncomingOrder. The pending tracker
// remembers the request before the ledger write so a silently dropped write
// stays recoverable; confirmation forgets it again.
func (s *Server) handleCreateOrder(c echo.Context) error {
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.GroupID == "" || req.OriginatorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "group_id and originator_id are required")
	}

	if s.tracker != nil {
		s.tracker.Track(service.PendingCandidate{
			GroupID:          req.GroupID,
			OriginatorID:     req.OriginatorID,
			Quantity:         req.Quantity,
			TargetAccountID:  req.TargetAccountID,
			SourceMessageRef: req.SourceMessageRef,
		})
	}

	order, err := s.orders.CreateOrder(c.Request().Context(), service.CreateOrderInput{
		GroupID:          req.GroupID,
		OriginatorID:     req.OriginatorID,
		Quantity:         req.Quantity,
		TargetAccountID:  req.TargetAccountID,
		SourceMessageRef: req.SourceMessageRef,
	})
	if err != nil {
		return s.mapError(err)
	}

	if s.tracker != nil {
		s.tracker.Forget(req.GroupID, req.OriginatorID, req.SourceMessageRef)
	}
	return c.JSON(http.StatusCreated, order)
}

func (s *Server) handleListOrders(c echo.Context) error {
	var bucket domain.Bucket
	if b := c.QueryParam("bucket"); b != "" {
		parsed, err := domain.ParseBucket(b)
		if err != nil {
			return s.mapError(err)
		}
		bucket = parsed
	}

	orders, err := s.orders.ListOrders(c.Request().Context(), c.QueryParam("group_id"), bucket)
	if err != nil {
		return s.mapError(err)
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	return c.JSON(http.StatusOK, orders)
}

type orderActionRequest struct {
	GroupID string `json:"group_id"`
	Action  string `json:"action"`
	Actor   string `json:"actor"`
}

func (s *Server) handleOrderAction(c echo.Context) error {
	var req orderActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.GroupID == "" || req.Actor == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "group_id and actor are required")
	}

	ctx := c.Request().Context()
	orderID := c.Param("id")

	var (
		order *domain.Order
		err   error
	)
	switch req.Action {
	case "process":
		order, err = s.orders.BeginProcessing(ctx, req.GroupID, orderID, req.Actor)
	case "approve":
		order, err = s.orders.Approve(ctx, req.GroupID, orderID, req.Actor)
	case "delete":
		order, err = s.orders.SoftDelete(ctx, req.GroupID, orderID, req.Actor)
	case "restore":
		order, err = s.orders.Restore(ctx, req.GroupID, orderID, req.Actor)
	case "cancel":
		order, err = s.orders.CancelProcessing(ctx, req.GroupID, orderID, req.Actor)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
	}
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, order)
}

type recoveryRequest struct {
	GroupID      string `json:"group_id"`
	OriginatorID string `json:"originator_id"`
	Hint         string `json:"hint"`
	Actor        string `json:"actor"`
}

func (s *Server) handleRecovery(c echo.Context) error {
	var req recoveryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.GroupID == "" || req.OriginatorID == "" || req.Actor == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "group_id, originator_id and actor are required")
	}

	order, err := s.recovery.Recover(c.Request().Context(), req.GroupID, req.OriginatorID, req.Hint, req.Actor)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, order)
}

// handleEvents streams live events over SSE. Per-subscriber ordering
// matches commit order; a closed stream means the buffer overflowed and
// the client must reconnect and resync.
func (s *Server) handleEvents(c echo.Context) error {
	sub := s.dist.Subscribe()
	defer s.dist.Unsubscribe(sub.ID)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				// Dropped for falling behind; the client reconnects and
				// resyncs from its last seen marker.
				return nil
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.log.Error("failed to encode event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Type, data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func (s *Server) handleResync(c echo.Context) error {
	since, err := strconv.ParseUint(c.QueryParam("since"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "since must be an unsigned integer")
	}

	events, ok := s.dist.Resync(since)
	if !ok {
		// Marker predates the retained window; incremental catch-up would
		// silently skip events.
		return c.JSON(http.StatusGone, map[string]string{
			"error":    "resync window exceeded",
			"snapshot": "/api/v1/snapshot",
		})
	}
	if events == nil {
		events = []event.Event{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"events": events,
		"seq":    s.dist.CurrentSeq(),
	})
}

func (s *Server) handleSnapshot(c echo.Context) error {
	// Marker first: replaying events already folded into the snapshot is
	// harmless, missing ones is not.
	seq := s.dist.CurrentSeq()
	ledger, err := s.orders.Snapshot(c.Request().Context())
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"groups": ledger.Groups,
		"seq":    seq,
	})
}

func (s *Server) handleGroupStats(c echo.Context) error {
	var bucket domain.Bucket
	if p := c.QueryParam("period"); p != "" {
		parsed, err := domain.ParseBucket(p)
		if err != nil {
			return s.mapError(err)
		}
		bucket = parsed
	}

	stats, err := s.orders.GroupStats(c.Request().Context(), bucket)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleClearGroup(c echo.Context) error {
	actor := c.QueryParam("actor")
	if actor == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "actor is required")
	}
	removed, err := s.orders.ClearGroup(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) mapError(err error) error {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.Is(err, domain.ErrDuplicateOrder):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrGroupNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrAmbiguousRecovery):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		s.log.Error("internal error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
