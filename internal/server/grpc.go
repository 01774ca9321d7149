package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/jzilic1991/vermon-edge/internal/trace"
	"github.com/jzilic1991/vermon-edge/pb"
)

// CartGateway is the gRPC protocol adapter over the shared Core: it forwards
// cart calls to the downstream cart service and feeds the same verification
// pipeline as the HTTP surface.
type CartGateway struct {
	core   *Core
	client pb.CartServiceClient
}

// NewCartGateway dials the downstream cart service.
func NewCartGateway(core *Core) (*CartGateway, error) {
	addr := core.Cfg.Server.CartServiceAddr
	if addr == "" {
		return nil, fmt.Errorf("CART_SERVICE_ADDR not configured")
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial cart service: %w", err)
	}
	slog.Info("Connected to cart service", "addr", addr)

	return &CartGateway{core: core, client: pb.NewCartServiceClient(conn)}, nil
}

// newCartGatewayWithClient is the injectable constructor used by tests.
func newCartGatewayWithClient(core *Core, client pb.CartServiceClient) *CartGateway {
	return &CartGateway{core: core, client: client}
}

// AddItem forwards the call and synthesizes the AddItem event on success.
func (g *CartGateway) AddItem(ctx context.Context, in *pb.AddItemRequest) (*pb.Empty, error) {
	start := time.Now()
	resp, err := g.client.AddItem(ctx, in)
	if err != nil {
		g.core.Store.RecordFailure("cart")
		return nil, err
	}
	g.observe(start)

	ev := trace.Event{
		Type:      trace.EventAddItem,
		User:      in.UserID,
		Status:    200,
		Op:        "AddItem",
		Timestamp: nowSeconds(),
	}
	if in.Item != nil {
		ev.Item = in.Item.ProductID
	}
	if id, ok := g.core.Sessions.SessionFor(in.UserID); ok {
		ev.Session = id
	}
	g.core.ProcessEvent(ev)
	g.emitCartOp(in.UserID, "AddItem")

	return resp, nil
}

// GetCart forwards the call, stamps the response and synthesizes the GetCart
// event carrying the observed cart contents.
func (g *CartGateway) GetCart(ctx context.Context, in *pb.GetCartRequest) (*pb.Cart, error) {
	start := time.Now()
	resp, err := g.client.GetCart(ctx, in)
	if err != nil {
		g.core.Store.RecordFailure("cart")
		return nil, err
	}
	g.observe(start)
	resp.RetrievedAt = timestamppb.Now()

	items := make([]string, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, it.ProductID)
	}

	ev := trace.Event{
		Type:      trace.EventGetCart,
		User:      in.UserID,
		Status:    200,
		Op:        "GetCart",
		Cart:      items,
		Timestamp: nowSeconds(),
	}
	if id, ok := g.core.Sessions.SessionFor(in.UserID); ok {
		ev.Session = id
	}
	g.core.ProcessEvent(ev)
	g.emitCartOp(in.UserID, "GetCart")

	return resp, nil
}

// EmptyCart forwards the call and opens the empty-cart pairing window.
func (g *CartGateway) EmptyCart(ctx context.Context, in *pb.EmptyCartRequest) (*pb.Empty, error) {
	start := time.Now()
	resp, err := g.client.EmptyCart(ctx, in)
	if err != nil {
		g.core.Store.RecordFailure("cart")
		return nil, err
	}
	g.observe(start)

	g.core.ProcessEvent(trace.Event{
		Type:      trace.EventEmptyCart,
		User:      in.UserID,
		Status:    200,
		Op:        "EmptyCart",
		Timestamp: nowSeconds(),
	})
	g.emitCartOp(in.UserID, "EmptyCart")

	return resp, nil
}

func (g *CartGateway) observe(start time.Time) {
	ms := float64(time.Since(start)) / float64(time.Millisecond)
	g.core.Store.RecordLatency("cart", ms)
	g.core.ObserveResponseTime(ms)
}

func (g *CartGateway) emitCartOp(user, op string) {
	g.core.ProcessEvent(trace.Event{
		Type:      trace.EventCartOp,
		User:      user,
		Op:        op,
		Status:    200,
		Timestamp: nowSeconds(),
	})
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// ServeGRPC binds the cart gateway on the configured port and serves until
// the context is cancelled.
func ServeGRPC(ctx context.Context, core *Core) error {
	gateway, err := NewCartGateway(core)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", ":"+core.Cfg.Server.Port)
	if err != nil {
		return fmt.Errorf("listen on :%s: %w", core.Cfg.Server.Port, err)
	}

	grpcServer := grpc.NewServer()
	pb.RegisterCartServiceServer(grpcServer, gateway)

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	slog.Info("Cart gateway (gRPC) listening", "port", core.Cfg.Server.Port)
	return grpcServer.Serve(lis)
}
