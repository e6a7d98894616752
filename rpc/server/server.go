package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ValentinKolb/wBridge/lib/catalog"
	"github.com/ValentinKolb/wBridge/rpc/common"
	"github.com/ValentinKolb/wBridge/rpc/serializer"
	"github.com/ValentinKolb/wBridge/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("server")

// resubscribeDelay is the wait between two attempts to restore the subscriptions after a connection loss
const resubscribeDelay = time.Second

// job is a request waiting for a worker
type job struct {
	route   string
	replyTo string
	payload []byte
}

// NewRPCServer creates a new catalog responder
// It takes a config, transport, serializer and the catalog to serve as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPClientTransport(),
//		serializer.NewJSONSerializer(),
//		local.NewLocalCatalog(),
//	)
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
	cat catalog.ICatalog,
) *rpcServer {
	if config.QueueGroup == "" {
		config.QueueGroup = common.DefaultQueueGroup
	}
	config.Workers = max(1, config.Workers)

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &rpcServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		adapter:    NewICatalogServerAdapter(serializer),
		catalog:    cat,
		ready:      make(chan struct{}),
	}
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
	adapter    IRPCServerAdapter
	catalog    catalog.ICatalog

	jobs chan job

	subsMu sync.Mutex
	subs   []transport.Subscription

	// closed once all routes are subscribed
	ready     chan struct{}
	readyOnce sync.Once
}

// Serve connects the transport, subscribes to all catalog routes and answers requests
// until ctx is cancelled.
func (s *rpcServer) Serve(ctx context.Context) error {
	if err := s.transport.Connect(s.config.Client); err != nil {
		return fmt.Errorf("failed to connect responder: %w", err)
	}
	defer s.transport.Close()

	// A bounded queue between the connection and the workers. Handlers run on the
	// event loop of the connection, a full queue rejects the request instead of blocking it.
	s.jobs = make(chan job, s.config.Workers*4)

	resubscribe := make(chan struct{}, 1)
	s.transport.SetConnectionLostHandler(func(endpoint string, err error) {
		Logger.Warningf("Lost connection to %s: %v", common.RedactEndpoint(endpoint), err)
		select {
		case resubscribe <- struct{}{}:
		default:
		}
	})

	if err := s.subscribe(); err != nil {
		return err
	}
	// the routes are served once the server processed the SUB commands
	if err := s.transport.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush subscriptions: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		g.Go(func() error {
			s.work(ctx)
			return nil
		})
	}
	s.readyOnce.Do(func() { close(s.ready) })
	Logger.Infof("Serving %d routes in queue group %s with %d workers", len(common.Routes()), s.config.QueueGroup, s.config.Workers)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-resubscribe:
				for s.subscribe() != nil {
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(resubscribeDelay):
					}
				}
				Logger.Infof("Restored subscriptions after connection loss")
			}
		}
	})

	if s.config.MetricsEndpoint != "" {
		s.serveMetrics(ctx, g)
	}

	<-ctx.Done()
	s.unsubscribe()
	Logger.Infof("Shutting down RPC Server")
	return g.Wait()
}

// Ready is closed once the responder subscribed to all routes
func (s *rpcServer) Ready() <-chan struct{} {
	return s.ready
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// subscribe subscribes to all routes and replaces the previous subscriptions
func (s *rpcServer) subscribe() error {
	subs := make([]transport.Subscription, 0, len(common.Routes()))
	for _, route := range common.Routes() {
		sub, err := s.transport.Subscribe(route, s.config.QueueGroup, s.enqueue, 0)
		if err != nil {
			for _, sub := range subs {
				_ = s.transport.Unsubscribe(sub, 0)
			}
			return fmt.Errorf("failed to subscribe to %s: %w", route, err)
		}
		subs = append(subs, sub)
	}

	s.subsMu.Lock()
	old := s.subs
	s.subs = subs
	s.subsMu.Unlock()

	// subscriptions on a lost connection are already gone, the others are duplicates now
	for _, sub := range old {
		_ = s.transport.Unsubscribe(sub, 0)
	}
	return nil
}

func (s *rpcServer) unsubscribe() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		if err := s.transport.Unsubscribe(sub, 0); err != nil {
			Logger.Debugf("Failed to unsubscribe from %s: %v", sub.Subject, err)
		}
	}
	s.subs = nil
}

// enqueue hands a request to the workers. It runs on the event loop and must not block.
func (s *rpcServer) enqueue(payload []byte, replyTo, subject string) {
	if replyTo == "" {
		Logger.Debugf("Dropping request on %s without reply subject", subject)
		return
	}

	select {
	case s.jobs <- job{route: subject, replyTo: replyTo, payload: payload}:
	default:
		Logger.Warningf("Worker queue full, rejecting request on %s", subject)
		err := common.NewServerError(common.KindServerUnavailable, "responder is at capacity")
		common.IncServed(subject, err)
		s.reply(job{route: subject, replyTo: replyTo}, &common.ErrorReply{Error: err.Error()})
	}
}

func (s *rpcServer) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			resp := s.adapter.Handle(ctx, j.route, j.payload, s.catalog)
			common.IncServed(j.route, common.TranslateServerError(resp.ErrorText()))
			s.reply(j, resp)
		}
	}
}

func (s *rpcServer) reply(j job, resp common.Reply) {
	b, err := s.serializer.Serialize(resp)
	if err != nil {
		Logger.Errorf("Failed to serialize reply on %s: %v", j.route, err)
		b, _ = s.serializer.Serialize(&common.ErrorReply{Error: fmt.Sprintf("failed to serialize response: %s", err)})
	}
	if err := s.transport.Publish(j.replyTo, "", b); err != nil {
		Logger.Warningf("Failed to reply on %s: %v", j.route, err)
	}
}

// serveMetrics exposes the process metrics in prometheus text format until ctx is done
func (s *rpcServer) serveMetrics(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		common.WriteMetrics(w)
	})
	srv := &http.Server{Addr: s.config.MetricsEndpoint, Handler: mux}

	g.Go(func() error {
		Logger.Infof("Serving metrics on %s/metrics", s.config.MetricsEndpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
