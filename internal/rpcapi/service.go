package rpcapi

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/net/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/netconfd/controller/internal/datastore"
	"github.com/netconfd/controller/internal/device"
	"github.com/netconfd/controller/internal/notify"
	"github.com/netconfd/controller/internal/reactor"
	"github.com/netconfd/controller/internal/txn"
)

// Server implements the controller RPC surface (spec §6) against a live
// Engine/Registry pair. Every method hops onto loop via loop.Call so
// the gRPC server's own goroutines never touch Handle/Transaction state
// directly -- the one exception SPEC_FULL.md §5 carves out for the
// server surfaces.
type Server struct {
	loop     *reactor.Loop
	registry *device.Registry
	store    datastore.Store
	engine   *txn.Engine
	notifier *notify.Broadcaster
}

func NewServer(loop *reactor.Loop, registry *device.Registry, store datastore.Store, engine *txn.Engine, notifier *notify.Broadcaster) *Server {
	return &Server{loop: loop, registry: registry, store: store, engine: engine, notifier: notifier}
}

func (s *Server) TransactionNew(ctx context.Context, req *TransactionNewRequest) (*TransactionIDResponse, error) {
	var id uint64
	s.loop.Call(func() { id = s.engine.TransactionNew(req.Origin) })
	return &TransactionIDResponse{TID: id}, nil
}

func (s *Server) ConfigPull(ctx context.Context, req *ConfigPullRequest) (*TransactionIDResponse, error) {
	var id uint64
	var err error
	s.loop.Call(func() { id, err = s.engine.Pull(req.Origin, req.DevName, req.Merge) })
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &TransactionIDResponse{TID: id}, nil
}

func (s *Server) ControllerCommit(ctx context.Context, req *ControllerCommitRequest) (*TransactionIDResponse, error) {
	if tr, ok := trace.FromContext(ctx); ok {
		tr.LazyPrintf("dev=%s source=%s actions=%s push=%s", req.DevName, req.Source, req.Actions, req.Push)
	}
	var id uint64
	var err error
	s.loop.Call(func() {
		id, err = s.engine.ControllerCommit(req.Origin, req.DevName,
			dsFromWire(req.Source), txn.ServiceActionMode(req.Actions), txn.PushMode(req.Push))
	})
	if err != nil {
		if tr, ok := trace.FromContext(ctx); ok {
			tr.LazyPrintf("failed: %v", err)
			tr.SetError()
		}
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &TransactionIDResponse{TID: id}, nil
}

func (s *Server) DatastoreDiff(ctx context.Context, req *DatastoreDiffRequest) (*DatastoreDiffResponse, error) {
	var resp DatastoreDiffResponse
	var err error
	s.loop.Call(func() {
		var h, ok = s.registry.Lookup(req.DevName)
		if !ok {
			err = status.Errorf(codes.NotFound, "unknown device %s", req.DevName)
			return
		}
		var xpath = req.XPath
		if xpath == "" {
			xpath = h.MountPoint()
		}
		var before, bErr = s.store.Get(ctx, dsFromWire(req.ConfigType1), xpath)
		if bErr != nil {
			err = status.Error(codes.Internal, bErr.Error())
			return
		}
		var after, aErr = s.store.Get(ctx, dsFromWire(req.ConfigType2), xpath)
		if aErr != nil {
			err = status.Error(codes.Internal, aErr.Error())
			return
		}
		var delta, dErr = s.store.Diff(h.SchemaSet(), before, after, xpath)
		if dErr != nil {
			err = status.Error(codes.Internal, dErr.Error())
			return
		}
		for _, t := range delta.Deleted {
			resp.Entries = append(resp.Entries, DiffEntry{XPath: t.XPath, Op: "deleted"})
		}
		for _, t := range delta.Added {
			resp.Entries = append(resp.Entries, DiffEntry{XPath: t.XPath, Op: "added", Data: string(t.Data)})
		}
		for _, t := range delta.ChangedAfter {
			resp.Entries = append(resp.Entries, DiffEntry{XPath: t.XPath, Op: "changed", Data: string(t.Data)})
		}
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConnectionChange implements connection-change{devname, operation}:
// CLOSE administratively tears a handle's transport down without a
// timeout/protocol-error diagnostic; OPEN and RECONNECT both re-initiate
// the connect flow (RECONNECT is the supplemented name spec.md §4.4
// uses for the transaction-engine operation; OPEN is its RPC-surface
// alias for a device that was never connected).
func (s *Server) ConnectionChange(ctx context.Context, req *ConnectionChangeRequest) (*Empty, error) {
	var err error
	s.loop.Call(func() {
		var h, ok = s.registry.Lookup(req.DevName)
		if !ok {
			err = status.Errorf(codes.NotFound, "unknown device %s", req.DevName)
			return
		}
		switch req.Operation {
		case "CLOSE":
			h.CloseAdministrative()
		case "OPEN", "RECONNECT":
			h.Connect()
		default:
			err = status.Errorf(codes.InvalidArgument, "unknown operation %s", req.Operation)
		}
	})
	return &Empty{}, err
}

func (s *Server) GetDeviceSyncConfig(ctx context.Context, req *GetDeviceSyncConfigRequest) (*GetDeviceSyncConfigResponse, error) {
	var resp GetDeviceSyncConfigResponse
	var err error
	s.loop.Call(func() {
		var h, ok = s.registry.Lookup(req.DevName)
		if !ok {
			err = status.Errorf(codes.NotFound, "unknown device %s", req.DevName)
			return
		}
		var tree = h.LastSynced()
		if tree == nil {
			resp.Config = "{}"
			return
		}
		resp.Config = string(tree.Data)
	})
	return &resp, err
}

func (s *Server) TransactionError(ctx context.Context, req *TransactionErrorRequest) (*Empty, error) {
	if tr, ok := trace.FromContext(ctx); ok {
		tr.LazyPrintf("tid=%d reason=%q", req.TID, req.Reason)
	}
	var err error
	s.loop.Call(func() { err = s.engine.Abort(req.TID, req.Reason) })
	if err != nil {
		if tr, ok := trace.FromContext(ctx); ok {
			tr.SetError()
		}
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return &Empty{}, nil
}

func (s *Server) DeviceTemplateApply(ctx context.Context, req *DeviceTemplateApplyRequest) (*TransactionIDResponse, error) {
	var vars, vErr = decodeVariables(req.Variables)
	if vErr != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding variables: %v", vErr)
	}
	var id uint64
	var err error
	s.loop.Call(func() {
		id, err = s.engine.TemplateApply(req.Origin, req.DevName, req.Template, vars)
	})
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &TransactionIDResponse{TID: id}, nil
}

// ShowDevices implements show devices (spec §7 "User-visible behavior").
func (s *Server) ShowDevices(ctx context.Context, _ *Empty) (*ShowDevicesResponse, error) {
	var resp ShowDevicesResponse
	s.loop.Call(func() {
		for _, h := range s.registry.All() {
			resp.Devices = append(resp.Devices, DeviceStatus{
				Name:       h.Name(),
				State:      h.State().String(),
				Diagnostic: h.Diagnostic(),
				Since:      h.StateSince().Format(time.RFC3339),
			})
		}
	})
	return &resp, nil
}

// Subscribe is the server-streaming RPC the notification stream (spec
// §6) is delivered over: every controller-transaction event published
// after the call is forwarded until the client disconnects.
func (s *Server) Subscribe(_ *Empty, stream grpc.ServerStream) error {
	var events, unsubscribe = s.notifier.Subscribe(32)
	defer unsubscribe()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&ev); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// decodeInto is a small helper the hand-assembled ServiceDesc methods
// below use to pull a typed request out of the generic dec callback
// gRPC's handler contract supplies.
func decodeInto(dec func(interface{}) error, req interface{}) error {
	if err := dec(req); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	return nil
}

// ServiceDesc is the hand-assembled gRPC service descriptor realizing
// the controller RPC surface -- there is no protoc-generated stub in
// this dependency pack, so each MethodDesc's Handler is written out
// directly, in the spirit of the teacher's own hand-rolled
// pb.RegisterGRPCDispatcher table.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "clicon.controller.Controller",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TransactionNew", Handler: handleTransactionNew},
		{MethodName: "ConfigPull", Handler: handleConfigPull},
		{MethodName: "ControllerCommit", Handler: handleControllerCommit},
		{MethodName: "DatastoreDiff", Handler: handleDatastoreDiff},
		{MethodName: "ConnectionChange", Handler: handleConnectionChange},
		{MethodName: "GetDeviceSyncConfig", Handler: handleGetDeviceSyncConfig},
		{MethodName: "TransactionError", Handler: handleTransactionError},
		{MethodName: "DeviceTemplateApply", Handler: handleDeviceTemplateApply},
		{MethodName: "ShowDevices", Handler: handleShowDevices},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: handleSubscribe, ServerStreams: true},
	},
	Metadata: "rpcapi.proto",
}

// wrapUnary attaches a request-scoped golang.org/x/net/trace.Trace to ctx
// before running the interceptor chain, mirroring the teacher's own
// addTrace helper: every unary RPC gets one trace.Trace, and business
// methods pull it back out with trace.FromContext rather than threading
// a logger through every call. The trace package's /debug/requests page
// lives on http.DefaultServeMux, which NewDebugRouter does not mount.
func wrapUnary(interceptor grpc.UnaryServerInterceptor, srv interface{}, ctx context.Context, info *grpc.UnaryServerInfo, run func(context.Context, interface{}) (interface{}, error), req interface{}) (interface{}, error) {
	var tr = trace.New("rpcapi.Controller", info.FullMethod)
	defer tr.Finish()
	ctx = trace.NewContext(ctx, tr)

	if interceptor == nil {
		return run(ctx, req)
	}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) { return run(ctx, req) })
}

func handleTransactionNew(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var req TransactionNewRequest
	if err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	var info = &grpc.UnaryServerInfo{Server: srv, FullMethod: "/clicon.controller.Controller/TransactionNew"}
	return wrapUnary(interceptor, srv, ctx, info, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(*Server).TransactionNew(ctx, r.(*TransactionNewRequest))
	}, &req)
}

func handleConfigPull(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var req ConfigPullRequest
	if err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	var info = &grpc.UnaryServerInfo{Server: srv, FullMethod: "/clicon.controller.Controller/ConfigPull"}
	return wrapUnary(interceptor, srv, ctx, info, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(*Server).ConfigPull(ctx, r.(*ConfigPullRequest))
	}, &req)
}

func handleControllerCommit(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var req ControllerCommitRequest
	if err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	var info = &grpc.UnaryServerInfo{Server: srv, FullMethod: "/clicon.controller.Controller/ControllerCommit"}
	return wrapUnary(interceptor, srv, ctx, info, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(*Server).ControllerCommit(ctx, r.(*ControllerCommitRequest))
	}, &req)
}

func handleDatastoreDiff(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var req DatastoreDiffRequest
	if err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	var info = &grpc.UnaryServerInfo{Server: srv, FullMethod: "/clicon.controller.Controller/DatastoreDiff"}
	return wrapUnary(interceptor, srv, ctx, info, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(*Server).DatastoreDiff(ctx, r.(*DatastoreDiffRequest))
	}, &req)
}

func handleConnectionChange(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var req ConnectionChangeRequest
	if err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	var info = &grpc.UnaryServerInfo{Server: srv, FullMethod: "/clicon.controller.Controller/ConnectionChange"}
	return wrapUnary(interceptor, srv, ctx, info, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(*Server).ConnectionChange(ctx, r.(*ConnectionChangeRequest))
	}, &req)
}

func handleGetDeviceSyncConfig(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var req GetDeviceSyncConfigRequest
	if err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	var info = &grpc.UnaryServerInfo{Server: srv, FullMethod: "/clicon.controller.Controller/GetDeviceSyncConfig"}
	return wrapUnary(interceptor, srv, ctx, info, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(*Server).GetDeviceSyncConfig(ctx, r.(*GetDeviceSyncConfigRequest))
	}, &req)
}

func handleTransactionError(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var req TransactionErrorRequest
	if err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	var info = &grpc.UnaryServerInfo{Server: srv, FullMethod: "/clicon.controller.Controller/TransactionError"}
	return wrapUnary(interceptor, srv, ctx, info, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(*Server).TransactionError(ctx, r.(*TransactionErrorRequest))
	}, &req)
}

func handleDeviceTemplateApply(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var req DeviceTemplateApplyRequest
	if err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	var info = &grpc.UnaryServerInfo{Server: srv, FullMethod: "/clicon.controller.Controller/DeviceTemplateApply"}
	return wrapUnary(interceptor, srv, ctx, info, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(*Server).DeviceTemplateApply(ctx, r.(*DeviceTemplateApplyRequest))
	}, &req)
}

func handleShowDevices(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var req Empty
	if err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	var info = &grpc.UnaryServerInfo{Server: srv, FullMethod: "/clicon.controller.Controller/ShowDevices"}
	return wrapUnary(interceptor, srv, ctx, info, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(*Server).ShowDevices(ctx, r.(*Empty))
	}, &req)
}

func handleSubscribe(srv interface{}, stream grpc.ServerStream) error {
	var req Empty
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	return srv.(*Server).Subscribe(&req, stream)
}
