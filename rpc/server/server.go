package server

import (
	"context"
	"fmt"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ValentinKolb/dMux/lib/crypto"
	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/serializer"
	"github.com/ValentinKolb/dMux/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("server")

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//		server.NewMockServerAdapter(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IServerTransport,
	serializer serializer.IRPCSerializer,
	adapter IRPCServerAdapter,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		adapter:    adapter,
	}
}

// RPCServer answers enveloped frames of a transport with its adapter
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IServerTransport
	serializer serializer.IRPCSerializer
	adapter    IRPCServerAdapter
	crypto     *crypto.Pool

	requests atomic.Uint64
	failures atomic.Uint64
}

// Stats is a snapshot of the server counters
type Stats struct {
	Requests uint64
	// Failures counts frames that could not be opened or decoded
	Failures uint64
}

// handle answers one frame. The request id of the envelope is echoed, the
// body is opened and sealed with the crypto pool if a key is configured.
func (s *RPCServer) handle(frame []byte) []byte {
	s.requests.Add(1)

	id, body, err := common.OpenEnvelope(frame)
	if err != nil {
		s.failures.Add(1)
		Logger.Warningf("dropping frame: %v", err)
		return nil
	}

	if s.crypto != nil {
		if body, err = s.crypto.Open(context.Background(), body); err != nil {
			s.failures.Add(1)
			Logger.Warningf("failed to open request %d: %v", id, err)
			return nil
		}
	}

	var respMsg *common.Message
	var msg common.Message
	if err := s.serializer.Deserialize(body, &msg); err != nil {
		s.failures.Add(1)
		respMsg = common.NewErrorResponse("", fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		if s.config.Latency > 0 && msg.MsgType != common.MsgTPing {
			time.Sleep(s.config.Latency)
		}
		respMsg = s.adapter.Handle(&msg)
	}
	if respMsg == nil {
		return nil
	}

	resp, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		if resp, err = s.serializer.Serialize(*common.NewErrorResponse(msg.Method, "failed to serialize response")); err != nil {
			return nil
		}
	}

	if s.crypto != nil {
		if resp, err = s.crypto.Seal(context.Background(), resp); err != nil {
			Logger.Errorf("failed to seal response %d: %v", id, err)
			return nil
		}
	}
	return common.SealEnvelope(id, resp)
}

func (s *RPCServer) init() error {
	if s.config.LogLevel != "" {
		if err := common.InitLoggers(s.config.LogLevel); err != nil {
			return err
		}
	}

	if s.config.CryptoKey != "" {
		pool, err := crypto.NewPool(common.CryptoConfig{
			Enabled: true,
			Backend: "aes-ctr",
			Workers: max(1, s.config.WorkersPerConn),
			Key:     s.config.CryptoKey,
		})
		if err != nil {
			return fmt.Errorf("failed to create crypto pool: %w", err)
		}
		s.crypto = pool
	}

	s.transport.RegisterHandler(s.handle)
	return nil
}

// Serve initializes the server and starts the transport layer in the background
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	if err := s.transport.Listen(s.config); err != nil {
		return err
	}
	Logger.Infof("Serving on %s (%s)", s.transport.Addr(), s.config.Transport.Type)
	return nil
}

// Addr returns the address the transport is bound to
func (s *RPCServer) Addr() string {
	return s.transport.Addr()
}

// Stats returns a snapshot of the server counters
func (s *RPCServer) Stats() Stats {
	return Stats{Requests: s.requests.Load(), Failures: s.failures.Load()}
}

// Close stops the transport
func (s *RPCServer) Close() error {
	Logger.Infof("Stopping server (%d frames, %d failures)", s.requests.Load(), s.failures.Load())
	return s.transport.Close()
}
