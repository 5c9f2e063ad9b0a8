// Package rpcserver implements relacsd's control plane: a JSON-RPC
// server exposing DeviceRegistry/RunControl operations to clients.
// Per-connection goroutines run requests synchronously off
// net/rpc/jsonrpc so ControlServer needs no lock for same-connection
// calls, alongside a heartbeat ticker and ctrl-C signal handling
// around a blocking Stop.
package rpcserver

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/ids"
	"github.com/relacs/relacsd/internal/runcontrol"
)

// ServerStatus is the status ControlServer reports to clients.
type ServerStatus struct {
	SessionRunning bool
	CurrentRepro   string
}

// ControlServer is the sub-server registered on the JSON-RPC endpoint.
type ControlServer struct {
	Registry   *devices.Registry
	RunControl *runcontrol.RunControl

	repros map[string]runcontrol.ReProFunc
	status atomic.Value
}

// NewControlServer creates a ControlServer bound to registry and rc.
func NewControlServer(registry *devices.Registry, rc *runcontrol.RunControl) *ControlServer {
	s := &ControlServer{
		Registry:   registry,
		RunControl: rc,
		repros:     make(map[string]runcontrol.ReProFunc),
	}
	s.SetStatus(ServerStatus{})
	return s
}

// RegisterRePro makes a RePro callable by name via StartRePro.
func (s *ControlServer) RegisterRePro(name string, repro runcontrol.ReProFunc) {
	s.repros[name] = repro
}

// Status loads the current ServerStatus atomically.
func (s *ControlServer) Status() ServerStatus {
	return s.status.Load().(ServerStatus)
}

// SetStatus stores a ServerStatus atomically.
func (s *ControlServer) SetStatus(x ServerStatus) {
	s.status.Store(x)
}

// OpenDeviceArgs are the RPC arguments for OpenDevice.
type OpenDeviceArgs struct {
	Group   ids.CapabilityGroup
	Plugin  string
	Ident   string
	Path    string
	Options map[string]any
}

// OpenDevice opens a device through the Registry.
func (s *ControlServer) OpenDevice(args *OpenDeviceArgs, reply *bool) error {
	id, err := s.Registry.Open(args.Group, args.Plugin, args.Ident, args.Path, args.Options)
	*reply = err == nil
	if err != nil {
		return err
	}
	log.Printf("OpenDevice: opened %s/%s as ident %q (id=%d)\n", args.Group, args.Plugin, args.Ident, id)
	return nil
}

// StartReProArgs names the RePro to run.
type StartReProArgs struct {
	Name string
}

// StartRePro looks up a registered RePro by name and starts it under a
// uniquified instance name.
func (s *ControlServer) StartRePro(args *StartReProArgs, reply *bool) error {
	repro, ok := s.repros[args.Name]
	if !ok {
		*reply = false
		return fmt.Errorf("rpcserver: no RePro registered under %q", args.Name)
	}
	name := s.RunControl.UniqueName(args.Name)
	s.RunControl.Start(name, repro)
	status := s.Status()
	status.CurrentRepro = name
	s.SetStatus(status)
	*reply = true
	return nil
}

// StopRePro requests the current RePro stop cooperatively and blocks
// until it does or the grace period elapses.
func (s *ControlServer) StopRePro(dummy *string, reply *bool) error {
	s.RunControl.Stop()
	*reply = s.RunControl.WaitStopped()
	status := s.Status()
	status.CurrentRepro = ""
	s.SetStatus(status)
	return nil
}

// SessionControlArgs toggles whether a Session is Running, gating
// persistence/Sink attachment.
type SessionControlArgs struct {
	Running bool
}

func (s *ControlServer) SetSession(args *SessionControlArgs, reply *bool) error {
	s.RunControl.SetSessionRunning(args.Running)
	status := s.Status()
	status.SessionRunning = args.Running
	s.SetStatus(status)
	*reply = true
	return nil
}

// GetStatus reports the current ServerStatus to the client.
func (s *ControlServer) GetStatus(dummy *string, reply *ServerStatus) error {
	*reply = s.Status()
	return nil
}

// ResetDevices resets every opened device, surfacing any aggregate
// failure as an RPC error while still attempting every device on a
// best-effort basis.
func (s *ControlServer) ResetDevices(dummy *string, reply *bool) error {
	err := s.Registry.ResetAll()
	*reply = err == nil
	return err
}

// RunRPCServer sets up and runs a permanent JSON-RPC server on portrpc.
// If block, it blocks until SIGINT and then requests a cooperative
// stop of any running RePro before returning.
func RunRPCServer(portrpc int, server *ControlServer, block bool) {
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			status := server.Status()
			status.SessionRunning = server.RunControl.SessionRunning()
			server.SetStatus(status)
		}
	}()

	rpcServer := rpc.NewServer()
	if err := rpcServer.Register(server); err != nil {
		panic(err)
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", portrpc))
	if err != nil {
		panic(fmt.Sprint("rpcserver: listen error: ", err))
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				log.Printf("rpcserver: accept error: %v", err)
				return
			}
			log.Printf("rpcserver: new connection from %s\n", conn.RemoteAddr())
			go func() {
				codec := jsonrpc.NewServerCodec(conn)
				for {
					if err := rpcServer.ServeRequest(codec); err != nil {
						log.Printf("rpcserver: connection closed: %v", err)
						return
					}
				}
			}()
		}
	}()

	if block {
		interruptCatcher := make(chan os.Signal, 1)
		signal.Notify(interruptCatcher, os.Interrupt)
		<-interruptCatcher
		server.RunControl.Stop()
		server.RunControl.WaitStopped()
	}
}
