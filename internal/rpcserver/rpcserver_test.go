package rpcserver

import (
	"testing"
	"time"

	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/devices/simulated"
	"github.com/relacs/relacsd/internal/errs"
	"github.com/relacs/relacsd/internal/ids"
	"github.com/relacs/relacsd/internal/runcontrol"
	"github.com/relacs/relacsd/internal/stimulus"
)

func newTestServer() *ControlServer {
	registry := devices.NewRegistry()
	registry.RegisterPlugin(ids.AnalogInputGroup, "sim", func() devices.Device {
		return simulated.NewAnalogInput(1, 10000)
	})
	rc := runcontrol.New(stimulus.NewEngine(nil))
	return NewControlServer(registry, rc)
}

func TestOpenDeviceRegistersUnderIdent(t *testing.T) {
	s := newTestServer()
	var ok bool
	args := &OpenDeviceArgs{Group: ids.AnalogInputGroup, Plugin: "sim", Ident: "ai-0"}
	if err := s.OpenDevice(args, &ok); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	if !ok {
		t.Fatal("OpenDevice reply = false, want true")
	}
	if _, found := s.Registry.Lookup(ids.AnalogInputGroup, "ai-0"); !found {
		t.Fatal("device not found under registered ident after OpenDevice")
	}
}

func TestOpenDeviceUnknownPluginErrors(t *testing.T) {
	s := newTestServer()
	var ok bool
	args := &OpenDeviceArgs{Group: ids.AnalogInputGroup, Plugin: "does-not-exist", Ident: "x"}
	if err := s.OpenDevice(args, &ok); err == nil {
		t.Fatal("expected error opening unregistered plugin")
	}
	if ok {
		t.Fatal("reply should be false on error")
	}
}

func TestStartStopReProUpdatesStatus(t *testing.T) {
	s := newTestServer()
	started := make(chan struct{})
	s.RegisterRePro("sleeper", func(ctx *runcontrol.ReProContext) errs.Result {
		close(started)
		ctx.SleepFor(time.Minute)
		return errs.Result{Outcome: errs.Aborted}
	})

	var ok bool
	if err := s.StartRePro(&StartReProArgs{Name: "sleeper"}, &ok); err != nil {
		t.Fatalf("StartRePro: %v", err)
	}
	if !ok {
		t.Fatal("StartRePro reply = false, want true")
	}
	<-started

	var status ServerStatus
	if err := s.GetStatus(nil, &status); err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.CurrentRepro == "" {
		t.Fatal("GetStatus reported no CurrentRepro while a RePro is running")
	}

	if err := s.StopRePro(nil, &ok); err != nil {
		t.Fatalf("StopRePro: %v", err)
	}
	if !ok {
		t.Fatal("StopRePro reply = false, want true within grace period")
	}
}

func TestStartReProUnknownNameErrors(t *testing.T) {
	s := newTestServer()
	var ok bool
	if err := s.StartRePro(&StartReProArgs{Name: "nope"}, &ok); err == nil {
		t.Fatal("expected error starting unregistered RePro")
	}
}

func TestSetSessionUpdatesStatus(t *testing.T) {
	s := newTestServer()
	var ok bool
	if err := s.SetSession(&SessionControlArgs{Running: true}, &ok); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if !ok {
		t.Fatal("SetSession reply = false, want true")
	}
	var status ServerStatus
	s.GetStatus(nil, &status)
	if !status.SessionRunning {
		t.Fatal("GetStatus reported SessionRunning = false after SetSession(true)")
	}
}
