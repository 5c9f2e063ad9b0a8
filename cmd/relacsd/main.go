// Command relacsd is the relacsd process entrypoint: it loads
// configuration, opens devices, arms acquisition, wires the filter
// graph and stimulus engine, then serves the control plane until
// interrupted. Startup loads viper-backed config, launches the
// connection-accepting goroutine for the control plane, then blocks
// on os/signal.Notify for a clean ctrl-C shutdown.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/relacs/relacsd/internal/acquisition"
	"github.com/relacs/relacsd/internal/config"
	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/devices/simulated"
	"github.com/relacs/relacsd/internal/events"
	"github.com/relacs/relacsd/internal/filtergraph"
	"github.com/relacs/relacsd/internal/ids"
	"github.com/relacs/relacsd/internal/rpcserver"
	"github.com/relacs/relacsd/internal/runcontrol"
	"github.com/relacs/relacsd/internal/stimindex"
	"github.com/relacs/relacsd/internal/stimulus"
	"github.com/relacs/relacsd/internal/telemetry"
	"github.com/relacs/relacsd/repro"
)

func main() {
	configPath := flag.String("config", "", "path to relacsd config file (YAML)")
	rpcPort := flag.Int("rpc-port", 4000, "JSON-RPC control plane port")
	stimPubPort := flag.Int("stim-pub-port", 5570, "ZMQ PUB port for stimulus telemetry")
	eventPubPort := flag.Int("event-pub-port", 5571, "ZMQ PUB port for event telemetry")
	stimIndexPath := flag.String("stim-index", "", "path to persist the stimulus index, empty disables persistence")
	flag.Parse()

	tree, err := config.New(*configPath)
	if err != nil {
		log.Fatalf("relacsd: loading config: %v", err)
	}

	registry := devices.NewRegistry()
	registry.RegisterPlugin(ids.AnalogInputGroup, "simulated", func() devices.Device {
		return simulated.NewAnalogInput(1, 10000)
	})
	registry.RegisterPlugin(ids.AnalogOutputGroup, "simulated", func() devices.Device {
		return simulated.NewAnalogOutput(1, 10000)
	})

	var deviceConfigs []config.DeviceConfig
	if err := tree.Load(config.SectionDevices, &deviceConfigs); err != nil {
		log.Fatalf("relacsd: loading device configs: %v", err)
	}
	if len(deviceConfigs) == 0 {
		// No config file supplied: fall back to one simulated input and
		// one simulated output, enough to drive the pipeline end to end.
		deviceConfigs = []config.DeviceConfig{
			{Group: ids.AnalogInputGroup.String(), Plugin: "simulated", Ident: "ai-0"},
			{Group: ids.AnalogOutputGroup.String(), Plugin: "simulated", Ident: "ao-0"},
		}
	}
	deviceIDs := make(map[string]ids.DeviceID)
	for _, dc := range deviceConfigs {
		group := parseGroup(dc.Group)
		id, err := registry.Open(group, dc.Plugin, dc.Ident, dc.Path, dc.Options)
		if err != nil {
			log.Fatalf("relacsd: opening device %q: %v", dc.Ident, err)
		}
		deviceIDs[dc.Ident] = id
	}

	inputDevice, _ := registry.ByID(ids.AnalogInputGroup, deviceIDs["ai-0"])
	outputDevice, _ := registry.ByID(ids.AnalogOutputGroup, deviceIDs["ao-0"])
	analogIn := inputDevice.(devices.AnalogInput)
	analogOut := outputDevice.(devices.AnalogOutput)

	acqEngine := acquisition.NewEngine()
	const inputTrace ids.TraceID = 1
	if err := acqEngine.Prepare([]acquisition.TraceRequest{{
		Trace:  inputTrace,
		Device: deviceIDs["ai-0"],
		Input:  analogIn,
		Spec: devices.ChannelSpec{
			Channel:    0,
			SampleRate: 10000,
			Reference:  devices.Differential,
			Unipolar:   true,
		},
		Unit:     "V",
		Ident:    "V-1",
		MinValue: -10,
		MaxValue: 10,
		Capacity: 1 << 16,
	}}); err != nil {
		log.Fatalf("relacsd: acquisition.Prepare: %v", err)
	}
	if err := acqEngine.Start(acquisition.CoStartSet{Primary: deviceIDs["ai-0"]}); err != nil {
		log.Fatalf("relacsd: acquisition.Start: %v", err)
	}

	stimEngine := stimulus.NewEngine(acqEngine)
	const outputTrace ids.TraceID = 1
	stimEngine.RegisterOutput(outputTrace, analogOut, devices.ChannelSpec{
		Channel:    0,
		SampleRate: 10000,
	}, nil)
	stimEngine.BindCoAcquisition(outputTrace, []ids.TraceID{inputTrace})

	inTrace, _ := acqEngine.Trace(inputTrace)
	eventStream := events.NewStream(1 << 14)
	detector := events.NewDetector(events.Config{
		Threshold:        0.2,
		MinThresh:        0.05,
		MaxThresh:        5,
		Ratio:            0.3,
		Adapt:            true,
		RefractoryPeriod: 0.002,
		FitMethod:        events.LinearFit,
		BaselineTau:      0.5,
		UpdateTime:       1,
		HistoryTime:      30,
	})
	graph := filtergraph.New()
	graph.Register(&filtergraph.DetectorNode{
		NodeIdent: "spikes-1",
		Input:     inTrace,
		Det:       detector,
		Output:    eventStream,
		MinThresh: 0.05,
		MaxThresh: 5,
	}, func() ids.SampleIndex { return inTrace.Size() })

	rc := runcontrol.New(stimEngine)
	rc.RegisterTrace("V-1", runcontrol.TraceAdapter{Trace: inTrace})
	rc.RegisterEvent("spikes-1", runcontrol.EventAdapter{Stream: eventStream})
	rc.SetHandoff(runcontrol.FallBack, repro.HandoffSecond)

	ring := stimindex.NewRing(4096)
	var indexWriter *stimindex.Writer
	if *stimIndexPath != "" {
		indexWriter = stimindex.NewWriter(*stimIndexPath)
		if err := indexWriter.CreateFile(); err != nil {
			log.Fatalf("relacsd: creating stimulus index: %v", err)
		}
		if err := indexWriter.WriteHeader(); err != nil {
			log.Fatalf("relacsd: writing stimulus index header: %v", err)
		}
		defer indexWriter.Close()
	}

	pub := &telemetry.Publisher{}
	pub.SetStimulusPub(telemetry.DefaultStimulusHostname(*stimPubPort))
	pub.SetEventPub(telemetry.DefaultEventHostname(*eventPubPort))
	defer pub.RemoveStimulusPub()
	defer pub.RemoveEventPub()

	stimEngine.OnWrite(func(sig *stimulus.OutSignal) {
		descriptor := stimindex.Descriptor{
			StartTime: 0, // wall-clock stamping belongs to a downstream Sink, not this process
			Trace:     "V-1",
			Intensity: sig.RealisedIntensity,
			Duration:  float64(len(sig.Samples)) * sig.StepSize,
			Ident:     sig.Ident,
		}
		ring.Append(descriptor)
		if indexWriter != nil {
			if err := indexWriter.WriteRecord(descriptor); err != nil {
				log.Printf("relacsd: persisting stimulus record: %v", err)
			}
		}
		pub.PublishStimulus(telemetry.StimulusRecord{
			StartTime: descriptor.StartTime,
			Trace:     descriptor.Trace,
			Intensity: descriptor.Intensity,
			Ident:     descriptor.Ident,
		})
	})

	server := rpcserver.NewControlServer(registry, rc)
	server.RegisterRePro("constant-dc", repro.ConstantDC(outputTrace, 1.0, 0))
	server.RegisterRePro("sine", repro.SineStimulus(outputTrace, "V-1", 200, 3.0, 1.0/10000, 2048))
	server.RegisterRePro("handoff-first", repro.HandoffFirst)

	acqEngine.OnPublish(func(ids.DeviceID) {
		if err := graph.Tick(); err != nil {
			log.Printf("relacsd: filtergraph tick: %v", err)
		}
	})

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			pub.PublishEventSummary(telemetry.EventSummary{
				Ident:    "spikes-1",
				Count:    int64(eventStream.Size()),
				Rate:     detector.Rate(),
				MeanSize: detector.MeanSize(),
			})
		}
	}()

	log.Printf("relacsd: control plane on :%d, using config %s\n", *rpcPort, tree.ConfigFileUsed())
	go rpcserver.RunRPCServer(*rpcPort, server, false)

	interruptCatcher := make(chan os.Signal, 1)
	signal.Notify(interruptCatcher, os.Interrupt)
	<-interruptCatcher

	log.Println("relacsd: shutting down")
	rc.Stop()
	rc.WaitStopped()
	acqEngine.Stop(deviceIDs["ai-0"])
	if err := registry.CloseAll(); err != nil {
		log.Printf("relacsd: errors closing devices: %v", err)
	}
}

func parseGroup(name string) ids.CapabilityGroup {
	switch name {
	case ids.AnalogInputGroup.String():
		return ids.AnalogInputGroup
	case ids.AnalogOutputGroup.String():
		return ids.AnalogOutputGroup
	case ids.DigitalIOGroup.String():
		return ids.DigitalIOGroup
	case ids.TriggerGroup.String():
		return ids.TriggerGroup
	case ids.AttenuatorGroup.String():
		return ids.AttenuatorGroup
	case ids.AttenuatorInterfaceGroup.String():
		return ids.AttenuatorInterfaceGroup
	default:
		return ids.MiscellaneousGroup
	}
}
