// Command midici-sim runs simulated MIDI-CI devices.
//
// This command hosts a MIDI-CI initiator and/or responder, each with a UMP
// endpoint, configured from YAML files:
//   - both roles in one process, joined by loopback TCP ports
//   - a responder listening for network connections, optionally advertised
//     over mDNS
//   - an initiator connecting to an address or a browsed mDNS service
//   - protocol capture to a file for midici-log
//   - an interactive shell
//
// Usage:
//
//	midici-sim [flags]
//
// Flags:
//
//	-initiator string     Initiator configuration file
//	-responder string     Responder configuration file
//	-listen string        Accept MIDI-CI (SysEx) connections on this address
//	-ump-listen string    Accept UMP connections on this address
//	-connect string       Connect the initiator's MIDI-CI port to this address
//	-ump-connect string   Connect the initiator's UMP port to this address
//	-advertise            Advertise listening ports over mDNS
//	-browse               Find a responder over mDNS
//	-reconnect            Redial dropped connections with backoff
//	-protocol-log string  Write protocol events to this file
//	-get string           Comma-separated resources to GET from each peer
//	-subscribe string     Comma-separated resources to subscribe to
//	-simulate             Change a responder property periodically
//	-interactive          Run the interactive shell
//	-duration duration    Stop after this long (0 runs until interrupted)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Both roles in one process, fetch the device info and watch state
//	midici-sim -responder synth.yaml -get DeviceInfo,X-State -subscribe X-State -simulate
//
//	# Responder on the network
//	midici-sim -responder synth.yaml -listen :5673 -ump-listen :5674 -advertise
//
//	# Initiator finding it via mDNS, with an interactive shell
//	midici-sim -initiator controller.yaml -browse -interactive
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/midici-protocol/midici-go/cmd/midici-sim/interactive"
	"github.com/midici-protocol/midici-go/pkg/config"
	"github.com/midici-protocol/midici-go/pkg/discovery"
	cilog "github.com/midici-protocol/midici-go/pkg/log"
	"github.com/midici-protocol/midici-go/pkg/version"
)

// Config holds the command configuration.
type Config struct {
	InitiatorFile string
	ResponderFile string

	Listen     string
	UMPListen  string
	Connect    string
	UMPConnect string
	Advertise  bool
	Browse     bool
	Reconnect  bool
	Instance   string
	Interface  string

	ProtocolLog string
	Get         string
	Subscribe   string

	Simulate         bool
	SimulateResource string
	SimulateInterval time.Duration

	Interactive bool
	Duration    time.Duration
	LogLevel    string
}

var cfg Config

func init() {
	flag.StringVar(&cfg.InitiatorFile, "initiator", "", "Initiator configuration file")
	flag.StringVar(&cfg.ResponderFile, "responder", "", "Responder configuration file")

	flag.StringVar(&cfg.Listen, "listen", "", "Accept MIDI-CI (SysEx) connections on this address")
	flag.StringVar(&cfg.UMPListen, "ump-listen", "", "Accept UMP connections on this address")
	flag.StringVar(&cfg.Connect, "connect", "", "Connect the initiator's MIDI-CI port to this address")
	flag.StringVar(&cfg.UMPConnect, "ump-connect", "", "Connect the initiator's UMP port to this address")
	flag.BoolVar(&cfg.Advertise, "advertise", false, "Advertise listening ports over mDNS")
	flag.BoolVar(&cfg.Browse, "browse", false, "Find a responder over mDNS")
	flag.BoolVar(&cfg.Reconnect, "reconnect", false, "Redial dropped connections with backoff")
	flag.StringVar(&cfg.Instance, "name", "", "mDNS instance name (default: model name)")
	flag.StringVar(&cfg.Interface, "iface", "", "Network interface for mDNS (default: all)")

	flag.StringVar(&cfg.ProtocolLog, "protocol-log", "", "Write protocol events to this file")
	flag.StringVar(&cfg.Get, "get", "", "Comma-separated resources to GET from each peer")
	flag.StringVar(&cfg.Subscribe, "subscribe", "", "Comma-separated resources to subscribe to")

	flag.BoolVar(&cfg.Simulate, "simulate", false, "Change a responder property periodically")
	flag.StringVar(&cfg.SimulateResource, "simulate-resource", "X-State", "Resource changed by the simulation")
	flag.DurationVar(&cfg.SimulateInterval, "simulate-interval", 2*time.Second, "Simulation interval")

	flag.BoolVar(&cfg.Interactive, "interactive", false, "Run the interactive shell")
	flag.DurationVar(&cfg.Duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	if err := validateConfig(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	var out io.Writer = os.Stderr
	var shell *interactive.Shell
	if cfg.Interactive {
		var err error
		shell, err = interactive.New()
		if err != nil {
			log.Fatalf("Failed to start shell: %v", err)
		}
		out = shell.Stdout()
	}
	logger := setupLogging(cfg.LogLevel, out)

	log.Printf("midici-sim %s", version.Library)

	capture, closeCapture, err := setupCapture(cfg.ProtocolLog, cfg.LogLevel, logger)
	if err != nil {
		log.Fatalf("Failed to open protocol log: %v", err)
	}
	defer closeCapture()

	opts, err := buildOptions(&cfg)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	opts.Logger = logger
	opts.Capture = capture

	sim, err := newSimulator(opts)
	if err != nil {
		log.Fatalf("Failed to create simulator: %v", err)
	}
	defer sim.Close()
	sim.Start(ctx)

	var advertiser *discovery.MDNSAdvertiser
	if isNetworked(&cfg) {
		advertiser, err = startNetwork(ctx, sim, opts, &cfg)
	} else {
		err = startLocal(ctx, sim)
	}
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	if advertiser != nil {
		defer advertiser.Stop()
	}

	if cfg.Simulate && sim.responder != nil {
		go runSimulation(ctx, sim, cfg.SimulateResource, cfg.SimulateInterval)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("Received signal: %v", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if shell != nil {
		shell.Attach(sim.controls())
		shell.Run(ctx, cancel)
	}
	<-ctx.Done()

	log.Println("Shutting down...")
	cancel()
}

func setupLogging(level string, w io.Writer) *slog.Logger {
	log.SetOutput(w)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	case "warn":
		l = slog.LevelWarn
		log.SetFlags(log.Ltime)
	case "error":
		l = slog.LevelError
		log.SetFlags(log.Ltime)
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// setupCapture builds the protocol event sink: a capture file and, at
// debug level, the console.
func setupCapture(path, level string, logger *slog.Logger) (cilog.Logger, func(), error) {
	var loggers []cilog.Logger
	closeFn := func() {}

	if path != "" {
		fl, err := cilog.NewFileLogger(path)
		if err != nil {
			return nil, nil, err
		}
		loggers = append(loggers, fl)
		closeFn = func() {
			if err := fl.Close(); err != nil {
				log.Printf("Error closing protocol log: %v", err)
			}
		}
		log.Printf("Protocol log: %s", path)
	}
	if level == "debug" {
		loggers = append(loggers, cilog.NewSlogAdapter(logger))
	}

	if len(loggers) == 0 {
		return nil, closeFn, nil
	}
	return cilog.NewMultiLogger(loggers...), closeFn, nil
}

func validateConfig(c *Config) error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.LogLevel)
	}
	if c.Browse && c.Connect != "" {
		return errors.New("-browse and -connect are exclusive")
	}
	if c.Advertise && c.Listen == "" && c.UMPListen == "" {
		return errors.New("-advertise needs -listen or -ump-listen")
	}
	if c.Reconnect && c.Connect == "" && c.UMPConnect == "" && !c.Browse {
		return errors.New("-reconnect needs -connect, -ump-connect or -browse")
	}
	if c.Simulate && c.SimulateInterval <= 0 {
		return fmt.Errorf("simulate interval must be positive, got %s", c.SimulateInterval)
	}
	if c.Instance != "" {
		if err := discovery.ValidateInstanceName(c.Instance); err != nil {
			return err
		}
	}
	return nil
}

func isNetworked(c *Config) bool {
	return c.Listen != "" || c.UMPListen != "" || c.Connect != "" || c.UMPConnect != "" || c.Browse
}

// buildOptions loads the role configurations. Local mode runs both roles;
// network mode runs the roles its flags ask for.
func buildOptions(c *Config) (simOptions, error) {
	var opts simOptions
	opts.Get = splitList(c.Get)
	opts.Subscribe = splitList(c.Subscribe)

	wantInitiator, wantResponder := true, true
	if isNetworked(c) {
		wantResponder = c.Listen != "" || c.UMPListen != ""
		wantInitiator = c.Connect != "" || c.UMPConnect != "" || c.Browse
	}

	var err error
	if wantInitiator {
		if opts.Initiator, err = loadFile(c.InitiatorFile); err != nil {
			return opts, err
		}
	}
	if wantResponder {
		if opts.Responder, err = loadFile(c.ResponderFile); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// loadFile reads a configuration file; an empty path yields the defaults.
func loadFile(path string) (*config.File, error) {
	if path == "" {
		return &config.File{}, nil
	}
	return config.Load(path)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// startLocal joins both roles through loopback TCP ports and starts
// discovery.
func startLocal(ctx context.Context, sim *simulator) error {
	ciAddr, err := sim.ciIn.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		return err
	}
	umpAddr, err := sim.umpIn.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		return err
	}
	if err := sim.ciOut.Dial(ctx, ciAddr.String()); err != nil {
		return err
	}
	if err := sim.umpOut.Dial(ctx, umpAddr.String()); err != nil {
		return err
	}
	return sim.Discover()
}

// startNetwork listens and/or connects per the flags.
func startNetwork(ctx context.Context, sim *simulator, opts simOptions, c *Config) (*discovery.MDNSAdvertiser, error) {
	var advertiser *discovery.MDNSAdvertiser

	if sim.responder != nil {
		var infos []*discovery.PortInfo
		if c.Listen != "" {
			addr, err := sim.ciIn.Listen(ctx, c.Listen)
			if err != nil {
				return nil, err
			}
			infos = append(infos, ciPortInfo(opts.Responder, sim, c.Instance, addr))
		}
		if c.UMPListen != "" {
			addr, err := sim.umpIn.Listen(ctx, c.UMPListen)
			if err != nil {
				return nil, err
			}
			infos = append(infos, umpPortInfo(opts.Responder, c.Instance, addr))
		}

		if c.Advertise {
			acfg := discovery.DefaultAdvertiserConfig()
			acfg.Interface = c.Interface
			advertiser = discovery.NewMDNSAdvertiser(acfg)
			for _, info := range infos {
				if err := advertiser.Advertise(ctx, info); err != nil {
					advertiser.Stop()
					return nil, err
				}
				log.Printf("Advertising %s.%s.%s on port %d", info.InstanceName, discovery.ServiceType, discovery.Domain, info.Port)
			}
		}
	}

	if sim.initiator == nil {
		return advertiser, nil
	}

	ciAddr, umpAddr := c.Connect, c.UMPConnect
	if c.Browse {
		bcfg := discovery.DefaultBrowserConfig()
		bcfg.Interface = c.Interface
		browser := discovery.NewMDNSBrowser(bcfg)
		defer browser.Stop()

		filter := discovery.FilterByTransport(discovery.TransportSysEx)
		if c.Instance != "" {
			filter = discovery.All(filter, discovery.FilterByName(c.Instance))
		}
		svc, err := browser.Find(ctx, filter)
		if err != nil {
			return advertiser, fmt.Errorf("browse: %w", err)
		}
		log.Printf("Found %s (%s) at %s", svc.InstanceName, svc.Info.Name, svc.Address())
		ciAddr = svc.Address()

		if umpAddr == "" {
			umpSvc, err := browser.Find(ctx, discovery.All(
				discovery.FilterByTransport(discovery.TransportUMP),
				func(s *discovery.Service) bool { return s.Host == svc.Host },
			))
			if err == nil {
				umpAddr = umpSvc.Address()
			}
		}
	}

	if c.Reconnect {
		rediscover := func() {
			if err := sim.Discover(); err != nil {
				log.Printf("Discovery failed: %v", err)
			}
		}
		if ciAddr != "" {
			sim.ciOut.Redial(ctx, ciAddr, rediscover)
		}
		if umpAddr != "" {
			sim.umpOut.Redial(ctx, umpAddr, rediscover)
		}
		return advertiser, nil
	}

	if ciAddr != "" {
		if err := sim.ciOut.Dial(ctx, ciAddr); err != nil {
			return advertiser, err
		}
	}
	if umpAddr != "" {
		if err := sim.umpOut.Dial(ctx, umpAddr); err != nil {
			return advertiser, err
		}
	}
	return advertiser, sim.Discover()
}

func instanceName(f *config.File, override, suffix string) string {
	name := override
	if name == "" {
		name = f.Device.ModelName
	}
	if name == "" {
		name = "midici-sim"
	}
	if suffix != "" {
		name += " " + suffix
	}
	if len(name) > discovery.MaxInstanceNameLen {
		name = name[:discovery.MaxInstanceNameLen]
	}
	return name
}

func tcpPort(addr net.Addr) uint16 {
	if a, ok := addr.(*net.TCPAddr); ok {
		return uint16(a.Port)
	}
	return discovery.DefaultPort
}

func ciPortInfo(f *config.File, sim *simulator, override string, addr net.Addr) *discovery.PortInfo {
	sim.respMu.Lock()
	m := sim.responder.MUID()
	sim.respMu.Unlock()

	return &discovery.PortInfo{
		InstanceName: instanceName(f, override, ""),
		Port:         tcpPort(addr),
		Transport:    discovery.TransportSysEx,
		Name:         instanceName(f, "", ""),
		Manufacturer: f.Device.Manufacturer,
		Model:        f.Device.Model,
		MUID:         m,
		CIVersion:    version.CIMessageFormat,
	}
}

func umpPortInfo(f *config.File, override string, addr net.Addr) *discovery.PortInfo {
	info := &discovery.PortInfo{
		InstanceName: instanceName(f, override, "UMP"),
		Port:         tcpPort(addr),
		Transport:    discovery.TransportUMP,
		Name:         instanceName(f, "", ""),
		Manufacturer: f.Device.Manufacturer,
		Model:        f.Device.Model,
	}
	if f.Endpoint != nil {
		if f.Endpoint.Name != "" {
			info.Name = f.Endpoint.Name
		}
		info.ProductInstanceID = f.Endpoint.ProductInstanceID
	}
	return info
}
