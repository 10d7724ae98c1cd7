// Package interactive provides the interactive command-line interface
// for midici-sim.
package interactive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/midici-protocol/midici-go/pkg/midici"
	"github.com/midici-protocol/midici-go/pkg/muid"
	"github.com/midici-protocol/midici-go/pkg/profile"
	"github.com/midici-protocol/midici-go/pkg/subscription"
	"github.com/midici-protocol/midici-go/pkg/ump"
)

// Shell errors.
var (
	ErrNoPeer     = errors.New("no active peer")
	ErrNoRole     = errors.New("role not running")
	ErrUsage      = errors.New("usage")
	ErrBadProfile = errors.New("invalid profile id")
)

// Initiator is the initiator side the shell drives.
type Initiator interface {
	Discover() error
	Peers() []midici.Connection
	Get(peer muid.MUID, resource, resID string) (byte, error)
	Set(peer muid.MUID, resource, resID string, body []byte) (byte, error)
	Subscribe(peer muid.MUID, resource string) (byte, error)
	Unsubscribe(peer muid.MUID, resource string) (byte, error)
	RequestProfiles(peer muid.MUID) error
	SetProfile(peer muid.MUID, id profile.ID, enabled bool) error
	RequestProfileDetails(peer muid.MUID, id profile.ID, target byte) error
	TargetEndpoint() (ump.TargetEndpoint, ump.State)
}

// Responder is the responder side the shell drives.
type Responder interface {
	LocalProfiles() []profile.Entry
	EnableProfile(id profile.ID) error
	DisableProfile(id profile.ID) error
	Subscriptions() []subscription.Info
	Touch(resource string, body []byte) error
}

// Shell handles interactive mode for midici-sim.
type Shell struct {
	rl        *readline.Instance
	out       io.Writer
	initiator Initiator
	responder Responder

	// selected peer; zero picks the first active one
	peer muid.MUID
}

// New creates a shell. The roles are set with Attach.
func New() (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "midici> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Stderr returns a writer that properly coordinates with the readline input.
func (s *Shell) Stderr() io.Writer {
	return s.rl.Stderr()
}

// Attach sets the roles the commands drive. Either may be nil.
func (s *Shell) Attach(initiator Initiator, responder Responder) {
	s.initiator = initiator
	s.responder = responder
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()
	// Unblock Readline on shutdown.
	stop := context.AfterFunc(ctx, func() { s.rl.Close() })
	defer stop()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if quit := s.Exec(line); quit {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Exec runs one command line and reports whether the shell should exit.
func (s *Shell) Exec(line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "discover", "d":
		err = s.cmdDiscover()
	case "peers", "p":
		err = s.cmdPeers()
	case "use":
		err = s.cmdUse(args)
	case "get", "g":
		err = s.cmdGet(args)
	case "set", "s":
		err = s.cmdSet(args)
	case "sub":
		err = s.cmdSubscribe(args)
	case "unsub":
		err = s.cmdUnsubscribe(args)
	case "profiles":
		err = s.cmdProfiles(args)
	case "profile":
		err = s.cmdRemoteProfile(args)
	case "details":
		err = s.cmdDetails(args)
	case "enable":
		err = s.cmdLocalProfile(args, true)
	case "disable":
		err = s.cmdLocalProfile(args, false)
	case "touch":
		err = s.cmdTouch(args)
	case "subs":
		err = s.cmdSubscriptions()
	case "endpoint", "ep":
		err = s.cmdEndpoint()
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
MIDI-CI Commands:
  Initiator:
    discover                 - Broadcast Discovery (and UMP Endpoint Discovery)
    peers                    - List discovered responders
    use <peer>               - Select a peer by index or MUID
    get <resource> [resId]   - Get a property
    set <resource> <json>    - Set a property
    sub <resource>           - Subscribe to a property
    unsub <resource>         - End a subscription
    profiles [local]         - Show the peer's (or local) profiles
    profile on|off <id>      - Ask the peer to enable or disable a profile
    details <id> [target]    - Request profile details
    endpoint                 - Show the discovered UMP endpoint

  Responder:
    enable <id>              - Enable a local profile
    disable <id>             - Disable a local profile
    touch <resource> <json>  - Change a local property and notify subscribers
    subs                     - List subscriptions held by peers

  General:
    help                     - Show this help
    quit                     - Exit`)
}

func (s *Shell) needInitiator() error {
	if s.initiator == nil {
		return fmt.Errorf("%w: initiator", ErrNoRole)
	}
	return nil
}

func (s *Shell) needResponder() error {
	if s.responder == nil {
		return fmt.Errorf("%w: responder", ErrNoRole)
	}
	return nil
}

// target returns the selected peer, or the first active one.
func (s *Shell) target() (muid.MUID, error) {
	if err := s.needInitiator(); err != nil {
		return 0, err
	}
	peers := s.initiator.Peers()
	for _, c := range peers {
		if s.peer != 0 && c.MUID == s.peer {
			return c.MUID, nil
		}
	}
	for _, c := range peers {
		if c.State == midici.StateActive {
			return c.MUID, nil
		}
	}
	return 0, ErrNoPeer
}

func (s *Shell) cmdDiscover() error {
	if err := s.needInitiator(); err != nil {
		return err
	}
	if err := s.initiator.Discover(); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Discovery sent")
	return nil
}

func (s *Shell) cmdPeers() error {
	if err := s.needInitiator(); err != nil {
		return err
	}
	peers := s.initiator.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(s.out, "No peers discovered")
		return nil
	}
	out := s.out
	fmt.Fprintf(out, "  %-3s %-10s %-12s %-20s %s\n", "#", "MUID", "STATE", "MODEL", "PROTOCOL")
	for n, c := range peers {
		marker := " "
		if c.MUID == s.peer {
			marker = "*"
		}
		name := c.Device.ModelName
		if name == "" {
			name = fmt.Sprintf("%06X/%04X", c.Device.Manufacturer, c.Device.Model)
		}
		proto := "-"
		if c.State == midici.StateActive {
			proto = c.Protocol.String()
		}
		fmt.Fprintf(out, "%s %-3d %-10s %-12s %-20s %s\n", marker, n, c.MUID, c.State, name, proto)
	}
	return nil
}

func (s *Shell) cmdUse(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: use <peer>", ErrUsage)
	}
	if err := s.needInitiator(); err != nil {
		return err
	}
	m, err := resolvePeer(args[0], s.initiator.Peers())
	if err != nil {
		return err
	}
	s.peer = m
	fmt.Fprintf(s.out, "Using peer %s\n", m)
	return nil
}

func (s *Shell) cmdGet(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: get <resource> [resId]", ErrUsage)
	}
	peer, err := s.target()
	if err != nil {
		return err
	}
	var resID string
	if len(args) == 2 {
		resID = args[1]
	}
	id, err := s.initiator.Get(peer, args[0], resID)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "GET %s sent (request %d)\n", args[0], id)
	return nil
}

func (s *Shell) cmdSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: set <resource> <json>", ErrUsage)
	}
	peer, err := s.target()
	if err != nil {
		return err
	}
	body := []byte(strings.Join(args[1:], " "))
	id, err := s.initiator.Set(peer, args[0], "", body)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "SET %s sent (request %d, %d bytes)\n", args[0], id, len(body))
	return nil
}

func (s *Shell) cmdSubscribe(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: sub <resource>", ErrUsage)
	}
	peer, err := s.target()
	if err != nil {
		return err
	}
	id, err := s.initiator.Subscribe(peer, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "SUBSCRIBE %s sent (request %d)\n", args[0], id)
	return nil
}

func (s *Shell) cmdUnsubscribe(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: unsub <resource>", ErrUsage)
	}
	peer, err := s.target()
	if err != nil {
		return err
	}
	id, err := s.initiator.Unsubscribe(peer, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "UNSUBSCRIBE %s sent (request %d)\n", args[0], id)
	return nil
}

func (s *Shell) cmdProfiles(args []string) error {
	out := s.out
	if len(args) == 1 && args[0] == "local" {
		if err := s.needResponder(); err != nil {
			return err
		}
		printProfiles(out, s.responder.LocalProfiles())
		return nil
	}

	peer, err := s.target()
	if err != nil {
		return err
	}
	for _, c := range s.initiator.Peers() {
		if c.MUID != peer {
			continue
		}
		if len(c.Profiles) == 0 {
			// Nothing cached yet; the reply arrives asynchronously.
			if err := s.initiator.RequestProfiles(peer); err != nil {
				return err
			}
			fmt.Fprintln(out, "Profile Inquiry sent")
			return nil
		}
		printProfiles(out, c.Profiles)
		for key, data := range c.ProfileDetails {
			fmt.Fprintf(out, "  details %s target %s: % X\n", key.ID, targetName(key.Target), data)
		}
	}
	return nil
}

func (s *Shell) cmdRemoteProfile(args []string) error {
	if len(args) < 2 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("%w: profile on|off <id>", ErrUsage)
	}
	id, err := parseProfileID(args[1:])
	if err != nil {
		return err
	}
	peer, err := s.target()
	if err != nil {
		return err
	}
	return s.initiator.SetProfile(peer, id, args[0] == "on")
}

func (s *Shell) cmdDetails(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: details <id> [target]", ErrUsage)
	}
	target := profile.TargetPort
	id, err := parseProfileID(args)
	if err != nil && len(args) > 1 {
		// trailing channel number
		t, terr := strconv.ParseUint(args[len(args)-1], 10, 8)
		if terr != nil || t > 15 {
			return err
		}
		target = byte(t)
		id, err = parseProfileID(args[:len(args)-1])
	}
	if err != nil {
		return err
	}
	peer, err := s.target()
	if err != nil {
		return err
	}
	return s.initiator.RequestProfileDetails(peer, id, target)
}

func (s *Shell) cmdLocalProfile(args []string, enabled bool) error {
	if err := s.needResponder(); err != nil {
		return err
	}
	id, err := parseProfileID(args)
	if err != nil {
		return err
	}
	if enabled {
		err = s.responder.EnableProfile(id)
	} else {
		err = s.responder.DisableProfile(id)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Profile %s enabled=%v\n", id, enabled)
	return nil
}

func (s *Shell) cmdTouch(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: touch <resource> <json>", ErrUsage)
	}
	if err := s.needResponder(); err != nil {
		return err
	}
	return s.responder.Touch(args[0], []byte(strings.Join(args[1:], " ")))
}

func (s *Shell) cmdSubscriptions() error {
	if err := s.needResponder(); err != nil {
		return err
	}
	subs := s.responder.Subscriptions()
	if len(subs) == 0 {
		fmt.Fprintln(s.out, "No subscriptions")
		return nil
	}
	for _, sub := range subs {
		fmt.Fprintf(s.out, "  %-8s %s %s\n", sub.ID, sub.Peer, midici.ResourceKey(sub.Resource, sub.ResID))
	}
	return nil
}

func (s *Shell) cmdEndpoint() error {
	if err := s.needInitiator(); err != nil {
		return err
	}
	t, state := s.initiator.TargetEndpoint()
	out := s.out
	fmt.Fprintf(out, "State:    %s\n", state)
	if t.Name == "" && t.NumFunctionBlocks == 0 && !t.MIDI1 && !t.MIDI2 {
		return nil
	}
	fmt.Fprintf(out, "Name:     %s\n", t.Name)
	fmt.Fprintf(out, "Product:  %s\n", t.ProductInstanceID)
	fmt.Fprintf(out, "UMP:      %s\n", t.UMPVersion)
	fmt.Fprintf(out, "Protocol: %s (MIDI1=%v MIDI2=%v RxJR=%v TxJR=%v)\n", t.Protocol, t.MIDI1, t.MIDI2, t.ReceiveJR, t.TransmitJR)
	fmt.Fprintf(out, "Blocks:   %d announced, %d received (static=%v)\n", t.NumFunctionBlocks, len(t.FunctionBlocks), t.Static)
	for _, fb := range t.FunctionBlocks {
		fmt.Fprintf(out, "  [%d] %-16s groups %d-%d %s %s\n",
			fb.Number, fb.Name, fb.GroupIndex, int(fb.GroupIndex)+int(fb.GroupCount)-1, fb.Direction, fb.UIHint)
	}
	return nil
}

func printProfiles(out io.Writer, entries []profile.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No profiles")
		return
	}
	for _, e := range entries {
		state := "disabled"
		if e.Enabled {
			state = "enabled"
		}
		fmt.Fprintf(out, "  %s  %-6s %s\n", e.ID, targetName(e.Target), state)
	}
}

func targetName(t byte) string {
	if t == profile.TargetPort {
		return "port"
	}
	return fmt.Sprintf("ch%d", t+1)
}

// resolvePeer accepts a list index or a hex MUID.
func resolvePeer(arg string, peers []midici.Connection) (muid.MUID, error) {
	if n, err := strconv.Atoi(arg); err == nil && n >= 0 && n < len(peers) {
		return peers[n].MUID, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(arg), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNoPeer, arg)
	}
	for _, c := range peers {
		if c.MUID == muid.MUID(v) {
			return c.MUID, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNoPeer, muid.MUID(v))
}

// parseProfileID accepts "7E:21:00:01:01", "7E2100 0101" and similar.
func parseProfileID(args []string) (profile.ID, error) {
	s := strings.Join(args, "")
	s = strings.NewReplacer(":", "", " ", "", "-", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return profile.ID{}, fmt.Errorf("%w: %v", ErrBadProfile, err)
	}
	if len(b) > profile.IDSize {
		return profile.ID{}, fmt.Errorf("%w: %d bytes", ErrBadProfile, len(b))
	}
	id, err := profile.ParseID(b)
	if err != nil {
		return profile.ID{}, fmt.Errorf("%w: %v", ErrBadProfile, err)
	}
	return id, nil
}
