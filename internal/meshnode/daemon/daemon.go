// Package daemon assembles a running node: UDP transport, tap devices, the
// control API and the background task loop around one core.Node. This is the
// only package that reads the wall clock.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"meshnode/internal/meshnode/api"
	"meshnode/internal/meshnode/core"
	"meshnode/internal/meshnode/domain"
	"meshnode/internal/meshnode/state"
	"meshnode/internal/meshnode/tap"
	"meshnode/pkg/config"
	"meshnode/pkg/logger"
)

// multicastScanInterval is how often tap devices are polled for OS-level
// multicast membership changes.
const multicastScanInterval = 10 * time.Second

// multicastScanner is implemented by tap devices that need periodic polling
// to observe group changes.
type multicastScanner interface {
	ScanMulticastGroups() error
}

// Daemon is one running meshnode process.
type Daemon struct {
	cfg    *config.Config
	log    *logger.Logger
	store  state.Store
	conn   *net.UDPConn
	httpd  *http.Server
	bgKick chan struct{}

	mu   sync.Mutex
	node *core.Node
	taps []tap.Tap
}

// New opens the state store and UDP socket, builds the engine and restores
// its networks. Run starts the event loops.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	store, err := state.Open(cfg.State.Backend, cfg.State.Dir)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.Node.PrimaryPort})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("bind udp port %d: %w", cfg.Node.PrimaryPort, err)
	}

	d := &Daemon{
		cfg:    cfg,
		log:    log.WithField("component", "daemon"),
		store:  store,
		conn:   conn,
		bgKick: make(chan struct{}, 1),
	}

	hooks := core.Hooks{
		SendWirePacket: d.sendWirePacket,
		CreateTap:      d.createTap,
		Event:          d.handleEvent,
	}
	node, err := core.New(cfg, store, hooks, log, nowMillis())
	if err != nil {
		_ = conn.Close()
		_ = store.Close()
		return nil, err
	}

	d.mu.Lock()
	d.node = node
	d.mu.Unlock()

	node.SetInterfaceAddresses(d.scanInterfaces())

	d.httpd = &http.Server{
		Addr:         cfg.API.BindAddress,
		Handler:      api.NewServer(node, log),
		ReadTimeout:  cfg.API.Timeout,
		WriteTimeout: cfg.API.Timeout,
	}
	return d, nil
}

// Node returns the embedded engine.
func (d *Daemon) Node() *core.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.node
}

// Run serves until ctx is cancelled, then shuts everything down.
func (d *Daemon) Run(ctx context.Context) error {
	node := d.Node()

	go d.readLoop(node)
	go d.backgroundLoop(ctx, node)
	go d.multicastScanLoop(ctx)

	apiErr := make(chan error, 1)
	go func() {
		d.log.Info("control api listening", "address", d.cfg.API.BindAddress)
		if err := d.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiErr <- err
		}
	}()
	d.log.Info("node running", "port", d.cfg.Node.PrimaryPort, "address", node.Address().String())

	select {
	case <-ctx.Done():
	case err := <-apiErr:
		d.shutdown()
		return err
	}
	d.shutdown()
	return nil
}

func (d *Daemon) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = d.httpd.Shutdown(shutdownCtx)
	_ = d.conn.Close()
	d.Node().Close()
	_ = d.store.Close()
	d.log.Info("daemon stopped")
}

func (d *Daemon) sendWirePacket(localSocket int64, remote netip.AddrPort, data []byte, ttl int) bool {
	_, err := d.conn.WriteToUDPAddrPort(data, remote)
	return err == nil
}

func (d *Daemon) createTap(nwid domain.NetworkID) (tap.Tap, error) {
	t, err := tap.NewOS(deviceName(nwid), domain.DefaultMTU, func(src, dst domain.MAC, etherType uint16, vlanID uint16, data []byte) {
		if node := d.Node(); node != nil {
			now := nowMillis()
			if _, deadline := node.ProcessVirtualNetworkFrame(now, nwid, src, dst, etherType, vlanID, data); deadline <= now {
				d.kickBackground()
			}
		}
	})
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.taps = append(d.taps, t)
	d.mu.Unlock()
	return t, nil
}

func (d *Daemon) handleEvent(ev domain.Event, payload []byte) {
	if len(payload) > 0 {
		d.log.Debug("engine event", "event", ev.String(), "detail", string(payload))
	} else {
		d.log.Debug("engine event", "event", ev.String())
	}
}

func (d *Daemon) readLoop(node *core.Node) {
	buf := make([]byte, 16384)
	for {
		n, addr, err := d.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return // socket closed on shutdown
		}
		now := nowMillis()
		if _, deadline := node.ProcessWirePacket(now, -1, addr, buf[:n]); deadline <= now {
			d.kickBackground()
		}
	}
}

// kickBackground wakes the background loop before its timer fires, for
// deadlines ingress pulled in. Non-blocking; an already pending kick is
// enough.
func (d *Daemon) kickBackground() {
	select {
	case d.bgKick <- struct{}{}:
	default:
	}
}

func (d *Daemon) backgroundLoop(ctx context.Context, node *core.Node) {
	maxInterval := d.cfg.Node.BackgroundInterval
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-d.bgKick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		now := nowMillis()
		deadline := node.ProcessBackgroundTasks(now)
		delay := time.Duration(deadline-now) * time.Millisecond
		if delay > maxInterval {
			delay = maxInterval
		}
		if delay <= 0 {
			delay = time.Millisecond
		}
		timer.Reset(delay)
	}
}

func (d *Daemon) multicastScanLoop(ctx context.Context) {
	ticker := time.NewTicker(multicastScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		d.mu.Lock()
		taps := append([]tap.Tap(nil), d.taps...)
		d.mu.Unlock()
		for _, t := range taps {
			if scanner, ok := t.(multicastScanner); ok {
				if err := scanner.ScanMulticastGroups(); err != nil && !errors.Is(err, tap.ErrTapClosed) {
					d.log.Debug("multicast scan failed", "device", t.DeviceName(), "error", err)
				}
			}
		}
	}
}

// scanInterfaces enumerates usable physical addresses for overlay traffic,
// honoring the configured interface prefix blacklist.
func (d *Daemon) scanInterfaces() []netip.AddrPort {
	ifaces, err := net.Interfaces()
	if err != nil {
		d.log.Warn("interface scan failed", "error", err)
		return nil
	}

	port := uint16(d.cfg.Node.PrimaryPort)
	var out []netip.AddrPort
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if d.blacklisted(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipNet.IP)
			if !ok {
				continue
			}
			ip = ip.Unmap()
			if ip.IsLinkLocalUnicast() || ip.IsLoopback() {
				continue
			}
			out = append(out, netip.AddrPortFrom(ip, port))
		}
	}
	return out
}

func (d *Daemon) blacklisted(name string) bool {
	for _, prefix := range d.cfg.Node.InterfacePrefixBlacklist {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// deviceName derives a stable OS device name from a network ID, short enough
// for IFNAMSIZ.
func deviceName(nwid domain.NetworkID) string {
	h := fnv.New64a()
	_, _ = h.Write(nwid.Bytes())
	return fmt.Sprintf("mesh%010x", h.Sum64()&0xffffffffff)
}

func nowMillis() int64 { return time.Now().UnixMilli() }
