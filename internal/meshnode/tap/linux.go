//go:build linux

package tap

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"unsafe"

	"meshnode/internal/meshnode/domain"
)

const (
	tunsetiff = 0x400454ca
	iffTap    = 0x0002
	iffNoPI   = 0x1000

	ethernetHeaderLen = 14
)

// LinuxTap is a kernel TAP device. Address and route changes go through the
// ip(8) command; frames go through the character device.
type LinuxTap struct {
	name    string
	file    *os.File
	onFrame FrameHandler

	mu         sync.Mutex
	enabled    bool
	closed     bool
	ips        map[[3]uint64]domain.InetAddress
	routes     map[[6]uint64]domain.Route
	handlers   []MulticastGroupHandler
	lastGroups map[[2]uint64]domain.MulticastGroup
}

// NewLinux creates and brings up a TAP device with the given name and MTU.
// Frames arriving on the device are delivered to onFrame from a dedicated
// reader goroutine.
func NewLinux(name string, mtu int, onFrame FrameHandler) (*LinuxTap, error) {
	f, err := os.OpenFile("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/net/tun: %w", err)
	}

	var req [40]byte
	copy(req[:15], name)
	binary.LittleEndian.PutUint16(req[16:18], iffTap|iffNoPI)
	if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), tunsetiff, uintptr(unsafe.Pointer(&req[0]))); errno != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("TUNSETIFF %s: %w", name, errno)
	}
	actual := string(req[:15])
	if i := strings.IndexByte(actual, 0); i >= 0 {
		actual = actual[:i]
	}

	t := &LinuxTap{
		name:       actual,
		file:       f,
		onFrame:    onFrame,
		enabled:    true,
		ips:        make(map[[3]uint64]domain.InetAddress),
		routes:     make(map[[6]uint64]domain.Route),
		lastGroups: make(map[[2]uint64]domain.MulticastGroup),
	}

	if err := runIP("link", "set", "dev", actual, "up", "mtu", strconv.Itoa(mtu)); err != nil {
		_ = f.Close()
		return nil, err
	}

	go t.readLoop(mtu)
	return t, nil
}

func runIP(args ...string) error {
	out, err := exec.Command("ip", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ip %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (t *LinuxTap) readLoop(mtu int) {
	buf := make([]byte, mtu+ethernetHeaderLen)
	for {
		n, err := t.file.Read(buf)
		if err != nil {
			return // device closed
		}
		if n < ethernetHeaderLen {
			continue
		}

		t.mu.Lock()
		deliver := t.enabled && !t.closed
		t.mu.Unlock()
		if !deliver || t.onFrame == nil {
			continue
		}

		dst := macFromBytes(buf[0:6])
		src := macFromBytes(buf[6:12])
		etherType := binary.BigEndian.Uint16(buf[12:14])
		data := make([]byte, n-ethernetHeaderLen)
		copy(data, buf[ethernetHeaderLen:n])
		t.onFrame(src, dst, etherType, 0, data)
	}
}

func (t *LinuxTap) Type() string { return "linux" }

func (t *LinuxTap) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *LinuxTap) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *LinuxTap) AddIP(ip *domain.InetAddress) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTapClosed
	}
	t.ips[ip.Key()] = *ip
	t.mu.Unlock()
	return runIP("addr", "replace", ip.String(), "dev", t.name)
}

func (t *LinuxTap) RemoveIP(ip *domain.InetAddress) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTapClosed
	}
	delete(t.ips, ip.Key())
	t.mu.Unlock()
	return runIP("addr", "del", ip.String(), "dev", t.name)
}

func (t *LinuxTap) IPs() ([]net.IPNet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTapClosed
	}
	out := make([]net.IPNet, 0, len(t.ips))
	for _, ip := range t.ips {
		out = append(out, *ip.Net())
	}
	return out, nil
}

func (t *LinuxTap) AddRoute(r *domain.Route) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTapClosed
	}
	t.routes[r.Key()] = *r
	t.mu.Unlock()

	args := []string{"route", "replace", r.Target.String(), "dev", t.name}
	if r.Via != nil {
		args = append(args, "via", r.Via.String())
	}
	if r.Metric > 0 {
		args = append(args, "metric", strconv.Itoa(int(r.Metric)))
	}
	return runIP(args...)
}

func (t *LinuxTap) RemoveRoute(r *domain.Route) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTapClosed
	}
	delete(t.routes, r.Key())
	t.mu.Unlock()
	return runIP("route", "del", r.Target.String(), "dev", t.name)
}

func (t *LinuxTap) DeviceName() string { return t.name }

func (t *LinuxTap) PutFrame(src, dst domain.MAC, etherType uint16, vlanID uint16, data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTapClosed
	}
	enabled := t.enabled
	t.mu.Unlock()
	if !enabled {
		return nil
	}

	frame := make([]byte, ethernetHeaderLen+len(data))
	macToBytes(frame[0:6], dst)
	macToBytes(frame[6:12], src)
	binary.BigEndian.PutUint16(frame[12:14], etherType)
	copy(frame[ethernetHeaderLen:], data)
	_, err := t.file.Write(frame)
	return err
}

func (t *LinuxTap) AddMulticastGroupChangeHandler(handler MulticastGroupHandler) {
	t.mu.Lock()
	t.handlers = append(t.handlers, handler)
	t.mu.Unlock()
}

func (t *LinuxTap) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.enabled = false
	t.mu.Unlock()
	return t.file.Close()
}

// ScanMulticastGroups re-reads the kernel's multicast membership for this
// device and fires the change handlers for any difference from the previous
// scan. Called periodically by the daemon; the kernel offers no push
// notification for this.
func (t *LinuxTap) ScanMulticastGroups() error {
	current, err := readDeviceMulticast(t.name)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTapClosed
	}
	previous := t.lastGroups
	t.lastGroups = current
	handlers := make([]MulticastGroupHandler, len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.Unlock()

	for k, g := range current {
		if _, had := previous[k]; !had {
			group := g
			for _, h := range handlers {
				h(true, &group)
			}
		}
	}
	for k, g := range previous {
		if _, have := current[k]; !have {
			group := g
			for _, h := range handlers {
				h(false, &group)
			}
		}
	}
	return nil
}

// readDeviceMulticast parses /proc/net/dev_mcast, whose rows are
// "index name refcount global address-hex".
func readDeviceMulticast(device string) (map[[2]uint64]domain.MulticastGroup, error) {
	f, err := os.Open("/proc/net/dev_mcast")
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	groups := make(map[[2]uint64]domain.MulticastGroup)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[1] != device {
			continue
		}
		raw, err := hex.DecodeString(fields[4])
		if err != nil || len(raw) != 6 {
			continue
		}
		g := domain.MulticastGroup{MAC: macFromBytes(raw)}
		groups[g.Key()] = g
	}
	return groups, scanner.Err()
}

func macFromBytes(b []byte) domain.MAC {
	return domain.MAC(uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5]))
}

func macToBytes(dst []byte, m domain.MAC) {
	dst[0] = byte(m >> 40)
	dst[1] = byte(m >> 32)
	dst[2] = byte(m >> 24)
	dst[3] = byte(m >> 16)
	dst[4] = byte(m >> 8)
	dst[5] = byte(m)
}

// NewOS creates the platform tap device.
func NewOS(name string, mtu int, onFrame FrameHandler) (Tap, error) {
	return NewLinux(name, mtu, onFrame)
}

var _ Tap = (*LinuxTap)(nil)
