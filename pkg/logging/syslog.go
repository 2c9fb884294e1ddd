package logging

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Syslog severity levels (RFC 3164).
const (
	SyslogError   = 3
	SyslogWarning = 4
	SyslogNotice  = 5
	SyslogInfo    = 6
	SyslogDebug   = 7
)

// Syslog facilities.
const (
	FacilityKern   = 0
	FacilityUser   = 1
	FacilityDaemon = 3
	FacilityLocal0 = 16
	FacilityLocal7 = 23
)

// DefaultTag is the program name written in every message.
const DefaultTag = "homegw"

// SyslogClient sends UDP syslog messages (RFC 3164).
type SyslogClient struct {
	conn        net.Conn
	hostname    string
	Tag         string
	Facility    int
	MinSeverity int // 0 = no filter, else the least urgent severity sent
}

// NewSyslogClient creates a UDP syslog client connected to host:port.
func NewSyslogClient(host string, port int) (*SyslogClient, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial syslog %s: %w", addr, err)
	}
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = DefaultTag
	}
	return &SyslogClient{
		conn:     conn,
		hostname: hostname,
		Tag:      DefaultTag,
		Facility: FacilityDaemon,
	}, nil
}

// Send sends a syslog message with the given severity.
func (s *SyslogClient) Send(severity int, msg string) error {
	priority := s.Facility*8 + severity
	ts := time.Now().Format(time.Stamp) // "Jan _2 15:04:05"
	line := fmt.Sprintf("<%d>%s %s %s[%d]: %s", priority, ts, s.hostname, s.Tag, os.Getpid(), msg)
	_, err := s.conn.Write([]byte(line))
	return err
}

// ShouldSend reports whether severity passes this client's filter.
// Lower numbers are more urgent.
func (s *SyslogClient) ShouldSend(severity int) bool {
	return s.MinSeverity == 0 || severity <= s.MinSeverity
}

// ParseSeverity converts a severity name to its numeric value.
// Returns 0 (no filter) for unrecognized names.
func ParseSeverity(name string) int {
	switch strings.ToLower(name) {
	case "error", "err":
		return SyslogError
	case "warning", "warn":
		return SyslogWarning
	case "notice":
		return SyslogNotice
	case "info":
		return SyslogInfo
	case "debug":
		return SyslogDebug
	default:
		return 0
	}
}

// ParseFacility converts a facility name to its numeric value.
// Unrecognized names map to daemon.
func ParseFacility(name string) int {
	switch name {
	case "kern":
		return FacilityKern
	case "user":
		return FacilityUser
	case "daemon", "":
		return FacilityDaemon
	}
	if n, ok := strings.CutPrefix(name, "local"); ok {
		if i, err := strconv.Atoi(n); err == nil && i >= 0 && i <= 7 {
			return FacilityLocal0 + i
		}
	}
	return FacilityDaemon
}

// Close closes the underlying connection.
func (s *SyslogClient) Close() error {
	return s.conn.Close()
}
