package traffic

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoStopCondition is returned for a job with neither a count nor a duration
	ErrNoStopCondition = errors.New("job needs a count or a duration")
	// ErrNoTargets is returned for a job without targets
	ErrNoTargets = errors.New("job has no targets")
	// ErrUnknownProtocol is returned for a protocol the dispatcher cannot run
	ErrUnknownProtocol = errors.New("unknown protocol")
)

const (
	// DefaultUnitTimeout bounds one unit of network work
	DefaultUnitTimeout = 10 * time.Second
	// DefaultFileSize is the synthetic upload size for transfer protocols
	DefaultFileSize int64 = 1 << 20
	// UDPPayloadSize is the datagram size of the UDP flood
	UDPPayloadSize = 1024
)

// Protocol identifies the kind of traffic a job generates
type Protocol int

const (
	ProtocolDNS Protocol = iota + 1
	ProtocolUDP
	ProtocolHTTPS
	ProtocolFTP
	ProtocolFTPS
	ProtocolSFTP
)

var protocolNames = map[Protocol]string{
	ProtocolDNS:   "dns",
	ProtocolUDP:   "udp",
	ProtocolHTTPS: "https",
	ProtocolFTP:   "ftp",
	ProtocolFTPS:  "ftps",
	ProtocolSFTP:  "sftp",
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

// Protocols returns every supported protocol in declaration order
func Protocols() []Protocol {
	return []Protocol{ProtocolDNS, ProtocolUDP, ProtocolHTTPS, ProtocolFTP, ProtocolFTPS, ProtocolSFTP}
}

// ParseProtocol resolves a protocol by name, case-insensitively
func ParseProtocol(s string) (Protocol, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for p, name := range protocolNames {
		if name == want {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
}

// Transfer holds the upload settings shared by FTP, FTPS and SFTP
type Transfer struct {
	Port      int
	User      string
	Password  string
	RemoteDir string
	FileSize  int64
}

// Job is one traffic generation task.
//
// With Duration > 0 every worker repeats units until the deadline and Count is
// ignored. Otherwise exactly Count units are spread over the workers.
type Job struct {
	Protocol    Protocol
	Targets     []string
	Count       int
	Duration    time.Duration
	Concurrency int
	RatePerSec  float64 // 0 means unlimited
	Timeout     time.Duration

	Port      int    // UDP destination port
	IPv6      bool   // UDP socket family
	DNSServer string // host:port, empty uses the system resolver
	CurlPath  string // request tool for HTTPS
	Transfer  Transfer
}

// Validate checks the job can be executed
func (j Job) Validate() error {
	if _, ok := protocolNames[j.Protocol]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProtocol, j.Protocol)
	}
	if j.Count < 0 {
		return fmt.Errorf("count cannot be negative")
	}
	if j.Duration < 0 {
		return fmt.Errorf("duration cannot be negative")
	}
	if j.Count == 0 && j.Duration == 0 {
		return ErrNoStopCondition
	}
	if len(j.Targets) == 0 {
		return ErrNoTargets
	}
	if j.Concurrency < 0 {
		return fmt.Errorf("concurrency cannot be negative")
	}
	if j.RatePerSec < 0 {
		return fmt.Errorf("rate cannot be negative")
	}
	if j.Protocol == ProtocolUDP && (j.Port <= 0 || j.Port > 65535) {
		return fmt.Errorf("invalid UDP port %d", j.Port)
	}
	return nil
}

// workers returns the effective pool size
func (j Job) workers() int {
	n := j.Concurrency
	if n <= 0 {
		n = 1
	}
	// A counted job never needs more workers than units
	if j.Duration == 0 && j.Count > 0 && n > j.Count {
		n = j.Count
	}
	return n
}

func (j Job) unitTimeout() time.Duration {
	if j.Timeout <= 0 {
		return DefaultUnitTimeout
	}
	return j.Timeout
}
