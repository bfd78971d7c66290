package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/studiowebux/agentstress/internal/agent"
	"github.com/studiowebux/agentstress/internal/logging"
	"github.com/studiowebux/agentstress/internal/traffic"
	"github.com/studiowebux/agentstress/internal/urlcheck"
	"github.com/studiowebux/agentstress/internal/validate"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every configuration error that aborts startup
var ErrInvalidConfig = errors.New("invalid config")

// DefaultToolFile is the tool configuration read when --config is not given
const DefaultToolFile = "config.yaml"

// Limits applied to every traffic section
const (
	MaxDurationSec = 60
	MaxCount       = 100000
	MinConcurrency = 10
	MaxConcurrency = 1024
)

// Section holds the settings shared by every traffic generator
type Section struct {
	Enable      bool     `yaml:"enable"`
	Count       int      `yaml:"count"`
	DurationSec int      `yaml:"duration_sec"`
	Concurrency int      `yaml:"concurrent_conn"`
	RatePerSec  float64  `yaml:"rate_per_sec,omitempty"`
	TimeoutSec  int      `yaml:"timeout_sec,omitempty"`
	Targets     []string `yaml:"targets,omitempty"`
	TargetsFile string   `yaml:"targets_file,omitempty"`
}

// DNSSection floods name lookups
type DNSSection struct {
	Section `yaml:",inline"`
	Server  string `yaml:"server,omitempty"`
}

// UDPSection floods datagrams at one address
type UDPSection struct {
	Section    `yaml:",inline"`
	TargetIP   string `yaml:"target_ip"`
	TargetIPv6 string `yaml:"target_ipv6,omitempty"`
	TargetPort int    `yaml:"target_port"`
}

// HTTPSSection drives curl against URL lists
type HTTPSSection struct {
	Section  `yaml:",inline"`
	CurlPath string `yaml:"curl_path,omitempty"`
}

// TransferSection uploads synthetic files over FTP, FTPS or SFTP
type TransferSection struct {
	Section   `yaml:",inline"`
	Port      int    `yaml:"port,omitempty"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	RemoteDir string `yaml:"remote_dir,omitempty"`
	FileSize  int64  `yaml:"file_size,omitempty"`
}

// ABSection delegates HTTP load to the ab tool
type ABSection struct {
	Enable      bool     `yaml:"enable"`
	TotalConn   int      `yaml:"total_conn"`
	Concurrency int      `yaml:"concurrent_conn"`
	DurationSec int      `yaml:"duration_sec"`
	KeepAlive   bool     `yaml:"keep_alive,omitempty"`
	Path        string   `yaml:"path,omitempty"`
	TargetURLs  []string `yaml:"target_urls"`
}

// TrafficGen groups the traffic generators
type TrafficGen struct {
	DNS   DNSSection      `yaml:"dns"`
	UDP   UDPSection      `yaml:"udp"`
	HTTPS HTTPSSection    `yaml:"https"`
	FTP   TransferSection `yaml:"ftp"`
	FTPS  TransferSection `yaml:"ftps"`
	SFTP  TransferSection `yaml:"sftp"`
	AB    ABSection       `yaml:"ab"`
}

// Agent locates the files of the agent under test
type Agent struct {
	LogPath           string `yaml:"log_path"`
	ExceptionPath     string `yaml:"exception_path"`
	SteeringPath      string `yaml:"steering_path"`
	SteeringModeQuery string `yaml:"steering_mode_query,omitempty"`
}

// Validation tunes post-traffic validation
type Validation struct {
	Enable           bool     `yaml:"enable"`
	FlushDelaySec    int      `yaml:"flush_delay_sec"`
	Rounds           int      `yaml:"rounds"`
	RoundIntervalSec int      `yaml:"round_interval_sec"`
	RecheckDelaySec  int      `yaml:"recheck_delay_sec"`
	TrustedIssuers   []string `yaml:"trusted_issuers"`
	CurlProcess      string   `yaml:"curl_process"`
	TimeBufferSec    int      `yaml:"time_buffer_sec"`
}

// Tool is the stress harness configuration file
type Tool struct {
	LoopTimes       int    `yaml:"loop_times"`
	StopSvcInterval int    `yaml:"stop_svc_interval"`
	StartupWaitSec  int    `yaml:"startup_wait_sec"`
	SettleSec       int    `yaml:"settle_sec"`
	RetryWaitSec    int    `yaml:"retry_wait_sec"`
	StopTimeoutSec  int    `yaml:"stop_timeout_sec"`
	CooldownSec     int    `yaml:"cooldown_sec"`
	ServiceName     string `yaml:"service_name"`

	// Feature toggling and sleep cycles run every N iterations, 0 disables
	ToggleInterval   int `yaml:"toggle_interval"`
	SleepInterval    int `yaml:"sleep_interval"`
	SleepDurationSec int `yaml:"sleep_duration_sec"`

	LogLevel string `yaml:"log_level,omitempty"`
	LogJSON  bool   `yaml:"log_json,omitempty"`

	Agent      Agent      `yaml:"agent"`
	Validation Validation `yaml:"validation"`
	TrafficGen TrafficGen `yaml:"traffic_gen"`

	file string
}

// DefaultTool returns the configuration used for every key a file omits
func DefaultTool() *Tool {
	return &Tool{
		LoopTimes:        1000,
		StopSvcInterval:  1,
		StartupWaitSec:   30,
		SettleSec:        5,
		RetryWaitSec:     30,
		StopTimeoutSec:   30,
		CooldownSec:      30,
		SleepDurationSec: 60,
		ServiceName:      agent.DefaultServiceName,
		Agent: Agent{
			LogPath:       defaultAgentFile("Logs", "nsdebuglog.log"),
			ExceptionPath: defaultAgentFile("nsexception.json"),
			SteeringPath:  defaultAgentFile("nssteering.json"),
		},
		Validation: Validation{
			Enable:           true,
			FlushDelaySec:    5,
			Rounds:           validate.DefaultRounds,
			RoundIntervalSec: int(validate.DefaultRoundInterval / time.Second),
			RecheckDelaySec:  int(validate.DefaultRecheckDelay / time.Second),
			TrustedIssuers:   append([]string(nil), validate.DefaultTrustedIssuers...),
			CurlProcess:      "curl.exe",
		},
		TrafficGen: TrafficGen{
			DNS: DNSSection{Section: Section{Count: 500, Concurrency: 20}},
			UDP: UDPSection{
				Section:    Section{DurationSec: 10, Concurrency: 1},
				TargetIP:   "127.0.0.1",
				TargetPort: 8080,
			},
			HTTPS: HTTPSSection{Section: Section{Count: 1000, Concurrency: 50}},
			FTP:   TransferSection{Section: Section{Count: 10, Concurrency: 10}},
			FTPS:  TransferSection{Section: Section{Count: 10, Concurrency: 10}},
			SFTP:  TransferSection{Section: Section{Count: 10, Concurrency: 10}},
			AB: ABSection{
				Enable:     true,
				TotalConn:  10000,
				TargetURLs: []string{"https://google.com"},
			},
		},
	}
}

func defaultAgentFile(parts ...string) string {
	base := os.Getenv("ProgramData")
	if base == "" {
		base = `C:\ProgramData`
	}
	return filepath.Join(append([]string{base, "netskope", "stagent"}, parts...)...)
}

// LoadTool reads a YAML (or JSON) tool config over the defaults, then
// normalizes it. Out-of-range values are clamped with a warning; values that
// cannot be repaired return an error wrapping ErrInvalidConfig.
func LoadTool(file string, log *logrus.Entry) (*Tool, error) {
	if log == nil {
		log = logging.Discard()
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrInvalidConfig, file, err)
	}
	t, err := ParseTool(data, log)
	if err != nil {
		return nil, err
	}
	t.file = file
	if err := t.resolveTargetFiles(filepath.Dir(file)); err != nil {
		return nil, err
	}
	log.WithField("file", file).Info("Loaded configuration")
	return t, nil
}

// ParseTool decodes and normalizes tool config content
func ParseTool(data []byte, log *logrus.Entry) (*Tool, error) {
	if log == nil {
		log = logging.Discard()
	}
	t := DefaultTool()
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := t.normalize(log); err != nil {
		return nil, err
	}
	return t, nil
}

// File returns the path the config was loaded from
func (t *Tool) File() string {
	return t.file
}

func (t *Tool) normalize(log *logrus.Entry) error {
	if t.LoopTimes <= 0 {
		return fmt.Errorf("%w: loop_times must be greater than 0, got %d", ErrInvalidConfig, t.LoopTimes)
	}
	if t.StopSvcInterval < 0 {
		return fmt.Errorf("%w: stop_svc_interval cannot be negative, got %d", ErrInvalidConfig, t.StopSvcInterval)
	}
	for name, v := range map[string]int{
		"startup_wait_sec": t.StartupWaitSec,
		"settle_sec":       t.SettleSec,
		"retry_wait_sec":   t.RetryWaitSec,
		"stop_timeout_sec": t.StopTimeoutSec,
		"cooldown_sec":     t.CooldownSec,
		"toggle_interval":  t.ToggleInterval,
		"sleep_interval":   t.SleepInterval,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s cannot be negative, got %d", ErrInvalidConfig, name, v)
		}
	}
	if t.ServiceName == "" {
		t.ServiceName = agent.DefaultServiceName
	}
	if t.SleepInterval > 0 && (t.SleepDurationSec < 60 || t.SleepDurationSec > 600) {
		log.Warnf("sleep_duration_sec %d out of range [60, 600]. Resetting to 60.", t.SleepDurationSec)
		t.SleepDurationSec = 60
	}

	for _, p := range []*string{&t.Agent.LogPath, &t.Agent.ExceptionPath, &t.Agent.SteeringPath} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		*p = expanded
	}

	v := &t.Validation
	if v.Rounds <= 0 {
		log.Warnf("validation rounds %d < 1. Resetting to %d.", v.Rounds, validate.DefaultRounds)
		v.Rounds = validate.DefaultRounds
	}
	if v.FlushDelaySec < 0 || v.RoundIntervalSec < 0 || v.RecheckDelaySec < 0 || v.TimeBufferSec < 0 {
		return fmt.Errorf("%w: validation delays cannot be negative", ErrInvalidConfig)
	}
	if v.CurlProcess == "" {
		v.CurlProcess = "curl.exe"
	}

	tg := &t.TrafficGen
	tg.DNS.Section.normalize("DNS", log)
	tg.UDP.Section.normalize("UDP", log)
	tg.HTTPS.Section.normalize("HTTPS", log)
	tg.FTP.Section.normalize("FTP", log)
	tg.FTPS.Section.normalize("FTPS", log)
	tg.SFTP.Section.normalize("SFTP", log)

	if tg.UDP.Enable {
		if tg.UDP.TargetPort <= 0 || tg.UDP.TargetPort > 65535 {
			return fmt.Errorf("%w: udp target_port %d out of range", ErrInvalidConfig, tg.UDP.TargetPort)
		}
		if tg.UDP.TargetIP == "" && tg.UDP.TargetIPv6 == "" {
			return fmt.Errorf("%w: udp needs target_ip or target_ipv6", ErrInvalidConfig)
		}
	}

	ab := &tg.AB
	if !ab.Enable {
		ab.TotalConn = 0
		ab.DurationSec = 0
	} else {
		ab.DurationSec, ab.TotalConn = capDurationCount("AB", ab.DurationSec, ab.TotalConn, log)
		ab.Concurrency = capConcurrency("AB", ab.Concurrency, log)
		if ab.DurationSec > 0 && ab.TotalConn <= 0 {
			ab.TotalConn = 1
		}
		if len(ab.TargetURLs) == 0 {
			ab.TargetURLs = []string{"https://google.com"}
		}
	}
	return nil
}

// normalize applies the caps to an enabled section and disables it when it
// has no stop condition
func (s *Section) normalize(name string, log *logrus.Entry) {
	if !s.Enable {
		return
	}
	s.DurationSec, s.Count = capDurationCount(name, s.DurationSec, s.Count, log)
	s.Concurrency = capConcurrency(name, s.Concurrency, log)
	if s.DurationSec <= 0 && s.Count <= 0 {
		log.Warnf("Both duration and count are 0 for %s. Disabling.", name)
		s.Enable = false
	}
}

func capDurationCount(name string, duration, count int, log *logrus.Entry) (int, int) {
	if duration > MaxDurationSec {
		log.Warnf("%s duration %d > %d. Capping at %d.", name, duration, MaxDurationSec, MaxDurationSec)
		duration = MaxDurationSec
	}
	if count > MaxCount {
		log.Warnf("%s count %d > %d. Capping at %d.", name, count, MaxCount, MaxCount)
		count = MaxCount
	}
	return duration, count
}

func capConcurrency(name string, concurrency int, log *logrus.Entry) int {
	if concurrency < MinConcurrency {
		log.Warnf("%s concurrency %d < %d. Resetting to %d.", name, concurrency, MinConcurrency, MinConcurrency)
		return MinConcurrency
	}
	if concurrency > MaxConcurrency {
		log.Warnf("%s concurrency %d > %d. Capping at %d.", name, concurrency, MaxConcurrency, MaxConcurrency)
		return MaxConcurrency
	}
	return concurrency
}

// resolveTargetFiles appends the URLs of every targets_file to its section.
// Relative files are resolved against the config file's directory.
func (t *Tool) resolveTargetFiles(base string) error {
	for _, s := range t.TrafficGen.sections() {
		if s.TargetsFile == "" {
			continue
		}
		file := s.TargetsFile
		if !filepath.IsAbs(file) {
			file = filepath.Join(base, file)
		}
		urls, err := urlcheck.ReadURLs(file)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		s.Targets = append(s.Targets, urls...)
	}
	return nil
}

func (tg *TrafficGen) sections() []*Section {
	return []*Section{
		&tg.DNS.Section, &tg.UDP.Section, &tg.HTTPS.Section,
		&tg.FTP.Section, &tg.FTPS.Section, &tg.SFTP.Section,
	}
}

// Jobs converts the enabled traffic sections into dispatcher jobs, in
// protocol order. Sections without targets are skipped with a warning.
func (t *Tool) Jobs(log *logrus.Entry) []traffic.Job {
	if log == nil {
		log = logging.Discard()
	}
	tg := &t.TrafficGen
	var jobs []traffic.Job

	add := func(p traffic.Protocol, s Section, targets []string, fill func(*traffic.Job)) {
		if !s.Enable {
			return
		}
		if len(targets) == 0 {
			log.Warnf("No targets configured for %s. Skipping.", p)
			return
		}
		job := traffic.Job{
			Protocol:    p,
			Targets:     targets,
			Count:       s.Count,
			Duration:    time.Duration(s.DurationSec) * time.Second,
			Concurrency: s.Concurrency,
			RatePerSec:  s.RatePerSec,
			Timeout:     time.Duration(s.TimeoutSec) * time.Second,
		}
		if fill != nil {
			fill(&job)
		}
		jobs = append(jobs, job)
	}

	add(traffic.ProtocolDNS, tg.DNS.Section, tg.DNS.Targets, func(j *traffic.Job) {
		j.DNSServer = tg.DNS.Server
	})

	udpTargets := []string{tg.UDP.TargetIP}
	ipv6 := false
	if tg.UDP.TargetIPv6 != "" {
		udpTargets, ipv6 = []string{tg.UDP.TargetIPv6}, true
	}
	add(traffic.ProtocolUDP, tg.UDP.Section, udpTargets, func(j *traffic.Job) {
		j.Port = tg.UDP.TargetPort
		j.IPv6 = ipv6
	})

	add(traffic.ProtocolHTTPS, tg.HTTPS.Section, tg.HTTPS.Targets, func(j *traffic.Job) {
		j.CurlPath = tg.HTTPS.CurlPath
	})

	for _, x := range []struct {
		p traffic.Protocol
		s *TransferSection
	}{
		{traffic.ProtocolFTP, &tg.FTP},
		{traffic.ProtocolFTPS, &tg.FTPS},
		{traffic.ProtocolSFTP, &tg.SFTP},
	} {
		s := x.s
		add(x.p, s.Section, s.Targets, func(j *traffic.Job) {
			j.Transfer = traffic.Transfer{
				Port:      s.Port,
				User:      s.User,
				Password:  s.Password,
				RemoteDir: s.RemoteDir,
				FileSize:  s.FileSize,
			}
		})
	}

	return jobs
}

// ABJobs returns one load run per AB target URL, or none when ab is disabled
func (t *Tool) ABJobs() []traffic.ABJob {
	ab := t.TrafficGen.AB
	if !ab.Enable || (ab.TotalConn <= 0 && ab.DurationSec <= 0) {
		return nil
	}
	var jobs []traffic.ABJob
	for _, u := range ab.TargetURLs {
		jobs = append(jobs, traffic.ABJob{
			Path:        ab.Path,
			URL:         u,
			Requests:    ab.TotalConn,
			Concurrency: ab.Concurrency,
			Duration:    time.Duration(ab.DurationSec) * time.Second,
			KeepAlive:   ab.KeepAlive,
		})
	}
	return jobs
}

// ValidateOptions converts the validation section for the validator
func (t *Tool) ValidateOptions() validate.Options {
	v := t.Validation
	return validate.Options{
		Rounds:         v.Rounds,
		RoundInterval:  time.Duration(v.RoundIntervalSec) * time.Second,
		RecheckDelay:   time.Duration(v.RecheckDelaySec) * time.Second,
		TrustedIssuers: v.TrustedIssuers,
	}
}
