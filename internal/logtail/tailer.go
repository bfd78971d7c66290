package logtail

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/studiowebux/agentstress/internal/logging"
)

const (
	// DefaultMaxRotated is the number of numbered siblings the agent keeps
	DefaultMaxRotated = 10
	// ScanChunkSize is the backward scan step used by SeekToTimeBuffer
	ScanChunkSize int64 = 1 << 20
	// MaxScanPerFile caps the backward scan per file
	MaxScanPerFile int64 = 50 << 20
	// TimestampLayout is the line timestamp format written by the agent
	TimestampLayout = "2006/01/02 15:04:05"

	maxCheckBuffer = 4 << 20
)

var timestampRe = regexp.MustCompile(`^\s*(\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2})`)

// Segment is a part of a rotated file that still has to be delivered
type Segment struct {
	identity os.FileInfo
	Start    int64
}

// Cursor is the read position in the rotating log stream
type Cursor struct {
	Offset   int64
	identity os.FileInfo
	Pending  []Segment
}

// Identified reports whether the cursor is bound to a concrete file
func (c Cursor) Identified() bool {
	return c.identity != nil
}

// Tailer delivers an append-only stream over a rotating log file
type Tailer struct {
	mu         sync.Mutex
	path       string
	maxRotated int
	chunkSize  int64
	scanLimit  int64
	cursor     Cursor
	unmatched  string
	now        func() time.Time
	log        *logrus.Entry
}

// Option configures a Tailer
type Option func(*Tailer)

// WithLogger sets the logger used for read diagnostics
func WithLogger(log *logrus.Entry) Option {
	return func(t *Tailer) { t.log = log }
}

// WithClock overrides the clock used by SeekToTimeBuffer
func WithClock(now func() time.Time) Option {
	return func(t *Tailer) { t.now = now }
}

// WithMaxRotated sets how many numbered siblings are searched
func WithMaxRotated(n int) Option {
	return func(t *Tailer) { t.maxRotated = n }
}

// WithScanLimits overrides the backward scan chunk size and per-file cap
func WithScanLimits(chunk, limit int64) Option {
	return func(t *Tailer) {
		t.chunkSize = chunk
		t.scanLimit = limit
	}
}

// New creates a Tailer for the log at path. The cursor starts at offset 0.
func New(path string, opts ...Option) *Tailer {
	t := &Tailer{
		path:       path,
		maxRotated: DefaultMaxRotated,
		chunkSize:  ScanChunkSize,
		scanLimit:  MaxScanPerFile,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logging.Discard()
	}
	return t
}

// DefaultLogPath returns the agent debug log location under ProgramData
func DefaultLogPath() string {
	root := os.Getenv("ProgramData")
	if root == "" {
		root = `C:\ProgramData`
	}
	return filepath.Join(root, "netskope", "stagent", "logs", "nsdebuglog.log")
}

// RotatedPath returns the n-th rotated sibling of path (nsdebuglog.log -> nsdebuglog.n.log)
func RotatedPath(path string, n int) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + strconv.Itoa(n) + ext
}

// Path returns the live log path
func (t *Tailer) Path() string {
	return t.path
}

// Cursor returns a copy of the current cursor
func (t *Tailer) Cursor() Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.cursor
	c.Pending = append([]Segment(nil), t.cursor.Pending...)
	return c
}

// SeekToNow moves the cursor to the current end of the live file
func (t *Tailer) SeekToNow() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cursor = Cursor{}
	t.unmatched = ""

	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return
	}
	t.cursor.identity = fi
	t.cursor.Offset = fi.Size()
}

// SeekToTimeBuffer positions the cursor after the most recent line older than
// now-window, looking through the live file and then the rotated siblings
func (t *Tailer) SeekToTimeBuffer(window time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-window)
	t.cursor = Cursor{}
	t.unmatched = ""

	var pending []Segment
	for i := 0; i <= t.maxRotated; i++ {
		p := t.path
		if i > 0 {
			p = RotatedPath(t.path, i)
		}

		f, err := os.Open(p)
		if err != nil {
			continue
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			continue
		}
		pos, found, capped := scanBackward(f, fi.Size(), cutoff, t.chunkSize, t.scanLimit)
		f.Close()

		if capped {
			t.log.WithField("file", p).Debug("Backward scan capped, starting at scan boundary")
		}

		if i == 0 {
			t.cursor.identity = fi
			if found {
				t.cursor.Offset = pos
				return
			}
			continue
		}

		pending = append(pending, Segment{identity: fi, Start: pos})
		if found {
			break
		}
	}

	// Oldest generation first
	for l, r := 0, len(pending)-1; l < r; l, r = l+1, r-1 {
		pending[l], pending[r] = pending[r], pending[l]
	}
	t.cursor.Pending = pending
}

// ReadNew returns everything written since the previous call, including the
// tail of a file that was rotated away in between
func (t *Tailer) ReadNew() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readNewLocked()
}

// Check reads new content and matches pattern against it together with any
// content that earlier checks left unmatched
func (t *Tailer) Check(pattern string, isRegex bool) (bool, error) {
	var re *regexp.Regexp
	if isRegex {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		re = compiled
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	content := t.unmatched + t.readNewLocked()

	var matched bool
	if re != nil {
		matched = re.MatchString(content)
	} else {
		matched = strings.Contains(content, pattern)
	}

	if matched {
		t.unmatched = ""
	} else {
		if len(content) > maxCheckBuffer {
			content = content[len(content)-maxCheckBuffer:]
		}
		t.unmatched = content
	}
	return matched, nil
}

func (t *Tailer) readNewLocked() string {
	var out bytes.Buffer

	for _, seg := range t.cursor.Pending {
		if p, _ := t.locate(seg.identity); p != "" {
			data, _ := t.readFile(p, seg.Start, true)
			out.Write(data)
		}
	}
	t.cursor.Pending = nil

	f, err := os.Open(t.path)
	if err != nil {
		// Live file gone mid-rotation. Stay bound to the newest generation
		// drained so the next read walks whatever rotates after it.
		if t.cursor.identity != nil {
			last, end := t.drainRotated(&out)
			t.cursor.identity = last
			t.cursor.Offset = end
		}
		return decode(out.Bytes())
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		t.log.WithError(err).Warn("Failed to stat live log")
		return decode(out.Bytes())
	}

	switch {
	case t.cursor.identity == nil:
		t.cursor.identity = fi
		if t.cursor.Offset > fi.Size() {
			t.cursor.Offset = 0
		}
	case !os.SameFile(t.cursor.identity, fi):
		t.drainRotated(&out)
		t.cursor.identity = fi
		t.cursor.Offset = 0
	case fi.Size() < t.cursor.Offset:
		// Truncated in place
		t.log.WithField("offset", t.cursor.Offset).Debug("Live log shrank, restarting at 0")
		t.cursor.Offset = 0
	}

	data, err := readFrom(f, t.cursor.Offset)
	if err != nil {
		t.log.WithError(err).Warn("Failed to read live log")
	}
	data = data[:completePrefix(data)]
	t.cursor.Offset += int64(len(data))
	out.Write(data)

	return decode(out.Bytes())
}

// drainRotated delivers the rest of the file the cursor was bound to and every
// generation rotated after it, oldest first. It returns the newest generation
// read and the offset reached in it, or nil when the bound file is gone.
func (t *Tailer) drainRotated(out *bytes.Buffer) (os.FileInfo, int64) {
	p, idx := t.locate(t.cursor.identity)
	if p == "" {
		t.log.WithField("offset", t.cursor.Offset).Warn("Rotated log not found, its tail is lost")
		return nil, 0
	}
	data, last := t.readFile(p, t.cursor.Offset, true)
	out.Write(data)
	end := t.cursor.Offset + int64(len(data))

	for i := idx - 1; i >= 1; i-- {
		data, fi := t.readFile(RotatedPath(t.path, i), 0, true)
		out.Write(data)
		if fi != nil {
			last, end = fi, int64(len(data))
		}
	}
	if last == nil {
		return nil, 0
	}
	return last, end
}

// locate finds the file with the given identity among the siblings.
// It returns the path and the sibling index (0 for the live path).
func (t *Tailer) locate(identity os.FileInfo) (string, int) {
	if identity == nil {
		return "", -1
	}
	for i := 1; i <= t.maxRotated; i++ {
		p := RotatedPath(t.path, i)
		if sameIdentity(p, identity) {
			return p, i
		}
	}
	if sameIdentity(t.path, identity) {
		return t.path, 0
	}
	return "", -1
}

// readFile returns the bytes of path from offset along with the identity of
// the file that was read
func (t *Tailer) readFile(path string, offset int64, final bool) ([]byte, os.FileInfo) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		fi = nil
	}
	data, err := readFrom(f, offset)
	if err != nil {
		t.log.WithError(err).WithField("file", path).Warn("Failed to read rotated log")
	}
	if !final {
		data = data[:completePrefix(data)]
	}
	return data, fi
}

func sameIdentity(path string, identity os.FileInfo) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return os.SameFile(fi, identity)
}

func readFrom(f *os.File, offset int64) ([]byte, error) {
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

// completePrefix returns the length of data without a trailing incomplete rune
func completePrefix(data []byte) int {
	n := len(data)
	i := n - 1
	for i >= 0 && n-i < utf8.UTFMax && !utf8.RuneStart(data[i]) {
		i--
	}
	if i >= 0 && utf8.RuneStart(data[i]) && !utf8.FullRune(data[i:]) {
		return i
	}
	return n
}

func decode(data []byte) string {
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

// parseLineTime extracts the leading agent timestamp from a line
func parseLineTime(line []byte) (time.Time, bool) {
	m := timestampRe.FindSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, string(m[1]), time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// scanBackward walks lines from the end of r toward the start and returns the
// offset just past the most recent line stamped before cutoff. When limit is
// reached first, capped is set and the start of the oldest complete line seen
// is returned.
func scanBackward(r io.ReaderAt, size int64, cutoff time.Time, chunk, limit int64) (pos int64, found bool, capped bool) {
	var (
		pending      []byte
		pendingStart = size
		scanned      int64
		oldestLine   = size
	)

	for pendingStart > 0 {
		if scanned >= limit {
			return oldestLine, true, true
		}

		n := chunk
		if n > pendingStart {
			n = pendingStart
		}
		start := pendingStart - n
		buf := make([]byte, n)
		read, err := r.ReadAt(buf, start)
		if err != nil && err != io.EOF {
			return 0, false, false
		}
		scanned += n
		pending = append(buf[:read], pending...)
		pendingStart = start

		for len(pending) > 0 {
			end := len(pending)
			search := end
			if pending[end-1] == '\n' {
				search = end - 1
			}
			idx := bytes.LastIndexByte(pending[:search], '\n')
			if idx < 0 && pendingStart > 0 {
				// Line start not read yet
				break
			}

			line := pending[idx+1 : end]
			oldestLine = pendingStart + int64(idx+1)
			if ts, ok := parseLineTime(line); ok && ts.Before(cutoff) {
				return pendingStart + int64(end), true, false
			}
			pending = pending[:idx+1]
		}
	}
	return 0, false, false
}
