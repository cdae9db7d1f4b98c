// Package recorder appends every detection result to a binary log so a
// capture session can be replayed and audited offline.
//
// File layout: the 8-byte magic "WLDLOG01" followed by records of
// [u64 little-endian unix nanos][u32 little-endian length][CBOR payload].
package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/banshee-data/waterlevel/internal/monitoring"
	"github.com/banshee-data/waterlevel/internal/vision"
)

const Magic = "WLDLOG01"

// MaxRecordSize bounds one encoded record. Detection records are a few
// dozen bytes; anything larger is a corrupt length prefix.
const MaxRecordSize = 1 << 20

var (
	ErrClosed         = errors.New("recorder: closed")
	ErrBadMagic       = errors.New("recorder: not a detection log")
	ErrRecordTooLarge = errors.New("recorder: record too large")
)

// recordEncoding keeps nanosecond timestamps in the payload.
var recordEncoding = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Record is one logged detection.
type Record struct {
	Session  string    `cbor:"session"`
	Seq      uint64    `cbor:"seq"`
	At       time.Time `cbor:"at"`
	Found    bool      `cbor:"found"`
	Row      int       `cbor:"row,omitempty"`
	HasLevel bool      `cbor:"has_level"`
	Level    float64   `cbor:"level,omitempty"`
}

// Writer appends records to one log file. It is safe for concurrent use.
type Writer struct {
	session string
	path    string

	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
	n  uint64

	logErr func(format string, v ...any)
}

// Create opens a new log named after the start time and session in dir.
func Create(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	session := uuid.NewString()
	name := fmt.Sprintf("%s_%s.wld", time.Now().Format("20060102_150405"), session[:8])
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 64*1024)
	if _, err := w.WriteString(Magic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{
		session: session,
		path:    path,
		f:       f,
		w:       w,
		logErr:  monitoring.Every(500),
	}, nil
}

func (r *Writer) Session() string { return r.session }
func (r *Writer) Path() string    { return r.path }

// Write appends rec, stamping it with this writer's session.
func (r *Writer) Write(rec Record) error {
	rec.Session = r.session
	payload, err := recordEncoding.Marshal(rec)
	if err != nil {
		return err
	}
	if len(payload) > MaxRecordSize {
		return fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(payload))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return ErrClosed
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(rec.At.UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	r.n++
	return r.w.Flush()
}

// Observe has the capture observer signature. Write failures are logged,
// not returned, so a full disk never stalls capture.
func (r *Writer) Observe(seq uint64, res vision.Result, at time.Time) {
	err := r.Write(Record{
		Seq:      seq,
		At:       at,
		Found:    res.Found,
		Row:      res.Row,
		HasLevel: res.HasLevel,
		Level:    res.Level,
	})
	if err != nil {
		r.logErr("recorder: write %s: %v", r.path, err)
	}
}

// Count returns the number of records written.
func (r *Writer) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *Writer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	err := r.w.Flush()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	r.w = nil
	return err
}

// Reader iterates over the records of a log.
type Reader struct {
	r *bufio.Reader
}

// NewReader checks the magic header of src.
func NewReader(src io.Reader) (*Reader, error) {
	br := bufio.NewReader(src)
	header := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(header) != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadMagic, header)
	}
	return &Reader{r: br}, nil
}

// Next returns the next record, or io.EOF at the end of the log. A record
// cut short by a crash also ends the log.
func (rd *Reader) Next() (Record, error) {
	var meta [12]byte
	if _, err := io.ReadFull(rd.r, meta[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, io.EOF
		}
		return Record{}, err
	}
	size := binary.LittleEndian.Uint32(meta[8:12])
	if size > MaxRecordSize {
		return Record{}, fmt.Errorf("decode record: %w: length prefix %d exceeds %d", ErrRecordTooLarge, size, MaxRecordSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(rd.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, err
	}

	var rec Record
	if err := cbor.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// ReadFile loads every record of the log at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rd, err := NewReader(f)
	if err != nil {
		return nil, err
	}
	var out []Record
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
