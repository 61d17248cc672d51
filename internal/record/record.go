// Package record appends replicated snapshots to a file and reads them back.
//
// A recording is a stream of length-prefixed frames (net.WriteFrame). The
// first frame is the header: magic "MDSR", a version byte and the fixed step
// in milliseconds. Every following frame is a complete S_SNAPSHOT packet.
package record

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/moonduel/server/internal/net"
	"github.com/moonduel/server/internal/net/packet"
	"github.com/moonduel/server/internal/snapshot"
)

const (
	magic   = "MDSR"
	version = 1
)

var ErrBadHeader = errors.New("not a snapshot recording")

// Header describes a recording.
type Header struct {
	Version byte
	SimDt   float32 // ms
}

// Recorder writes snapshots to a file. Game loop only.
type Recorder struct {
	f      *os.File
	w      *bufio.Writer
	frames int
}

// Create truncates path and writes the header.
func Create(path string, simDt float32) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording %s: %w", path, err)
	}
	r := &Recorder{f: f, w: bufio.NewWriter(f)}
	if err := WriteHeader(r.w, Header{Version: version, SimDt: simDt}); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// WriteHeader writes the header frame to w.
func WriteHeader(w io.Writer, h Header) error {
	pw := packet.NewWriter()
	pw.WriteBytes([]byte(magic))
	pw.WriteC(h.Version)
	pw.WriteF(h.SimDt)
	return net.WriteFrame(w, pw.Bytes())
}

// Record appends one snapshot.
func (r *Recorder) Record(s *snapshot.Snapshot) error {
	data, err := snapshot.EncodePacket(s)
	if err != nil {
		return err
	}
	if err := net.WriteFrame(r.w, data); err != nil {
		return fmt.Errorf("record frame %d: %w", s.Frame, err)
	}
	r.frames++
	return nil
}

// Frames is the number of snapshots recorded so far.
func (r *Recorder) Frames() int { return r.frames }

func (r *Recorder) Flush() error {
	return r.w.Flush()
}

func (r *Recorder) Close() error {
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return fmt.Errorf("flush recording: %w", err)
	}
	return r.f.Close()
}

// Reader iterates a recording.
type Reader struct {
	r      io.Reader
	header Header
}

// NewReader reads and validates the header.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	data, err := net.ReadFrame(br)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(data) < len(magic)+1+4 || string(data[:len(magic)]) != magic {
		return nil, ErrBadHeader
	}
	pr := packet.NewReader(append([]byte{0}, data[len(magic):]...))
	h := Header{Version: pr.ReadC(), SimDt: pr.ReadF()}
	if h.Version != version {
		return nil, fmt.Errorf("%w: version %d", ErrBadHeader, h.Version)
	}
	return &Reader{r: br, header: h}, nil
}

func (rd *Reader) Header() Header { return rd.header }

// Next returns the next snapshot, or io.EOF at the end of the recording.
func (rd *Reader) Next() (snapshot.Snapshot, error) {
	data, err := net.ReadFrame(rd.r)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	pr := packet.NewReader(data)
	if op := pr.Opcode(); op != packet.S_OPCODE_SNAPSHOT {
		return snapshot.Snapshot{}, fmt.Errorf("unexpected opcode %d in recording", op)
	}
	return snapshot.Decode(pr)
}
