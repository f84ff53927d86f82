package capture

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

	"flowmap-stream-go/internal/protocol"
)

const magic = "FLOWCAP1"

// MaxRecordSize bounds the encoded size of one record: the largest wire
// payload plus room for the CBOR envelope.
const MaxRecordSize = protocol.DefaultMaxPayload + 1024

// Direction marks which side sent a captured message.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Record is one captured wire message.
type Record struct {
	UnixNano  int64     `cbor:"ts"`
	Direction Direction `cbor:"dir"`
	Tag       byte      `cbor:"tag"`
	Payload   []byte    `cbor:"payload"`
}

func (r Record) Time() time.Time {
	return time.Unix(0, r.UnixNano)
}

// Writer appends records to a capture file: the magic string followed by
// [u64 LE timestamp][u32 LE size][CBOR record] entries.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

func NewWriter(outputDir string, prefix string) (*Writer, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.cap", timestamp, prefix))
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(magic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{
		f:    f,
		w:    w,
		path: filename,
	}, nil
}

func (c *Writer) Path() string {
	return c.path
}

func (c *Writer) Record(dir Direction, tag byte, payload []byte) error {
	now := time.Now().UnixNano()
	body, err := cbor.Marshal(Record{UnixNano: now, Direction: dir, Tag: tag, Payload: payload})
	if err != nil {
		return err
	}
	if len(body) > int(MaxRecordSize) {
		return fmt.Errorf("capture record of %d bytes exceeds %d", len(body), MaxRecordSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return errors.New("capture writer is closed")
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(now))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(body)))
	if _, err := c.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := c.w.Write(body); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *Writer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return nil
	}
	if err := c.w.Flush(); err != nil {
		_ = c.f.Close()
		c.w = nil
		return err
	}
	err := c.f.Close()
	c.w = nil
	return err
}

// Reader iterates the records of a capture file.
type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) (*Reader, error) {
	header := make([]byte, len(magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(header) != magic {
		return nil, fmt.Errorf("unexpected capture magic %q", string(header))
	}
	return &Reader{r: r}, nil
}

// Next returns the following record. It returns io.EOF when the file ends
// on a record boundary and io.ErrUnexpectedEOF when it ends inside one.
func (c *Reader) Next() (Record, error) {
	var meta [12]byte
	if _, err := io.ReadFull(c.r, meta[:]); err != nil {
		return Record{}, err
	}
	size := binary.LittleEndian.Uint32(meta[8:12])
	if size > MaxRecordSize {
		return Record{}, fmt.Errorf("record size %d exceeds %d", size, MaxRecordSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return Record{}, fmt.Errorf("read record body: %w", err)
	}
	var rec Record
	if err := cbor.Unmarshal(body, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
