package archive

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"filippo.io/age"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	"github.com/stackinspector/teo-utils/internal/segment"
)

// Summary describes a closed archive.
type Summary struct {
	Path         string
	Records      int
	Fetched      int
	Failed       int
	PayloadBytes uint64
	Size         int64  // bytes on disk
	Digest       string // hex BLAKE3 of the bytes on disk
}

// Writer appends segment records to a new archive file.
type Writer struct {
	path    string
	file    *os.File
	hasher  *blake3.Hasher
	crypt   io.WriteCloser // nil unless encrypting
	comp    io.WriteCloser
	summary Summary
	closed  bool
}

// Create opens path with exclusive-create semantics and prepares the
// compression (and optional encryption) chain. An existing file is never
// touched; Create returns *ExistsError instead.
func Create(path string, opts Options) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, &ExistsError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("create archive: %w", err)
	}

	w := &Writer{
		path:    path,
		file:    f,
		hasher:  blake3.New(),
		summary: Summary{Path: path},
	}

	var sink io.Writer = io.MultiWriter(f, w.hasher)
	if len(opts.Recipients) > 0 {
		w.crypt, err = age.Encrypt(sink, opts.Recipients...)
		if err != nil {
			w.discard()
			return nil, fmt.Errorf("start encryption: %w", err)
		}
		sink = w.crypt
	}

	w.comp, err = newCompressor(sink, opts)
	if err != nil {
		w.discard()
		return nil, err
	}
	return w, nil
}

func newCompressor(dst io.Writer, opts Options) (io.WriteCloser, error) {
	switch opts.Codec {
	case CodecZstd:
		enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, fmt.Errorf("start zstd: %w", err)
		}
		return enc, nil
	case CodecXZ, "":
		dictCap := opts.DictCap
		if dictCap == 0 {
			dictCap = DefaultDictCap
		}
		cfg := xz.WriterConfig{DictCap: dictCap, CheckSum: xz.CRC64}
		enc, err := cfg.NewWriter(dst)
		if err != nil {
			return nil, fmt.Errorf("start xz: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unknown archive codec %q", opts.Codec)
	}
}

// Path returns the archive path.
func (w *Writer) Path() string { return w.path }

// Append writes one record: its JSON line, then its payload when fetched.
func (w *Writer) Append(rec *segment.Record) error {
	if w.closed {
		return errors.New("archive is closed")
	}

	if o, ok := rec.Outcome.(segment.Fetched); ok && uint64(len(rec.Payload)) != o.UncompressedSize {
		return fmt.Errorf("record %s: payload is %d bytes, header says %d",
			rec.LogPacketName, len(rec.Payload), o.UncompressedSize)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.comp.Write(line); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	w.summary.Records++
	switch o := rec.Outcome.(type) {
	case segment.Fetched:
		if _, err := w.comp.Write(rec.Payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
		w.summary.Fetched++
		w.summary.PayloadBytes += o.UncompressedSize
	case segment.Failed:
		w.summary.Failed++
	}
	return nil
}

// Close finalizes the compressed stream and the file.
func (w *Writer) Close() (Summary, error) {
	if w.closed {
		return w.summary, errors.New("archive is closed")
	}
	w.closed = true

	if err := w.comp.Close(); err != nil {
		_ = w.file.Close()
		return w.summary, fmt.Errorf("finish compression: %w", err)
	}
	if w.crypt != nil {
		if err := w.crypt.Close(); err != nil {
			_ = w.file.Close()
			return w.summary, fmt.Errorf("finish encryption: %w", err)
		}
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return w.summary, fmt.Errorf("sync archive: %w", err)
	}

	info, err := w.file.Stat()
	if err != nil {
		_ = w.file.Close()
		return w.summary, fmt.Errorf("stat archive: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return w.summary, fmt.Errorf("close archive: %w", err)
	}

	w.summary.Size = info.Size()
	w.summary.Digest = hex.EncodeToString(w.hasher.Sum(nil))
	return w.summary, nil
}

// Abort closes the writer and removes the partially written file.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.discard()
}

func (w *Writer) discard() error {
	_ = w.file.Close()
	if err := os.Remove(w.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove partial archive: %w", err)
	}
	return nil
}
