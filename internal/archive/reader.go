package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/stackinspector/teo-utils/internal/segment"
)

// Reader iterates over the records of an archive.
type Reader struct {
	file   *os.File
	zstd   *zstd.Decoder
	br     *bufio.Reader
	offset int
}

// Open opens an archive written by Writer. The codec is chosen from the file
// extension; identities are required for .age files.
func Open(path string, identities ...age.Identity) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	r := &Reader{file: f}
	var src io.Reader = f

	name := path
	if strings.HasSuffix(name, ageSuffix) {
		if len(identities) == 0 {
			f.Close()
			return nil, fmt.Errorf("archive %s is encrypted: identity required", path)
		}
		src, err = age.Decrypt(f, identities...)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("decrypt archive: %w", err)
		}
		name = strings.TrimSuffix(name, ageSuffix)
	}

	switch {
	case strings.HasSuffix(name, CodecZstd.Extension()):
		dec, err := zstd.NewReader(src)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		r.zstd = dec
		src = dec
	case strings.HasSuffix(name, CodecXZ.Extension()):
		xr, err := xz.NewReader(src)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open xz stream: %w", err)
		}
		src = xr
	default:
		f.Close()
		return nil, fmt.Errorf("archive %s: unknown extension", path)
	}

	r.br = bufio.NewReaderSize(src, 1<<16)
	return r, nil
}

// Next returns the next record with its payload, or io.EOF after the last.
func (r *Reader) Next() (*segment.Record, error) {
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("record %d: read header line: %w", r.offset, err)
	}

	var rec segment.Record
	if err := json.Unmarshal(bytes.TrimSuffix(line, []byte{'\n'}), &rec); err != nil {
		return nil, fmt.Errorf("record %d: decode header line: %w", r.offset, err)
	}

	if o, ok := rec.Outcome.(segment.Fetched); ok {
		if o.UncompressedSize > math.MaxInt64 {
			return nil, fmt.Errorf("record %d: payload size %d out of range", r.offset, o.UncompressedSize)
		}
		// The buffer grows with the bytes actually present, not the size the
		// header line claims.
		var buf bytes.Buffer
		n, err := io.CopyN(&buf, r.br, int64(o.UncompressedSize))
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("record %d: read payload (%d of %d bytes): %w", r.offset, n, o.UncompressedSize, err)
		}
		rec.Payload = buf.Bytes()
	}
	r.offset++
	return &rec, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.zstd != nil {
		r.zstd.Close()
	}
	return r.file.Close()
}
