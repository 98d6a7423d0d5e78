// Package archive writes and reads per-day segment archives.
//
// An archive is one compressed stream. For every segment it holds a single
// JSON line (the segment header and a tagged outcome) immediately followed,
// for fetched segments, by exactly UncompressedSize bytes of log payload.
package archive

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"filippo.io/age"
)

// Codec selects the compression format.
type Codec string

// Supported codecs. XZ is the default.
const (
	CodecXZ   Codec = "xz"
	CodecZstd Codec = "zstd"
)

const (
	// DefaultDictCap matches xz preset 9.
	DefaultDictCap = 64 << 20

	ageSuffix = ".age"
)

// Options controls how archives are encoded.
type Options struct {
	Codec Codec
	// DictCap overrides the xz dictionary size. Zero means DefaultDictCap.
	DictCap int
	// Recipients, when set, encrypt the compressed stream with age.
	Recipients []age.Recipient
}

// Extension returns the file suffix for the codec, ".xz" or ".zst".
func (c Codec) Extension() string {
	if c == CodecZstd {
		return ".zst"
	}
	return ".xz"
}

// ParseCodec accepts "", "xz", "zstd" and "zst".
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "xz":
		return CodecXZ, nil
	case "zstd", "zst":
		return CodecZstd, nil
	default:
		return "", fmt.Errorf("unknown archive codec %q", s)
	}
}

// Name returns the archive file name for a zone and calendar date:
// <YYYYMMDD>-<zone>.xz, with .zst for zstd and a trailing .age when
// encrypted.
func Name(date time.Time, zone string, opts Options) string {
	name := date.Format("20060102") + "-" + zone + opts.Codec.Extension()
	if len(opts.Recipients) > 0 {
		name += ageSuffix
	}
	return name
}

// ExistsError is returned when the target archive is already present.
type ExistsError struct {
	Path string
	Err  error
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("archive %s already exists", e.Path)
}

func (e *ExistsError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, fs.ErrExist) match.
func (e *ExistsError) Is(target error) bool { return target == fs.ErrExist }

// ParseRecipients parses age X25519 recipient strings (age1...).
func ParseRecipients(keys []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(keys))
	for _, k := range keys {
		r, err := age.ParseX25519Recipient(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("parse age recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, nil
}

// LoadIdentities reads age identities from a key file.
func LoadIdentities(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity file: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}
	return ids, nil
}
