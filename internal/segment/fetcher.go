package segment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/api"
	"github.com/stackinspector/teo-utils/internal/logging"
	"github.com/stackinspector/teo-utils/internal/retry"
)

// OSUnix is the gzip OS byte the exporting service writes.
const OSUnix = 3

const flagComment = 0x10

// Fetcher downloads segments with plain unauthenticated GETs.
type Fetcher struct {
	HTTPClient *http.Client
	Retry      retry.Policy
	Logger     *zap.Logger
}

// NewFetcher returns a Fetcher with default transport and retry policy.
func NewFetcher(logger *zap.Logger) *Fetcher {
	return &Fetcher{
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
		Retry:      retry.Default(),
		Logger:     logging.OrNop(logger),
	}
}

// statusError is a non-2xx segment response.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("status %d", e.code) }

// Fetch downloads and decodes one segment.
//
// Transport failures and non-2xx responses are retried (5xx only) and then
// recorded as a Failed outcome with a nil error, so one bad segment does not
// stop the day. A body that violates the expected gzip framing returns a
// *HeaderError or *FormatError.
func (f *Fetcher) Fetch(ctx context.Context, d api.L7OfflineLog) (*Record, error) {
	header, err := NewHeader(d)
	if err != nil {
		return nil, err
	}
	logger := logging.OrNop(f.Logger).With(logging.URL(header.UrlWithoutQuery))

	var rec *Record
	err = f.Retry.Do(ctx, func(attempt int) error {
		var err error
		rec, err = f.fetchOnce(ctx, d.Url, header)
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && se.code < http.StatusInternalServerError {
			return retry.Permanent(err)
		}
		var he *HeaderError
		var fe *FormatError
		if errors.As(err, &he) || errors.As(err, &fe) {
			return retry.Permanent(err)
		}
		logger.Warn("segment fetch failed", logging.Attempt(attempt), zap.Error(err))
		return err
	})
	if err == nil {
		return rec, nil
	}

	var he *HeaderError
	var fe *FormatError
	if errors.As(err, &he) || errors.As(err, &fe) {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	failed := Failed{}
	var se *statusError
	if errors.As(err, &se) {
		failed = FailedStatus(se.code)
	}
	logger.Warn("segment recorded as failed", zap.Error(err))
	return &Record{Header: header, Outcome: failed}, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string, header Header) (*Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FormatError{URL: header.UrlWithoutQuery, Err: err}
	}

	httpClient := f.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &statusError{code: resp.StatusCode}
	}

	fetched, payload, err := Decode(resp.Body, header.UrlWithoutQuery)
	if err != nil {
		return nil, err
	}
	return &Record{Header: header, Outcome: fetched, Payload: payload}, nil
}

// Decode reads a single gzip member from r, validates its header and
// returns the outcome together with the decompressed bytes. url is only used
// in error messages.
func Decode(r io.Reader, url string) (Fetched, []byte, error) {
	br := bufio.NewReader(r)

	// The reader reports an empty comment the same as an absent one, so the
	// FCOMMENT flag is checked on the raw header.
	if hdr, err := br.Peek(4); err == nil && hdr[0] == 0x1f && hdr[1] == 0x8b && hdr[3]&flagComment != 0 {
		return Fetched{}, nil, &HeaderError{URL: url, Field: "comment", Detail: "field present"}
	}

	zr, err := gzip.NewReader(br)
	if err != nil {
		if errors.Is(err, gzip.ErrHeader) || errors.Is(err, io.EOF) {
			return Fetched{}, nil, &FormatError{URL: url, Err: fmt.Errorf("not a gzip stream: %w", err)}
		}
		return Fetched{}, nil, err
	}
	defer zr.Close()
	zr.Multistream(false)

	if err := checkHeader(zr.Header, url); err != nil {
		return Fetched{}, nil, err
	}

	payload, err := io.ReadAll(zr)
	if err != nil {
		return Fetched{}, nil, err
	}

	if _, err := br.ReadByte(); err != io.EOF {
		if err == nil {
			return Fetched{}, nil, &FormatError{URL: url, Err: errors.New("trailing data after gzip member")}
		}
		return Fetched{}, nil, err
	}

	return Fetched{
		GzFilename:       zr.Name,
		GzMtime:          uint32(zr.ModTime.Unix()),
		UncompressedSize: uint64(len(payload)),
	}, payload, nil
}

func checkHeader(h gzip.Header, url string) error {
	if h.Extra != nil {
		return &HeaderError{URL: url, Field: "extra", Detail: fmt.Sprintf("unexpected %d bytes", len(h.Extra))}
	}
	if h.Comment != "" {
		return &HeaderError{URL: url, Field: "comment", Detail: fmt.Sprintf("unexpected %q", h.Comment)}
	}
	if h.OS != OSUnix {
		return &HeaderError{URL: url, Field: "os", Detail: fmt.Sprintf("got %d, want %d", h.OS, OSUnix)}
	}
	if h.Name == "" {
		return &HeaderError{URL: url, Field: "name", Detail: "missing"}
	}
	return nil
}
