// Package segment fetches exported log segments and turns each one into a
// Record: the descriptor it came from plus the outcome of fetching it.
package segment

import (
	"fmt"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/stackinspector/teo-utils/internal/api"
)

// Header is the descriptor of a segment as stored in an archive. The signed
// query string of the source URL is dropped.
type Header struct {
	Domain          string `json:"Domain"`
	Area            string `json:"Area"`
	LogPacketName   string `json:"LogPacketName"`
	UrlWithoutQuery string `json:"UrlWithoutQuery"`
	LogTime         uint64 `json:"LogTime"`
	LogStartTime    string `json:"LogStartTime"`
	LogEndTime      string `json:"LogEndTime"`
	Size            uint64 `json:"Size"`
}

// NewHeader copies d and strips the query string and fragment from its URL.
func NewHeader(d api.L7OfflineLog) (Header, error) {
	u, err := StripQuery(d.Url)
	if err != nil {
		return Header{}, err
	}
	return Header{
		Domain:          d.Domain,
		Area:            d.Area,
		LogPacketName:   d.LogPacketName,
		UrlWithoutQuery: u,
		LogTime:         d.LogTime,
		LogStartTime:    d.LogStartTime,
		LogEndTime:      d.LogEndTime,
		Size:            d.Size,
	}, nil
}

// StripQuery removes the query string and fragment from rawURL.
func StripQuery(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse segment url: %w", err)
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// Outcome is either Fetched or Failed.
type Outcome interface {
	outcomeType() string
}

// Outcome tags used in the archive encoding.
const (
	TypeFetched = "Ok"
	TypeFailed  = "Err"
)

// Fetched is the outcome of a segment that was downloaded and decoded.
type Fetched struct {
	GzFilename       string `json:"GzFilename"`
	GzMtime          uint32 `json:"GzMtime"`
	UncompressedSize uint64 `json:"UncompressedSize"`
}

func (Fetched) outcomeType() string { return TypeFetched }

// Failed is the outcome of a segment that could not be downloaded. Status is
// nil when no HTTP response was received.
type Failed struct {
	Status *uint16 `json:"Status"`
}

func (Failed) outcomeType() string { return TypeFailed }

// FailedStatus returns a Failed outcome carrying an HTTP status code.
func FailedStatus(code int) Failed {
	s := uint16(code)
	return Failed{Status: &s}
}

// Record is one archived segment. Payload holds the decompressed segment
// bytes and is only set for a Fetched outcome.
type Record struct {
	Header
	Outcome Outcome
	Payload []byte
}

// Fetched reports whether the record carries a payload.
func (r *Record) Fetched() bool {
	_, ok := r.Outcome.(Fetched)
	return ok
}

type fetchedJSON struct {
	Type string `json:"Type"`
	Fetched
}

type failedJSON struct {
	Type string `json:"Type"`
	Failed
}

type recordJSON struct {
	Header
	Outcome any `json:"Outcome"`
}

// MarshalJSON encodes the header fields followed by a tagged Outcome object.
// The payload is not part of the encoding.
func (r *Record) MarshalJSON() ([]byte, error) {
	var outcome any
	switch o := r.Outcome.(type) {
	case Fetched:
		outcome = fetchedJSON{Type: TypeFetched, Fetched: o}
	case Failed:
		outcome = failedJSON{Type: TypeFailed, Failed: o}
	default:
		return nil, fmt.Errorf("segment %s: unknown outcome %T", r.LogPacketName, r.Outcome)
	}
	return json.Marshal(recordJSON{Header: r.Header, Outcome: outcome})
}

// UnmarshalJSON decodes the encoding produced by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		Header
		Outcome json.RawMessage `json:"Outcome"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var tag struct {
		Type string `json:"Type"`
	}
	if err := json.Unmarshal(raw.Outcome, &tag); err != nil {
		return fmt.Errorf("decode outcome: %w", err)
	}

	r.Header = raw.Header
	r.Payload = nil
	switch tag.Type {
	case TypeFetched:
		var o fetchedJSON
		if err := json.Unmarshal(raw.Outcome, &o); err != nil {
			return fmt.Errorf("decode outcome: %w", err)
		}
		r.Outcome = o.Fetched
	case TypeFailed:
		var o failedJSON
		if err := json.Unmarshal(raw.Outcome, &o); err != nil {
			return fmt.Errorf("decode outcome: %w", err)
		}
		r.Outcome = o.Failed
	default:
		return fmt.Errorf("decode outcome: unknown type %q", tag.Type)
	}
	return nil
}
