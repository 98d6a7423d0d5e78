// Package tcapi signs and sends Tencent Cloud API requests using the
// TC3-HMAC-SHA256 scheme.
package tcapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// Algorithm is the signature algorithm tag.
	Algorithm = "TC3-HMAC-SHA256"
	// ContentType is the only request style used: a JSON POST body.
	ContentType = "application/json; charset=utf-8"
	// SignedHeaders lists the headers covered by the signature, in order.
	SignedHeaders = "content-type;host;x-tc-action"

	terminator = "tc3_request"
	// scopeDateLayout renders the UTC calendar date in the credential scope.
	scopeDateLayout = "2006-01-02"
)

// Service identifies an API endpoint family.
type Service struct {
	Name    string
	Host    string
	Version string
}

// Known services.
var (
	EdgeOne = Service{Name: "teo", Host: "teo.tencentcloudapi.com", Version: "2022-09-01"}
	SSL     = Service{Name: "ssl", Host: "ssl.tencentcloudapi.com", Version: "2019-12-05"}
)

// SignedRequest is everything needed to send one signed API call.
type SignedRequest struct {
	Method string
	URI    string
	Host   string
	Header http.Header
	Body   []byte
}

// Sign produces a signed POST request for action on svc. It performs no I/O
// and reads no clock: identical inputs yield identical output.
func Sign(svc Service, action string, payload []byte, timestamp int64, creds Credentials) SignedRequest {
	ts := strconv.FormatInt(timestamp, 10)
	date := scopeDate(timestamp)
	scope := credentialScope(date, svc.Name)

	canonical := canonicalRequest(svc.Host, action, payload)
	toSign := stringToSign(ts, scope, canonical)
	signature := hex.EncodeToString(hmacSHA256(signingKey(creds.SecretKey, date, svc.Name), toSign))

	authorization := Algorithm +
		" Credential=" + creds.SecretID + "/" + scope +
		", SignedHeaders=" + SignedHeaders +
		", Signature=" + signature

	h := make(http.Header, 6)
	h.Set("Authorization", authorization)
	h.Set("Content-Type", ContentType)
	h.Set("Host", svc.Host)
	h.Set("X-TC-Action", action)
	h.Set("X-TC-Timestamp", ts)
	h.Set("X-TC-Version", svc.Version)

	return SignedRequest{
		Method: http.MethodPost,
		URI:    "/",
		Host:   svc.Host,
		Header: h,
		Body:   payload,
	}
}

func scopeDate(timestamp int64) string {
	return time.Unix(timestamp, 0).UTC().Format(scopeDateLayout)
}

func credentialScope(date, service string) string {
	return date + "/" + service + "/" + terminator
}

// canonicalRequest emits the headers block as content-type, host, x-tc-action.
// The order is part of the protocol.
func canonicalRequest(host, action string, payload []byte) string {
	headers := "content-type:" + ContentType + "\n" +
		"host:" + host + "\n" +
		"x-tc-action:" + strings.ToLower(action) + "\n"

	return strings.Join([]string{
		http.MethodPost,
		"/",
		"",
		headers,
		SignedHeaders,
		sha256Hex(payload),
	}, "\n")
}

func stringToSign(timestamp, scope, canonical string) string {
	return strings.Join([]string{
		Algorithm,
		timestamp,
		scope,
		sha256Hex([]byte(canonical)),
	}, "\n")
}

func signingKey(secret, date, service string) []byte {
	k := hmacSHA256([]byte("TC3"+secret), date)
	k = hmacSHA256(k, service)
	return hmacSHA256(k, terminator)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}
