package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadSignature   = errors.New("gateway: signature verification failed")
	ErrStaleTimestamp = errors.New("gateway: signature timestamp outside tolerance")
)

// SignatureTolerance is how far a signed timestamp may drift from now.
const SignatureTolerance = 5 * time.Minute

// Sign produces a "t=<unix>,v1=<hex>" signature header for payload.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + computeHMAC(ts, payload, secret)
}

// VerifySignature checks a "t=<unix>,v1=<hex>" header against payload.
// The timestamp must be within SignatureTolerance of now.
func VerifySignature(payload []byte, header, secret string, now time.Time) error {
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", ErrBadSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	drift := now.Sub(time.Unix(unix, 0))
	if drift > SignatureTolerance || drift < -SignatureTolerance {
		return ErrStaleTimestamp
	}

	want := computeHMAC(ts, payload, secret)
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(want)) {
			return nil
		}
	}
	return ErrBadSignature
}

func computeHMAC(ts string, payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
