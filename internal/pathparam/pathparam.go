// Package pathparam validates request paths against the fixed URL shapes of
// the stats API and extracts their typed parameters. Every function is pure:
// a path either fits its shape exactly or the call fails with
// ErrMalformedRequest.
package pathparam

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedRequest is the sentinel every extraction failure unwraps to.
var ErrMalformedRequest = errors.New("malformed request")

// MalformedRequestError describes which shape a path failed and why.
type MalformedRequestError struct {
	Path   string
	Shape  string
	Reason string
}

func (e *MalformedRequestError) Error() string {
	return fmt.Sprintf("pathparam: %s: path %q does not match %s shape", e.Reason, e.Path, e.Shape)
}

func (e *MalformedRequestError) Unwrap() error { return ErrMalformedRequest }

// ServerEndpoint is a game server identity of the form ipv4-port.
type ServerEndpoint string

// PlayerName is the still percent-encoded player token taken from a path.
type PlayerName string

// BoundedCount is a report size in [0, MaxCount].
type BoundedCount int

const (
	// DefaultCount applies when a report path carries no count segment.
	DefaultCount BoundedCount = 5
	// MaxCount is the largest report size ever served.
	MaxCount BoundedCount = 50

	// TimestampLayout is the only accepted match timestamp format.
	TimestampLayout = "2006-01-02T15:04:05Z"
)

type matcher func(segment string) bool

type shape struct {
	name          string
	segments      []matcher
	optional      []matcher
	openEnded     bool
	trailingSlash bool
}

var (
	endpointShape = shape{
		name:      "server endpoint",
		segments:  []matcher{literal("servers"), isEndpoint},
		openEnded: true,
	}
	playerShape = shape{
		name:          "player stats",
		segments:      []matcher{literal("players"), isToken, literal("stats")},
		trailingSlash: true,
	}
	timestampShape = shape{
		name:          "match timestamp",
		segments:      []matcher{literal("servers"), isEndpoint, literal("matches"), isTimestampToken},
		trailingSlash: true,
	}
	countShape = shape{
		name:          "report count",
		segments:      []matcher{literal("reports"), isReportName},
		optional:      []matcher{isDigits},
		trailingSlash: true,
	}
)

// Endpoint extracts the ipv4-port segment of /servers/<endpoint>[/...].
// Octet ranges are not checked.
func Endpoint(path string) (ServerEndpoint, error) {
	segments, err := endpointShape.match(path)
	if err != nil {
		return "", err
	}
	return ServerEndpoint(segments[1]), nil
}

// Player extracts the name token of /players/<name>/stats.
func Player(path string) (PlayerName, error) {
	segments, err := playerShape.match(path)
	if err != nil {
		return "", err
	}
	return PlayerName(segments[1]), nil
}

// Timestamp extracts and parses the UTC timestamp of
// /servers/<endpoint>/matches/<timestamp>.
func Timestamp(path string) (time.Time, error) {
	segments, err := timestampShape.match(path)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(TimestampLayout, segments[3])
	if err != nil {
		return time.Time{}, &MalformedRequestError{Path: path, Shape: timestampShape.name, Reason: "unparsable timestamp"}
	}
	return ts.UTC(), nil
}

// Count extracts the report size of /reports/<name>[/<digits>]. A missing
// count yields DefaultCount; values at or above MaxCount become MaxCount and
// values at or below zero become zero. Out-of-range counts are normalised,
// never rejected.
func Count(path string) (BoundedCount, error) {
	segments, err := countShape.match(path)
	if err != nil {
		return 0, err
	}
	if len(segments) < 3 {
		return DefaultCount, nil
	}
	n, err := strconv.Atoi(segments[2])
	if err != nil {
		// Only digits reach here, so the sole failure mode is overflow.
		return MaxCount, nil
	}
	switch {
	case n >= int(MaxCount):
		return MaxCount, nil
	case n <= 0:
		return 0, nil
	default:
		return BoundedCount(n), nil
	}
}

// Report extracts the report name of /reports/<name>[/<digits>].
func Report(path string) (string, error) {
	segments, err := countShape.match(path)
	if err != nil {
		return "", err
	}
	return segments[1], nil
}

// Segments splits a path for diagnostics without validating it.
func Segments(path string) []string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func (s shape) match(path string) ([]string, error) {
	fail := func(reason string) error {
		return &MalformedRequestError{Path: path, Shape: s.name, Reason: reason}
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fail("path must be absolute")
	}
	body := path[1:]
	if s.trailingSlash || s.openEnded {
		body = strings.TrimSuffix(body, "/")
	}
	segments := strings.Split(body, "/")

	if len(segments) < len(s.segments) {
		return nil, fail("too few segments")
	}
	if !s.openEnded && len(segments) > len(s.segments)+len(s.optional) {
		return nil, fail("too many segments")
	}
	for i, m := range s.segments {
		if !m(segments[i]) {
			return nil, fail(fmt.Sprintf("segment %d invalid", i+1))
		}
	}
	if s.openEnded {
		return segments, nil
	}
	for i, m := range s.optional {
		idx := len(s.segments) + i
		if idx >= len(segments) {
			break
		}
		if !m(segments[idx]) {
			return nil, fail(fmt.Sprintf("segment %d invalid", idx+1))
		}
	}
	return segments, nil
}

func literal(want string) matcher {
	return func(segment string) bool { return segment == want }
}

// isEndpoint accepts d.d.d.d-p where each octet has 1-3 digits and the port
// at least one.
func isEndpoint(segment string) bool {
	host, port, ok := strings.Cut(segment, "-")
	if !ok || !isDigits(port) {
		return false
	}
	octets := strings.Split(host, ".")
	if len(octets) != 4 {
		return false
	}
	for _, octet := range octets {
		if len(octet) > 3 || !isDigits(octet) {
			return false
		}
	}
	return true
}

func isToken(segment string) bool {
	if segment == "" {
		return false
	}
	for _, r := range segment {
		if !isWordRune(r) && !strings.ContainsRune("-.~%", r) {
			return false
		}
	}
	return true
}

func isReportName(segment string) bool {
	if segment == "" {
		return false
	}
	for _, r := range segment {
		if !isWordRune(r) && r != '-' {
			return false
		}
	}
	return true
}

// isTimestampToken pins the length because time.Parse would otherwise accept
// fractional seconds the layout does not mention.
func isTimestampToken(segment string) bool {
	return len(segment) == len(TimestampLayout)
}

func isDigits(segment string) bool {
	if segment == "" {
		return false
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
