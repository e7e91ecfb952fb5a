package domain

import (
	"fmt"
	"strings"
)

// RRClass is a DNS resource-record class, e.g. IN or CH. It is kept as a
// small value type rather than deferring to a full DNS library, since the
// wire parser and RRset types are explicitly out of scope for this module.
type RRClass string

// Known classes this module recognizes when validating loadzone arguments.
const (
	RRClassIN RRClass = "IN"
	RRClassCH RRClass = "CH"
	RRClassHS RRClass = "HS"
)

// ParseRRClass validates and normalizes a class string from bus input.
func ParseRRClass(s string) (RRClass, error) {
	switch RRClass(strings.ToUpper(s)) {
	case RRClassIN:
		return RRClassIN, nil
	case RRClassCH:
		return RRClassCH, nil
	case RRClassHS:
		return RRClassHS, nil
	default:
		return "", NewError(KindBadLoadZoneArgs, fmt.Sprintf("bad class: %s", s))
	}
}

func (c RRClass) String() string { return string(c) }

// ZoneName is a DNS origin name. Validation here is limited to the
// syntactic checks the manager itself needs (non-empty, no internal
// whitespace, no doubled separators); full name-parsing semantics live in
// the wire parser, which is out of scope.
type ZoneName string

// ParseZoneName validates a zone origin supplied over the bus.
func ParseZoneName(s string) (ZoneName, error) {
	if s == "" {
		return "", NewError(KindBadLoadZoneArgs, "empty origin")
	}
	if strings.ContainsAny(s, " \t\r\n") || strings.Contains(s, "..") {
		return "", NewError(KindBadLoadZoneArgs, fmt.Sprintf("bad origin: %s", s))
	}
	return ZoneName(s), nil
}

func (z ZoneName) String() string { return string(z) }

// ReaderID is the opaque bus-assigned name of a reader process.
type ReaderID string

// DataSourceName identifies a configured data source within a class.
type DataSourceName string

// SegmentKey identifies a SegmentInfo within a generation: the pair
// (RR class, data-source name) the distilled spec keys segment_info_map on.
type SegmentKey struct {
	Class      RRClass
	DataSource DataSourceName
}

func (k SegmentKey) String() string {
	return fmt.Sprintf("%s/%s", k.Class, k.DataSource)
}
