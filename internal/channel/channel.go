// Package channel parses the channel URIs that address publications and
// subscriptions, e.g.
//
//	weft:inproc?endpoint=alpha|term-length=65536|fc=tagged,g:100/2
//
// The scheme is "weft:", the media is the in-process fabric, and
// parameters follow as pipe-separated key=value pairs. Parsed channels
// carry the flow-control policy, optional receiver tag, term length
// override, and control mode consumed by the transport core.
package channel

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/rzbill/weft/internal/flowcontrol"
)

const (
	scheme      = "weft:"
	MediaInproc = "inproc"
)

// ControlMode selects how destinations join a subscription.
type ControlMode int

const (
	// ControlModeNone: the single endpoint named in the URI.
	ControlModeNone ControlMode = iota
	// ControlModeManual: destinations are added and removed explicitly.
	ControlModeManual
	// ControlModeDynamic: the control endpoint named in the URI, with
	// further destinations joining as they attach to the fabric.
	ControlModeDynamic
)

var (
	ErrBadScheme = errors.New("channel: URI must start with weft:")
	ErrBadMedia  = errors.New("channel: unsupported media")
	ErrBadParam  = errors.New("channel: bad parameter")
)

// Channel is a parsed channel URI.
type Channel struct {
	URI         string
	Media       string
	Endpoint    string
	ControlMode ControlMode

	FlowControl    flowcontrol.Policy
	HasFlowControl bool

	ReceiverTag    int64
	HasReceiverTag bool

	TermLength    int32
	HasTermLength bool
}

// Parse decodes a channel URI.
func Parse(uri string) (Channel, error) {
	if !strings.HasPrefix(uri, scheme) {
		return Channel{}, fmt.Errorf("%w: %q", ErrBadScheme, uri)
	}
	rest := uri[len(scheme):]
	media, query, _ := strings.Cut(rest, "?")
	if media != MediaInproc {
		return Channel{}, fmt.Errorf("%w: %q", ErrBadMedia, media)
	}
	ch := Channel{URI: uri, Media: media}
	if query == "" {
		return ch, nil
	}
	for _, kv := range strings.Split(query, "|") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			return Channel{}, fmt.Errorf("%w: %q", ErrBadParam, kv)
		}
		if err := ch.apply(key, value); err != nil {
			return Channel{}, err
		}
	}
	if ch.ControlMode == ControlModeDynamic && ch.Endpoint == "" {
		return Channel{}, fmt.Errorf("%w: control-mode=dynamic needs an endpoint", ErrBadParam)
	}
	return ch, nil
}

func (ch *Channel) apply(key, value string) error {
	switch key {
	case "endpoint":
		ch.Endpoint = value
	case "control-mode":
		switch value {
		case "manual":
			ch.ControlMode = ControlModeManual
		case "dynamic":
			ch.ControlMode = ControlModeDynamic
		default:
			return fmt.Errorf("%w: control-mode=%q", ErrBadParam, value)
		}
	case "fc":
		policy, err := parseFlowControl(value)
		if err != nil {
			return err
		}
		ch.FlowControl = policy
		ch.HasFlowControl = true
	case "rtag":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: rtag=%q", ErrBadParam, value)
		}
		ch.ReceiverTag = n
		ch.HasReceiverTag = true
	case "term-length":
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: term-length=%q", ErrBadParam, value)
		}
		ch.TermLength = int32(n)
		ch.HasTermLength = true
	default:
		return fmt.Errorf("%w: unknown key %q", ErrBadParam, key)
	}
	return nil
}

// parseFlowControl decodes the fc parameter:
//
//	fc=unicast
//	fc=min[,t:<timeout>]
//	fc=tagged,g:<tag>[/<minGroupSize>][,t:<timeout>]
func parseFlowControl(value string) (flowcontrol.Policy, error) {
	parts := strings.Split(value, ",")
	var p flowcontrol.Policy
	switch parts[0] {
	case "unicast":
		p.Mode = flowcontrol.ModeUnicast
	case "min":
		p.Mode = flowcontrol.ModeMinMulticast
	case "tagged":
		p.Mode = flowcontrol.ModeTagged
	default:
		return p, fmt.Errorf("%w: fc=%q", ErrBadParam, value)
	}
	for _, opt := range parts[1:] {
		switch {
		case strings.HasPrefix(opt, "g:"):
			spec := opt[2:]
			tag, size, hasSize := strings.Cut(spec, "/")
			n, err := strconv.ParseInt(tag, 10, 64)
			if err != nil {
				return p, fmt.Errorf("%w: fc group %q", ErrBadParam, spec)
			}
			p.GroupTag = n
			p.HasGroupTag = true
			if hasSize {
				m, err := strconv.Atoi(size)
				if err != nil || m < 0 {
					return p, fmt.Errorf("%w: fc group size %q", ErrBadParam, size)
				}
				p.MinGroupSize = m
			}
		case strings.HasPrefix(opt, "t:"):
			d, err := time.ParseDuration(opt[2:])
			if err != nil {
				return p, fmt.Errorf("%w: fc timeout %q", ErrBadParam, opt)
			}
			p.ReceiverTimeout = d
		default:
			return p, fmt.Errorf("%w: fc option %q", ErrBadParam, opt)
		}
	}
	return p, nil
}

// Key returns a stable hash of the canonical channel addressing, used as
// a map key and counter label. Two URIs naming the same endpoint and
// media hash identically regardless of parameter order.
func (ch Channel) Key() uint64 {
	parts := []string{"media=" + ch.Media, "endpoint=" + ch.Endpoint, "control=" + strconv.Itoa(int(ch.ControlMode))}
	sort.Strings(parts)
	return xxhash.Sum64String(strings.Join(parts, "|"))
}
