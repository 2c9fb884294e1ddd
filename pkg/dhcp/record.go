package dhcp

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/psaab/homegw/pkg/prefix"
)

// Lease event reasons reported by the DHCPv6 client.
const (
	ReasonBound   = "BOUND6"
	ReasonRenew   = "RENEW6"
	ReasonRebind  = "REBIND6"
	ReasonReboot  = "REBOOT"
	ReasonTimeout = "TIMEOUT"
	ReasonExpire  = "EXPIRE"
	ReasonFail    = "FAIL"
	ReasonStop    = "STOP"
	ReasonRelease = "RELEASE"
)

// Record is one lease event line, split into key=value pairs.
type Record map[string]string

// Reason returns the record's lease event reason.
func (r Record) Reason() string { return r["reason"] }

// OldPrefix returns old_ip6_prefix, if present and well formed.
func (r Record) OldPrefix() (prefix.Prefix, bool) { return r.prefix("old_ip6_prefix") }

// NewPrefix returns new_ip6_prefix, if present and well formed.
func (r Record) NewPrefix() (prefix.Prefix, bool) { return r.prefix("new_ip6_prefix") }

func (r Record) prefix(key string) (prefix.Prefix, bool) {
	v, ok := r[key]
	if !ok || v == "" {
		return prefix.Prefix{}, false
	}
	p, err := prefix.Parse(v)
	if err != nil {
		slog.Warn("DHCPv6: bad prefix in lease record", "key", key, "value", v, "err", err)
		return prefix.Prefix{}, false
	}
	return p, true
}

// ParseRecord splits a whitespace-delimited line of key=value tokens.
func ParseRecord(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty lease record")
	}
	rec := make(Record, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("lease record token %q: want key=value", f)
		}
		rec[k] = v
	}
	if rec.Reason() == "" {
		return nil, fmt.Errorf("lease record without reason")
	}
	return rec, nil
}

// ParseRecords parses client output, one record per line. Lines that do
// not parse are logged and skipped.
func ParseRecords(dev string, out []byte) []Record {
	var recs []Record
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			slog.Warn("DHCPv6: skipping lease record", "interface", dev, "line", line, "err", err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

// FormatRecord renders a record in the client's output form.
func FormatRecord(reason string, oldPfx, newPfx prefix.Prefix) string {
	var b strings.Builder
	fmt.Fprintf(&b, "reason=%s", reason)
	b.WriteString(" old_ip6_prefix=")
	if oldPfx.IsValid() {
		b.WriteString(oldPfx.String())
	}
	b.WriteString(" new_ip6_prefix=")
	if newPfx.IsValid() {
		b.WriteString(newPfx.String())
	}
	return b.String()
}
