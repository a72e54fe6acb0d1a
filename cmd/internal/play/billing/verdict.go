package billing

import (
	"fmt"
	"strings"
)

// Verdict is the billing provider's decision for a principal or a stream.
type Verdict string

const (
	VerdictOK           Verdict = "OK"
	VerdictInsufficient Verdict = "INSUFFICIENT"
	VerdictStopped      Verdict = "STOPPED"
	VerdictUnknown      Verdict = "UNKNOWN"
)

// OK reports whether the verdict allows play to continue.
func (v Verdict) OK() bool { return v == VerdictOK }

func (v Verdict) String() string { return string(v) }

// ParseVerdict accepts a verdict name in any case.
func ParseVerdict(raw string) (Verdict, error) {
	switch Verdict(strings.ToUpper(strings.TrimSpace(raw))) {
	case VerdictOK:
		return VerdictOK, nil
	case VerdictInsufficient:
		return VerdictInsufficient, nil
	case VerdictStopped:
		return VerdictStopped, nil
	case VerdictUnknown:
		return VerdictUnknown, nil
	default:
		return "", fmt.Errorf("%w: unknown verdict %q", ErrMalformed, raw)
	}
}
