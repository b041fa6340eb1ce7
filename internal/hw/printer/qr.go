package printer

import (
	"fmt"
	"strings"
)

// QRLevel is the error-correction level byte of the QR command.
type QRLevel byte

const (
	QRLevelL QRLevel = 0x4c
	QRLevelM QRLevel = 0x4d
	QRLevelQ QRLevel = 0x51
	QRLevelH QRLevel = 0x48
)

// qrMargin is the feed, in dots, around a printed QR code.
const qrMargin = 20

// Capacity returns the largest payload, in bytes, the printer encodes at this level.
func (q QRLevel) Capacity() (int, bool) {
	switch q {
	case QRLevelL:
		return 154, true
	case QRLevelM:
		return 122, true
	case QRLevelQ:
		return 86, true
	case QRLevelH:
		return 64, true
	default:
		return 0, false
	}
}

func (q QRLevel) String() string {
	switch q {
	case QRLevelL, QRLevelM, QRLevelQ, QRLevelH:
		return string(rune(q))
	default:
		return fmt.Sprintf("0x%02x", byte(q))
	}
}

// ParseQRLevel parses "L", "M", "Q" or "H" (case-insensitive).
func ParseQRLevel(s string) (QRLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "L":
		return QRLevelL, nil
	case "M":
		return QRLevelM, nil
	case "Q":
		return QRLevelQ, nil
	case "H":
		return QRLevelH, nil
	default:
		return 0, fmt.Errorf("unknown QR level %q (want L, M, Q or H)", s)
	}
}
