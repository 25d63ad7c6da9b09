package amount

import (
	"errors"
	"math"
	"strconv"
)

const (
	NanoHLX = 1e9
)

type Unit int

const (
	MegaHLX  Unit = 6
	KiloHLX  Unit = 3
	HLX      Unit = 0
	MilliHLX Unit = -3
	MicroHLX Unit = -6
	NanoUnit Unit = -9
)

func (u Unit) String() string {
	switch u {
	case MegaHLX:
		return "MHLX"
	case KiloHLX:
		return "kHLX"
	case HLX:
		return "HLX"
	case MilliHLX:
		return "mHLX"
	case MicroHLX:
		return "μHLX"
	case NanoUnit:
		return "nHLX"
	default:
		return "1e" + strconv.FormatInt(int64(u), 10) + " HLX"
	}
}

// Amount is the atomic unit of the helix ledger.
// Each unit equals 1e-9 of an HLX.
type Amount int64

func round(f float64) Amount {
	if f < 0 {
		return Amount(f - 0.5)
	}
	return Amount(f + 0.5)
}

func NewAmount(f float64) (Amount, error) {
	switch {
	case math.IsNaN(f),
		math.IsInf(f, 1),
		math.IsInf(f, -1):
		return 0, errors.New("invalid HLX amount")
	}

	return round(f * float64(NanoHLX)), nil
}

func FromString(str string) (Amount, error) {
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, err
	}
	return NewAmount(f)
}

func FromNano(n int64) Amount {
	return Amount(n)
}

func (a Amount) ToUnit(u Unit) float64 {
	return float64(a) / math.Pow10(int(u+9))
}

func (a Amount) ToHLX() float64 {
	return a.ToUnit(HLX)
}

func (a Amount) ToNano() int64 {
	return int64(a)
}

func (a Amount) Format(u Unit) string {
	units := " " + u.String()
	formatted := strconv.FormatFloat(a.ToUnit(u), 'f', -int(u+9), 64)
	return formatted + units
}

// String is the equivalent of calling Format with HLX.
func (a Amount) String() string {
	return a.Format(HLX)
}

func (a Amount) MulF64(f float64) Amount {
	return round(float64(a) * f)
}
