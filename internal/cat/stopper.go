package cat

import "github.com/lsat-prep/cat/internal/irt"

// StopReason tells why an exam ended.
type StopReason string

const (
	StopNone          StopReason = ""
	StopMinError      StopReason = "min_error"
	StopMaxItems      StopReason = "max_items"
	StopBankExhausted StopReason = "bank_exhausted"
)

// Stopper decides whether the exam is complete after a response.
type Stopper interface {
	Stop(bank []irt.Item, administered []int, theta float64) StopReason
}

// MinErrorStopper stops once the standard error over the administered items
// reaches Threshold. An unmeasurable SE never stops the exam.
type MinErrorStopper struct {
	Threshold float64
}

func (s MinErrorStopper) Stop(bank []irt.Item, administered []int, theta float64) StopReason {
	se := irt.StandardError(theta, bank, administered)
	if irt.Measurable(se) && se <= s.Threshold {
		return StopMinError
	}
	return StopNone
}

// MaxItemStopper stops once Threshold items have been administered.
type MaxItemStopper struct {
	Threshold int
}

func (s MaxItemStopper) Stop(_ []irt.Item, administered []int, _ float64) StopReason {
	if len(administered) >= s.Threshold {
		return StopMaxItems
	}
	return StopNone
}

// AnyStopper stops as soon as one of its stoppers does, in order.
type AnyStopper []Stopper

func (a AnyStopper) Stop(bank []irt.Item, administered []int, theta float64) StopReason {
	for _, s := range a {
		if r := s.Stop(bank, administered, theta); r != StopNone {
			return r
		}
	}
	return StopNone
}

// NewStopper builds the composite stopper of a session.
func NewStopper(minError float64, maxItems int) Stopper {
	return AnyStopper{MaxItemStopper{Threshold: maxItems}, MinErrorStopper{Threshold: minError}}
}
