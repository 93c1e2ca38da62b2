package billing

import "fmt"

// =============================================================================
// PERIOD - Half-open billing interval [Start, End)
// =============================================================================

// Period is the interval an invoice covers. End is exclusive, so
// consecutive periods share a boundary without overlapping.
type Period struct {
	Start Date
	End   Date
}

func NewPeriod(start, end Date) (Period, error) {
	p := Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return &ValidationError{Field: "period", Message: "start and end are required"}
	}
	if !p.Start.Before(p.End) {
		return &ValidationError{Field: "period", Message: fmt.Sprintf("end %s must be after start %s", p.End, p.Start)}
	}
	return nil
}

// Contains reports whether d falls in [Start, End).
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.Before(p.End)
}

// Covers reports whether o lies entirely inside p.
func (p Period) Covers(o Period) bool {
	return o.Start.AfterOrEqual(p.Start) && o.End.BeforeOrEqual(p.End)
}

// Overlaps reports whether [start, end) intersects p. A nil end is open-ended.
func (p Period) Overlaps(start Date, end *Date) bool {
	if !start.Before(p.End) {
		return false
	}
	return end == nil || end.After(p.Start)
}

// LastDay is the final day inside the period.
func (p Period) LastDay() Date { return p.End.AddDays(-1) }

func (p Period) Equal(o Period) bool { return p.Start.Equal(o.Start) && p.End.Equal(o.End) }

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + ")"
}
