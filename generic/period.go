package generic

// =============================================================================
// PERIOD - Interest and tracking window
// =============================================================================

// Period is a date window measured by days elapsed: Start is exclusive and
// End inclusive, so a period from Jan 1 to Jan 31 spans 30 days.
type Period struct {
	Start TimePoint
	End   TimePoint
}

func NewPeriod(start, end TimePoint) (Period, error) {
	if end.Before(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start, End: end}, nil
}

// Days returns the number of days elapsed across the period.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End)
}

// Covers reports whether t falls in (Start, End].
func (p Period) Covers(t TimePoint) bool {
	return t.After(p.Start) && t.BeforeOrEqual(p.End)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "(" + p.Start.String() + ", " + p.End.String() + "]"
}
