package analyzer

import "fmt"

// fExpr estimates f(n) purely from loop nesting depth observed
// directly in the function body: depth 0 -> "1", depth 1 -> "n",
// depth >= 2 -> "n^<depth>".
func fExpr(maxLoopDepth int) string {
	switch {
	case maxLoopDepth <= 0:
		return "1"
	case maxLoopDepth == 1:
		return "n"
	default:
		return fmt.Sprintf("n^%d", maxLoopDepth)
	}
}

// synthesize builds the RecurrenceEntry for a recursive frame,
// mirroring leave_function's field order: a decrease record is
// assembled first, then unconditionally replaced by a divide record
// when divide data is present. That ordering — not a separate
// precedence check — is what makes divide win whenever a function
// exhibits both.
func (f *functionFrame) synthesize() *RecurrenceEntry {
	if !f.isRecursive {
		return nil
	}

	rec := &RecurrenceEntry{
		A: f.selfCallsA,
		F: fExpr(f.maxLoopDepth),
	}

	if f.hasDecrease {
		rec.Model = "decrease"
		rec.C = f.decreaseC
	}
	if f.hasDivideB && f.divideB > 1 {
		rec.Model = "divide"
		rec.B = f.divideB
		rec.BAmbiguous = f.bAmbiguous
		rec.C = 0
	}

	return rec
}

// leaveFunction finalizes the active frame into a FunctionRecord (and,
// for recursive functions, a RecurrenceTopEntry), appends both to the
// walk's collected output, and clears the active frame.
func (s *walkState) leaveFunction() {
	f := s.frame
	if f == nil {
		return
	}

	record := FunctionRecord{
		Name:         f.name,
		IsRecursive:  f.isRecursive,
		Calls:        f.calls,
		LoopCount:    f.loopCount,
		MaxLoopDepth: f.maxLoopDepth,
		SizeParam:    f.sizeParam,
	}
	if f.sizeParamIndex >= 0 {
		idx := f.sizeParamIndex
		record.SizeParamIndex = &idx
	}

	if rec := f.synthesize(); rec != nil {
		record.Recurrence = rec
		s.recurrences = append(s.recurrences, RecurrenceTopEntry{
			Function:   f.name,
			A:          rec.A,
			F:          rec.F,
			Model:      rec.Model,
			B:          rec.B,
			BAmbiguous: rec.BAmbiguous,
			C:          rec.C,
		})
	}

	s.functions = append(s.functions, record)
	s.frame = nil
}
