package stopprogress

// Accept returns the sequence to keep for a bus given the last accepted sequence and a new candidate.
// The sequence never moves backwards, so repeating a candidate that was already accepted changes nothing.
// changed is true only when the accepted sequence differs from lastSequence
func Accept(lastSequence int, candidateSequence int) (accepted int, changed bool) {
	if candidateSequence > lastSequence {
		return candidateSequence, true
	}
	return lastSequence, false
}
