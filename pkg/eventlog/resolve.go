package eventlog

// CrashDetail is the failure detail of a result synthesized for a test that started but never
// reported a result
const CrashDetail = "Test crashed (no result received)"

// Resolve converts raw events into one Finished per started test, in order of first
// appearance. Finished events are kept as they are. A Started event without a matching
// Finished becomes a failed result carrying CrashDetail.
//
// Started and Finished events for the same id are paired by occurrence: the k-th Finished
// for an id accounts for the k-th Started. A test that is started again after it finished,
// and then never finishes, still yields a failure.
func Resolve(events []Event) []Finished {
	finishedCount := make(map[string]int)
	for _, ev := range events {
		if f, ok := ev.(Finished); ok {
			finishedCount[f.NodeID]++
		}
	}

	startedCount := make(map[string]int)
	resolved := make([]Finished, 0, len(events))
	for _, ev := range events {
		switch e := ev.(type) {
		case Finished:
			resolved = append(resolved, e)
		case Started:
			startedCount[e.NodeID]++
			if startedCount[e.NodeID] <= finishedCount[e.NodeID] {
				continue
			}
			resolved = append(resolved, Finished{
				NodeID:        e.NodeID,
				Outcome:       OutcomeFailed,
				When:          "call",
				Duration:      0,
				Start:         e.Start,
				Stop:          e.Start,
				Location:      e.Location,
				FailureDetail: CrashDetail,
			})
		}
	}
	return resolved
}

// Counts returns the number of Started and Finished events
func Counts(events []Event) (started, finished int) {
	for _, ev := range events {
		switch ev.Kind() {
		case KindStarted:
			started++
		case KindFinished:
			finished++
		}
	}
	return started, finished
}
