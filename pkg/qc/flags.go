package qc

// Flag is a QARTOD quality flag code. Flags annotate samples; the flagged
// values themselves are never altered or dropped.
type Flag byte

const (
	// Pass marks a sample that cleared every configured test.
	Pass Flag = 1

	// NotEvaluated marks a sample a test could not judge, e.g. the first
	// sample of a rate of change test.
	NotEvaluated Flag = 2

	// Suspect marks a sample that tripped a suspect threshold. Suspect data
	// ships; downstream users decide what to do with it.
	Suspect Flag = 3

	// Fail marks a sample outside the failure threshold.
	Fail Flag = 4

	// Missing marks a sample with no value to test.
	Missing Flag = 9
)

// String renders the flag name used in log lines.
func (f Flag) String() string {
	switch f {
	case Pass:
		return "pass"
	case NotEvaluated:
		return "not_evaluated"
	case Suspect:
		return "suspect"
	case Fail:
		return "fail"
	case Missing:
		return "missing"
	}
	return "unknown"
}

// severity orders flags for aggregation. Fail outranks suspect outranks pass;
// not evaluated ranks below pass since an untested sample is not evidence of a
// problem.
func severity(f Flag) int {
	switch f {
	case Fail:
		return 4
	case Suspect:
		return 3
	case Missing:
		return 2
	case Pass:
		return 1
	}
	return 0
}

// worst returns the more severe of two flags.
func worst(a, b Flag) Flag {
	if severity(b) > severity(a) {
		return b
	}
	return a
}
