package progress

// Status is the outcome of a job.
type Status int

const (
	StatusSuccess Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is delivered exactly once when a job ends. OutputPath is set only
// on success; Err only on failure. Cancellation is not an error.
type Result struct {
	Status     Status
	OutputPath string
	Err        error
}

// Succeeded returns a success result for path.
func Succeeded(path string) Result {
	return Result{Status: StatusSuccess, OutputPath: path}
}

// Cancelled returns a cancellation result.
func Cancelled() Result {
	return Result{Status: StatusCancelled}
}

// Failed returns a failure result carrying err.
func Failed(err error) Result {
	return Result{Status: StatusFailed, Err: err}
}

// Message is the user-visible text for r: empty on success, "Cancelled" on
// cancellation, the error text on failure.
func (r Result) Message() string {
	switch r.Status {
	case StatusSuccess:
		return ""
	case StatusCancelled:
		return "Cancelled"
	default:
		if r.Err == nil {
			return "failed"
		}
		return r.Err.Error()
	}
}
