package status

// Status represents a job lifecycle state
type Status int

const (
	// Pending - job is admitted and waits for a worker
	Pending Status = iota + 1
	// Processing - job is claimed by a worker
	Processing
	// Completed value
	Completed
	// Failed value
	Failed
	// Cancelled value
	Cancelled
)

var (
	statusName = map[Status]string{Pending: "pending", Processing: "processing",
		Completed: "completed", Failed: "failed", Cancelled: "cancelled"}
	nameStatus = map[string]Status{"pending": Pending, "processing": Processing,
		"completed": Completed, "failed": Failed, "cancelled": Cancelled}
)

// Name returns string representation of a status
func Name(st Status) string {
	return statusName[st]
}

// From parses status from string, returns 0 for unknown value
func From(st string) Status {
	return nameStatus[st]
}

// IsTerminal indicates that a job in this state will never change again
func IsTerminal(st Status) bool {
	return st == Completed || st == Failed || st == Cancelled
}
