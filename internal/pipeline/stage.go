package pipeline

// Stage is a step of the per-request state machine. Stages are entered
// strictly in declaration order, each exactly once.
type Stage int

const (
	Entered Stage = iota
	ContextPushed
	HandlerRunning
	ContextPopped
	HeadersWritten
	Exited
)

var stageNames = [...]string{
	Entered:        "entered",
	ContextPushed:  "context_pushed",
	HandlerRunning: "handler_running",
	ContextPopped:  "context_popped",
	HeadersWritten: "headers_written",
	Exited:         "exited",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Observer is notified of every stage transition of every request. It runs
// on the request goroutine and must not block.
type Observer func(Stage)
