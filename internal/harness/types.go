package harness

// Trace event types.
const (
	EventRequest  = "request"
	EventFirstRun = "first_run"
	EventAdmit    = "admit"
	EventJob      = "job"
)

// TraceEvent is one observable step of a scenario run.
// Times are epoch seconds in the same decimal form the store uses.
type TraceEvent struct {
	At       string `json:"at"`
	Type     string `json:"type"`
	Key      string `json:"key"`
	Decision string `json:"decision"`
	FireAt   string `json:"fire_at,omitempty"`
	RunAt    string `json:"run_at,omitempty"`
	JobID    string `json:"job_id,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains all requests, admissions and job firings in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Admissions counts admissions per identity key, from admit steps and
	// from jobs whose handler ran.
	Admissions map[string]int `json:"admissions"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Errors:     []string{},
		Admissions: make(map[string]int),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends ev to the trace.
func (r *Result) AddEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// TotalAdmissions sums Admissions over all identities.
func (r *Result) TotalAdmissions() int {
	n := 0
	for _, c := range r.Admissions {
		n += c
	}
	return n
}
