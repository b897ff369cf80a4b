package retry

// StepKind classifies a template step action for retry safety.
type StepKind int

const (
	// StepUnknown is any action not in the table. Unknown actions are
	// treated as non-idempotent.
	StepUnknown StepKind = iota
	StepIdempotent
	StepNonIdempotent
)

func (k StepKind) String() string {
	switch k {
	case StepIdempotent:
		return "idempotent"
	case StepNonIdempotent:
		return "non_idempotent"
	default:
		return "unknown"
	}
}

// RetrySafe reports whether a step of this kind may be re-executed
// without duplicating side effects.
func (k StepKind) RetrySafe() bool {
	return k == StepIdempotent
}

// stepKinds is the static classification table. Assertions, waits and
// read-only captures are safe to re-run; anything that clicks, sends,
// writes or asks a human is not.
var stepKinds = map[string]StepKind{
	// Read-only / verification steps.
	"assert_text":       StepIdempotent,
	"assert_element":    StepIdempotent,
	"assert_url":        StepIdempotent,
	"assert_title":      StepIdempotent,
	"assert_file_exists": StepIdempotent,
	"wait":              StepIdempotent,
	"wait_for_element":  StepIdempotent,
	"wait_for_text":     StepIdempotent,
	"wait_for_download": StepIdempotent,
	"screenshot":        StepIdempotent,
	"capture_text":      StepIdempotent,
	"capture_attribute": StepIdempotent,
	"capture_table":     StepIdempotent,
	"read_file":         StepIdempotent,
	"list_files":        StepIdempotent,
	"get_url":           StepIdempotent,
	"get_clipboard":     StepIdempotent,
	"log_message":       StepIdempotent,

	// Side-effecting steps.
	"click":           StepNonIdempotent,
	"click_by_text":   StepNonIdempotent,
	"double_click":    StepNonIdempotent,
	"fill":            StepNonIdempotent,
	"fill_form":       StepNonIdempotent,
	"type_text":       StepNonIdempotent,
	"press_key":       StepNonIdempotent,
	"send_keys":       StepNonIdempotent,
	"submit_form":     StepNonIdempotent,
	"select_option":   StepNonIdempotent,
	"upload_file":     StepNonIdempotent,
	"download_file":   StepNonIdempotent,
	"move_file":       StepNonIdempotent,
	"copy_file":       StepNonIdempotent,
	"delete_file":     StepNonIdempotent,
	"write_file":      StepNonIdempotent,
	"merge_pdf":       StepNonIdempotent,
	"export_pdf":      StepNonIdempotent,
	"send_email":      StepNonIdempotent,
	"set_clipboard":   StepNonIdempotent,
	"run_script":      StepNonIdempotent,
	"open_app":        StepNonIdempotent,
	"confirm_human":   StepNonIdempotent,
	"human_approval":  StepNonIdempotent,
}

// ClassifyStep returns the kind of a step action name.
func ClassifyStep(action string) StepKind {
	if kind, ok := stepKinds[action]; ok {
		return kind
	}
	return StepUnknown
}

// AllStepsIdempotent reports whether every step in the list is
// classified idempotent. An empty list cannot be proven safe and
// reports false.
func AllStepsIdempotent(steps []string) bool {
	if len(steps) == 0 {
		return false
	}
	for _, s := range steps {
		if !ClassifyStep(s).RetrySafe() {
			return false
		}
	}
	return true
}
