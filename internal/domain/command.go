package domain

// Command is a single shell directive that is expected to exit with status 0.
type Command struct {
	Name      string `json:"name"`
	Directive string `json:"directive"`
}

// CommandResult holds what a remote process left behind.
type CommandResult struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

func (r CommandResult) Succeeded() bool {
	return r.ExitStatus == 0
}
