package output

// Printer renders a catctl result on stdout. The human and JSON
// implementations are selected by the --json flag.
type Printer interface {
	Print(v any) error
}
