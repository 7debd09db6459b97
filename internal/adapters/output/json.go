package output

import (
	"encoding/json"
	"fmt"
	"os"
)

// JSONPrinter renders catctl results as indented JSON on stdout,
// for piping into jq or scripts.
type JSONPrinter struct{}

// Print marshals v and writes it followed by a newline.
func (JSONPrinter) Print(v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(payload))
	return err
}
