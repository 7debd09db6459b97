package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"

	"github.com/tunedeck/catalogd/internal/ctl"
)

// HumanPrinter prints human-readable output.
type HumanPrinter struct {
	NoColor bool
}

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	if p.NoColor {
		pterm.DisableColor()
	}
	switch data := v.(type) {
	case ctl.NodesResult:
		return printNodes(data)
	case ctl.StatusResult:
		return printStatus(data)
	case ctl.EntriesResult:
		return printEntries(data)
	case ctl.ResolveResult:
		return printResolve(data)
	case ctl.UpdateResult:
		return printUpdate(data)
	default:
		_, err := fmt.Fprintln(os.Stdout, "ok")
		return err
	}
}

func printNodes(result ctl.NodesResult) error {
	rows := pterm.TableData{{"NAME", "KIND", "NODE_ID"}}
	for _, node := range result.Nodes {
		rows = append(rows, []string{node.Name, node.Kind, node.NodeID})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printStatus(result ctl.StatusResult) error {
	st := result.Status
	pterm.DefaultSection.Println(result.NodeID)
	rows := pterm.TableData{
		{"state", st.State},
		{"generation", fmt.Sprint(st.Generation)},
		{"documents", fmt.Sprint(st.Docs)},
		{"tracks", fmt.Sprint(st.Tracks)},
		{"albums", fmt.Sprint(st.Albums)},
		{"playlists", fmt.Sprint(st.Playlists)},
	}
	return pterm.DefaultTable.WithData(rows).Render()
}

func printEntries(result ctl.EntriesResult) error {
	if result.Reply.NoCache {
		pterm.Warning.Println("catalog is rebuilding, listing is transient")
	}
	rows := pterm.TableData{{"ID", "TITLE", "ARTIST", "ALBUM"}}
	for _, e := range result.Reply.Entries {
		title := e.Title
		if e.IsContainer() {
			title = title + "/"
		}
		rows = append(rows, []string{e.ID, title, e.Artist, e.Album})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(os.Stdout, "%d entries\n", result.Reply.Total)
	return err
}

func printResolve(result ctl.ResolveResult) error {
	_, err := fmt.Fprintf(os.Stdout, "%s\t%s\n", result.Reply.URI, result.Reply.MIME)
	return err
}

func printUpdate(result ctl.UpdateResult) error {
	if result.Reply.Started {
		pterm.Success.Printfln("update started on %s", result.NodeID)
		return nil
	}
	_, err := fmt.Fprintf(os.Stdout, "update not started, node is %s\n",
		strings.TrimSpace(result.Reply.State))
	return err
}
