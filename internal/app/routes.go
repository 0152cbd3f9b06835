package app

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Routes prints the resolved routing table.
func (a *App) Routes(out io.Writer) error {
	classifier, err := a.newClassifier()
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	registry := classifier.Registry()
	fmt.Fprintln(writer, "Channel\tName\tDialect\tMode\tDomain\tDestination\tExecute")
	for _, route := range registry.Routes() {
		mode := "-"
		if binding, ok := registry.Resolve(route.ChannelID); ok {
			mode = binding.Dialect.Mode().String()
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%t\n",
			route.ChannelID,
			orDash(route.Name),
			route.Dialect,
			mode,
			orDash(route.Domain),
			orDash(route.Destination),
			route.Execute,
		)
	}
	return writer.Flush()
}
