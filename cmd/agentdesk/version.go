package main

import (
	"fmt"
	"io"

	"agentdesk/pkg/version"
)

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "agentdesk version %s\n", version.Summary())
	fmt.Fprintf(out, "  commit: %s\n", version.Commit)
	fmt.Fprintf(out, "  built: %s\n", version.Date)
	fmt.Fprintf(out, "  go: %s\n", version.GoVersion)
	fmt.Fprintf(out, "  platform: %s\n", version.Platform())
}
