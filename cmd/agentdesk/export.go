package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agentdesk/pkg/session"
)

// exportArtifacts writes every generated file in msgs to dir. Report
// artifacts carry Markdown, so they are written with a .md extension.
func exportArtifacts(dir string, msgs []session.Message) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	var paths []string
	for _, m := range msgs {
		f := m.GeneratedFile
		if f == nil {
			continue
		}
		path := filepath.Join(dir, exportName(*f))
		if err := os.WriteFile(path, []byte(f.Content), 0o644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func exportName(f session.GeneratedFile) string {
	name := filepath.Base(f.Name)
	if f.Type == session.FilePDF {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".md"
	}
	return name
}

// finalReport returns the content of the last report artifact.
func finalReport(msgs []session.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if f := msgs[i].GeneratedFile; f != nil && f.Type == session.FilePDF {
			return f.Content
		}
	}
	return ""
}
