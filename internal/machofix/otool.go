package machofix

import (
	"fmt"
	"os/exec"
	"strings"
)

// readLoadCommands shells out to `otool -l` and scrapes its line-oriented
// output for the load commands RewriteFile needs: LC_ID_DYLIB,
// LC_LOAD_DYLIB, LC_RPATH, and LC_CODE_SIGNATURE presence.
func readLoadCommands(path string) (LoadCommands, error) {
	otool, err := exec.LookPath("otool")
	if err != nil {
		return LoadCommands{}, fmt.Errorf("otool not found: %w", err)
	}

	out, err := exec.Command(otool, "-l", path).Output()
	if err != nil {
		return LoadCommands{}, fmt.Errorf("otool -l failed: %w", err)
	}
	lc := parseLoadCommandsText(string(out))

	lc.Signed = isSigned(path)
	return lc, nil
}

// parseLoadCommandsText walks `otool -l` output load-command by
// load-command, collecting LC_ID_DYLIB's "name" field, every LC_LOAD_DYLIB's
// "name" field, and every LC_RPATH's "path" field.
func parseLoadCommandsText(output string) LoadCommands {
	var lc LoadCommands
	lines := strings.Split(output, "\n")

	var currentCmd string
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		switch {
		case line == "cmd LC_ID_DYLIB":
			currentCmd = "LC_ID_DYLIB"
		case line == "cmd LC_LOAD_DYLIB" || line == "cmd LC_LOAD_WEAK_DYLIB" || line == "cmd LC_REEXPORT_DYLIB":
			currentCmd = "LC_LOAD_DYLIB"
		case line == "cmd LC_RPATH":
			currentCmd = "LC_RPATH"
		case strings.HasPrefix(line, "cmd "):
			currentCmd = ""

		case currentCmd == "LC_ID_DYLIB" && strings.HasPrefix(line, "name "):
			lc.InstallName = trimOtoolValue(strings.TrimPrefix(line, "name "))
			currentCmd = ""
		case currentCmd == "LC_LOAD_DYLIB" && strings.HasPrefix(line, "name "):
			lc.Linked = append(lc.Linked, trimOtoolValue(strings.TrimPrefix(line, "name ")))
			currentCmd = ""
		case currentCmd == "LC_RPATH" && strings.HasPrefix(line, "path "):
			lc.RPaths = append(lc.RPaths, trimOtoolValue(strings.TrimPrefix(line, "path ")))
			currentCmd = ""
		}
	}

	return lc
}

// trimOtoolValue strips the trailing "(offset NN)" annotation otool prints
// after name/path fields.
func trimOtoolValue(s string) string {
	if idx := strings.Index(s, " (offset"); idx != -1 {
		return s[:idx]
	}
	return strings.TrimSpace(s)
}

// isSigned reports whether path already carries a code signature, via
// `codesign -dv`. Absence of the tool (non-macOS hosts) is treated as
// unsigned rather than an error, since RewriteFile only needs this to decide
// whether re-signing after a rewrite is necessary.
func isSigned(path string) bool {
	codesign, err := exec.LookPath("codesign")
	if err != nil {
		return false
	}
	out, err := exec.Command(codesign, "-dv", path).CombinedOutput()
	if err != nil {
		return false
	}
	return !strings.Contains(string(out), "code object is not signed")
}
