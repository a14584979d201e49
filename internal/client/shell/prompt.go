package shell

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PromptLine prints label and reads one trimmed line.
func PromptLine(sc *bufio.Scanner, out io.Writer, label string) string {
	fmt.Fprint(out, label)
	if !sc.Scan() {
		return ""
	}
	return strings.TrimSpace(sc.Text())
}

// PromptConfirm asks a yes/no question; anything but y/yes is no.
func PromptConfirm(sc *bufio.Scanner, out io.Writer, question string) bool {
	answer := strings.ToLower(PromptLine(sc, out, question+" [y/N]: "))
	return answer == "y" || answer == "yes"
}
