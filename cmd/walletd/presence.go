package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// terminalVerifier satisfies the presence challenge from the terminal,
// standing in for the OS biometric or passcode prompt a device adapter
// would raise.
type terminalVerifier struct{}

// Available reports that the challenge can always be raised on a terminal.
func (t *terminalVerifier) Available() bool {
	return true
}

// Confirm asks the user to approve the operation. Answering anything but
// yes counts as an active cancellation.
func (t *terminalVerifier) Confirm(prompt string) (bool, error) {
	fmt.Printf("%s\nConfirm? (yes/no): ", prompt)

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}

	answer = strings.ToLower(strings.TrimSpace(answer))

	return answer == "yes" || answer == "y", nil
}
