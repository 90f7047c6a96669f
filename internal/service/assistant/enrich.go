package assistant

import (
	"fmt"
	"regexp"
)

const walletHintFormat = "\n\n[Context: User's connected wallet address is %s]"

var walletReference = regexp.MustCompile(`(?i)\b(my|mine)\s+(wallet|balance|address|sol)\b`)

// Enrich appends the connected wallet address to message when the user refers
// to their own wallet. Without a userID the message is returned unchanged.
// The hint is appended verbatim and never de-duplicated.
func Enrich(message, userID string) string {
	if userID == "" || !walletReference.MatchString(message) {
		return message
	}
	return message + fmt.Sprintf(walletHintFormat, userID)
}
