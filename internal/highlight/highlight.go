// Package highlight rewrites bare mentions of a username into @-mentions.
package highlight

import (
	"regexp"
	"strings"
)

// Username returns text with every bare mention of user prefixed with "@".
// A word is a mention when it is exactly user, optionally followed by one of
// ",.:!?". Words already starting with "@user" are left unchanged. Text is
// split and rejoined on single spaces, so runs of spaces survive as-is.
func Username(user, text string) string {
	if user == "" {
		return text
	}

	words := strings.Split(text, " ")
	mention := regexp.MustCompile(`^` + regexp.QuoteMeta(user) + `[,.:!?]?$`)
	prefixed := "@" + user

	for i, word := range words {
		if strings.HasPrefix(word, prefixed) {
			continue
		}
		if mention.MatchString(word) {
			words[i] = "@" + word
		}
	}

	return strings.Join(words, " ")
}

// Usernames applies Username for each of users in order.
func Usernames(users []string, text string) string {
	for _, user := range users {
		text = Username(user, text)
	}
	return text
}
