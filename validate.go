package opaqueauth

import "regexp"

const (
	mailMinLen = 5
	mailMaxLen = 100

	clientMessageMinLen = 5
	clientMessageMaxLen = 256
)

var (
	usernameRe = regexp.MustCompile(`^[1-9a-z_.\-]{3,15}$`)
	// HTML5 email syntax; matches what the registration form accepts.
	mailRe = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~\-]+@[a-zA-Z0-9](?:[a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)
)

// ValidUsername reports whether the username is 3–15 characters of lowercase
// letters, digits 1–9, underscore, dash, or period.
func ValidUsername(username string) bool {
	return usernameRe.MatchString(username)
}

// ValidMail reports whether the mail address is syntactically plausible.
func ValidMail(mail string) bool {
	if len(mail) < mailMinLen || len(mail) > mailMaxLen {
		return false
	}
	return mailRe.MatchString(mail)
}

// ValidClientMessage bounds the size of a raw client protocol message.
func ValidClientMessage(message []byte) bool {
	return len(message) >= clientMessageMinLen && len(message) <= clientMessageMaxLen
}
