package emailutil

import "strings"

// Normalize lowercases and trims an address so allow-list lookups are
// insensitive to how the provider or the user typed it.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ExtractDomain returns the part after the single '@', or "" when the
// address is malformed.
func ExtractDomain(email string) string {
	local, domain, ok := strings.Cut(Normalize(email), "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return ""
	}
	return domain
}

// Contains reports whether list holds email after normalisation.
func Contains(list []string, email string) bool {
	email = Normalize(email)
	if email == "" {
		return false
	}
	for _, candidate := range list {
		if Normalize(candidate) == email {
			return true
		}
	}
	return false
}
