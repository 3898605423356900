package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactAddress masks a street address, keeping only the first token
// (usually the house number) and the last (usually city or zip).
// "12 Maple Ave Trenton" → "12 *** Trenton"
func RedactAddress(addr string) string {
	fields := strings.Fields(addr)
	if len(fields) <= 2 {
		return "***"
	}
	return fields[0] + " *** " + fields[len(fields)-1]
}
