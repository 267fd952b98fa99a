package cliutil

import (
	"regexp"
	"sort"
)

const redactedPlaceholder = "[redacted]"

// secretName matches variable names that conventionally hold credentials,
// such as DB_PASSWORD, client_secret or GITHUB_TOKEN.
const secretName = `(?:PASSWORD|PASSWD|SECRET|TOKEN|API_?KEY|ACCESS_?KEY(?:_ID)?|PRIVATE_KEY|CREDENTIALS?)`

var (
	templateVarPattern = regexp.MustCompile(`\$\{[^}]+\}`)
	assignmentPattern  = regexp.MustCompile(`(?i)\b(\w*` + secretName + `)(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
	secretNamePattern  = regexp.MustCompile(`(?i)` + secretName)
)

// RedactSecrets masks ${VAR} references and the values assigned to
// secret-looking names in message.
func RedactSecrets(message string) string {
	if message == "" {
		return message
	}
	masked := templateVarPattern.ReplaceAllLiteralString(message, "${"+redactedPlaceholder+"}")
	return assignmentPattern.ReplaceAllString(masked, "$1$2$3"+redactedPlaceholder+"$5")
}

// RedactEnv renders env as sorted KEY=VALUE pairs with the values of
// secret-looking keys masked.
func RedactEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		if secretNamePattern.MatchString(k) {
			v = redactedPlaceholder
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
