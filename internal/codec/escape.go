package codec

import "strings"

// Node escaping per the messaging network's escaping rules: characters that
// are illegal in an identifier node are written as a backslash followed by
// their hex code. This lets a full identity such as "bob@example.org" travel
// inside a node as "bob\40example.org".

var nodeEscaper = strings.NewReplacer(
	`\`, `\5c`,
	" ", `\20`,
	`"`, `\22`,
	"&", `\26`,
	"'", `\27`,
	"/", `\2f`,
	":", `\3a`,
	"<", `\3c`,
	">", `\3e`,
	"@", `\40`,
)

var nodeUnescaper = strings.NewReplacer(
	`\20`, " ",
	`\22`, `"`,
	`\26`, "&",
	`\27`, "'",
	`\2f`, "/",
	`\3a`, ":",
	`\3c`, "<",
	`\3e`, ">",
	`\40`, "@",
	`\5c`, `\`,
)

// EscapeNode makes a raw label legal as an identifier node.
func EscapeNode(label string) string {
	return nodeEscaper.Replace(label)
}

// UnescapeNode reverses EscapeNode.
func UnescapeNode(node string) string {
	return nodeUnescaper.Replace(node)
}
