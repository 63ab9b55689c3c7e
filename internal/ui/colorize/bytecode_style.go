package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	jstyles "jdeobf/internal/jdeobf/styles"
)

// BytecodeDark is the listing style, registered as "bytecode-dark".
var BytecodeDark = styles.Register(chroma.MustNewStyle("bytecode-dark", chroma.StyleEntries{
	chroma.Text:       jstyles.Foreground,
	chroma.Background: "bg:" + jstyles.Background,
	chroma.Comment:    jstyles.Comment,

	chroma.Keyword:       jstyles.Opcode,
	chroma.KeywordPseudo: jstyles.Comment,
	chroma.KeywordType:   jstyles.Descriptor,

	chroma.NameClass:    jstyles.Owner,
	chroma.NameFunction: jstyles.Member,
	chroma.NameLabel:    jstyles.Label,
	chroma.Name:         jstyles.Foreground,

	chroma.LiteralNumber: jstyles.Number,
	chroma.String:        jstyles.String,
	chroma.Punctuation:   jstyles.Foreground,
}))

// Bytecode tokenises the listings printed by insn.Format and the graph
// command. It is registered with chroma under the name "jvm-bytecode".
var Bytecode = lexers.Register(chroma.MustNewLexer(
	&chroma.Config{
		Name:      "JVM Bytecode",
		Aliases:   []string{"jvm-bytecode"},
		EnsureNL:  true,
		Filenames: []string{"*.jasm"},
	},
	func() chroma.Rules {
		return chroma.Rules{
			"root": {
				{Pattern: `\n`, Type: chroma.Text},
				{Pattern: `[ \t]+`, Type: chroma.Text},
				{Pattern: `;[^\n]*`, Type: chroma.Comment},
				{Pattern: `"(?:\\.|[^"\\])*"`, Type: chroma.String},
				{Pattern: `L\d+:?`, Type: chroma.NameLabel},
				{Pattern: `#\d+`, Type: chroma.NameLabel},
				{Pattern: `\([^)\s]*\)[^\s,]*`, Type: chroma.KeywordType},
				{Pattern: `(:)([ \t]+)([^\s,]+)`, Type: chroma.ByGroups(chroma.Punctuation, chroma.Text, chroma.KeywordType)},
				{Pattern: `(?:try|catch|line|frame|default|handle|methodtype|condy|any)\b`, Type: chroma.KeywordPseudo},
				{Pattern: `[A-Z][A-Z0-9_]*[A-Z0-9_]\b`, Type: chroma.Keyword},
				{Pattern: `([\w$/\[;]+)(\.)([\w$<>]+)`, Type: chroma.ByGroups(chroma.NameClass, chroma.Punctuation, chroma.NameFunction)},
				{Pattern: `@?-?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?[LFD]?\b`, Type: chroma.LiteralNumber},
				{Pattern: `[\w$/<>\[;]+`, Type: chroma.Name},
				{Pattern: `[^\w\s]`, Type: chroma.Punctuation},
			},
		}
	},
))
