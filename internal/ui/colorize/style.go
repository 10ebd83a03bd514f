// Package colorize provides syntax highlighting for memory and symbol dumps
// printed by the loader inspector.
package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

func init() {
	// Register our custom dump style on package initialization.
	_ = DumpDark
}

// DumpDark is a custom style for hex/relocation dumps.
var DumpDark = styles.Register(chroma.MustNewStyle("ldspace-dump", chroma.StyleEntries{
	chroma.Text:           "#FFFFFF",
	chroma.Background:     "bg:#000000",
	chroma.Comment:        "#FF8000",
	chroma.CommentPreproc: "#FF8000",

	chroma.Keyword:       "#FFFFFF",
	chroma.KeywordPseudo: "#FFFFFF",
	chroma.Name:          "#87CEEB",
	chroma.NameBuiltin:   "#87CEEB",
	chroma.NameVariable:  "#87CEEB",

	chroma.LiteralNumber:        "#FF80C0",
	chroma.LiteralNumberHex:     "#FF80C0",
	chroma.LiteralNumberBin:     "#FF80C0",
	chroma.LiteralNumberOct:     "#FF80C0",
	chroma.LiteralNumberInteger: "#FF80C0",
	chroma.LiteralNumberFloat:   "#FF80C0",

	chroma.NameLabel:    "#FFC800",
	chroma.NameFunction: "#FFFFFF",

	chroma.Operator:    "#FFFFFF",
	chroma.Punctuation: "#FFFFFF",

	chroma.String: "#00FF00",
}))
