package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/docintake/internal/naming"
)

// FilenameFormatURI is the resource that serves the filename contract.
const FilenameFormatURI = "docintake://filename-format"

// FilenameFormatContract describes the canonical storage names that LLM
// consumers read back from search results and produce with compose_filename.
const FilenameFormatContract = `# docintake Filename Contract

Every stored document carries its metadata in its object key. Names are
composed by the service; never invent one by hand; call ` + "`" + `compose_filename` + "`" + `.

## Tag codec (default)

` + "```" + `
m(ttype=1.2)(tname=Lease)(tscope=asset)(tasset=ABC1)(tdate=2024-03)(tmail=jane%40example.com).pdf
` + "```" + `

- The name starts with the literal ` + "`" + `m` + "`" + ` followed by ` + "`" + `(key=value)` + "`" + ` blocks and the extension.
- Keys are lower case ` + "`" + `[a-z0-9_-]` + "`" + `. Known keys, in order:
  ` + "`" + `ttype` + "`" + ` type code, ` + "`" + `tname` + "`" + ` type name (always present, may be empty),
  ` + "`" + `tscope` + "`" + ` one of asset, spv, fund, then ` + "`" + `tasset` + "`" + `, ` + "`" + `tspv` + "`" + ` or ` + "`" + `tfund` + "`" + `,
  ` + "`" + `tdate` + "`" + ` and ` + "`" + `tmail` + "`" + ` (uploader email).
- Values are percent-encoded: every byte outside ` + "`" + `A-Z a-z 0-9 - _ . ~` + "`" + ` becomes ` + "`" + `%XX` + "`" + `
  (upper-case hex). Parentheses and ` + "`" + `=` + "`" + ` therefore never appear inside a value.
- Unknown keys are preserved when decoding.

## Concat scheme

` + "```" + `
1.2_2024-03-01_ABC1_signed - v2_u-1w2hrw.pdf
` + "```" + `

- Segments: type code, date expanded to the first day, identifier, tenant,
  suffix, uploader tag ` + "`" + `u-xxxxxx` + "`" + `. Empty segments are left out.
- The scope is not recorded.

## Type codes

- Dotted digits (` + "`" + `1.2` + "`" + `, ` + "`" + `1.7.1.12` + "`" + `) registered in the type index, or the
  wildcard ` + "`" + `other` + "`" + `, which skips validation and goes to the misc bucket.
- In tenant families the tenant number is a segment of the code itself:
  ` + "`" + `1.7.1.12` + "`" + ` is tenant 12 of family ` + "`" + `1.7` + "`" + `.
- Searching by type ` + "`" + `1.7` + "`" + ` matches ` + "`" + `1.7` + "`" + ` and every ` + "`" + `1.7.*` + "`" + ` code, not ` + "`" + `1.70` + "`" + `.

## Dates

` + "`" + `YYYY-MM` + "`" + ` or ` + "`" + `YYYY-MM-DD` + "`" + ` on upload (see the active configuration below).
Search accepts ` + "`" + `YYYY` + "`" + `, ` + "`" + `YYYY-MM` + "`" + ` or ` + "`" + `YYYY-MM-DD` + "`" + ` and matches the whole period.
`

// FilenameContract returns the contract followed by the settings of cfg.
func FilenameContract(cfg naming.Config) string {
	var b strings.Builder
	b.WriteString(FilenameFormatContract)
	b.WriteString("\n## Active configuration\n\n")
	fmt.Fprintf(&b, "- Scheme: `%s`\n", cfg.Scheme)
	fmt.Fprintf(&b, "- Upload date formats: %s\n", strings.Join(cfg.DateFormats, ", "))
	fmt.Fprintf(&b, "- Allowed extensions: %s (default %s)\n", strings.Join(cfg.AllowedExtensions, ", "), cfg.DefaultExtension)
	for _, tc := range cfg.TenantCases {
		fmt.Fprintf(&b, "- Tenant family `%s`: tenant number is segment %d\n", tc.Prefix, tc.Position+1)
	}
	if cfg.ValidateIdentifierExists {
		b.WriteString("- Identifiers must be registered before upload\n")
	}
	return b.String()
}
