// File: server/docs.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "bytes"

const (
	docsHead = `<!doctype html>
<html>
<head>
<title>API Reference</title>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width, initial-scale=1" />
</head>
<body>
<script id="api-reference" type="application/json">
`
	docsTail = `
</script>
<script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>
`
)

// docsPage renders the API reference page with the OpenAPI document
// inlined. "</" is escaped so the document cannot end the script element.
func docsPage(doc []byte) []byte {
	escaped := bytes.ReplaceAll(doc, []byte("</"), []byte(`<\/`))
	page := make([]byte, 0, len(docsHead)+len(escaped)+len(docsTail))
	page = append(page, docsHead...)
	page = append(page, escaped...)
	return append(page, docsTail...)
}
