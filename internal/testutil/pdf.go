package testutil

import (
	"bytes"
	"compress/zlib"
	"fmt"
)

// BuildPDF returns a minimal PDF with one page per entry of pages, each
// showing its text in Helvetica. With compress set the content streams are
// FlateDecode encoded.
func BuildPDF(pages []string, compress bool) []byte {
	n := len(pages)
	fontObj := 3 + 2*n
	var objs []string

	kids := ""
	for i := range pages {
		kids += fmt.Sprintf("%d 0 R ", 3+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n),
	)

	for i, text := range pages {
		content := []byte(fmt.Sprintf("BT\n/F1 12 Tf\n72 712 Td\n(%s) Tj\nET", text))
		dict := ""
		if compress {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			zw.Write(content)
			zw.Close()
			content = buf.Bytes()
			dict = " /Filter /FlateDecode"
		}
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 %d 0 R >> >> >>", 4+2*i, fontObj),
			fmt.Sprintf("<< /Length %d%s >>\nstream\n%s\nendstream", len(content), dict, content),
		)
	}
	objs = append(objs, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return out.Bytes()
}
