// Package templates holds the HTML components served by the web package.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/enrolment/internal/core"
)

// StatusView is the data behind the status page.
type StatusView struct {
	Snapshots []core.SnapshotStatus
	Modes     []core.ModePlan
	Uploads   core.UploadLimiterStatus
}

const pageHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Enrolment snapshots</title>
</head>
<body>
`

const pageFoot = `</body>
</html>
`

// StatusPage renders snapshot row counts, upload capacity and the modes
// accepted by /batch_upload.
func StatusPage(v StatusView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(pageHead)

		b.WriteString("<h1>Enrolment snapshots</h1>\n<table id=\"snapshots\">\n")
		b.WriteString("<tr><th>Role</th><th>Table</th><th>Extended fields</th><th>Rows</th></tr>\n")
		for _, s := range v.Snapshots {
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%d</td></tr>\n",
				templ.EscapeString(s.Label),
				templ.EscapeString(s.Table),
				yesNo(s.SupportsExtended),
				s.Rows,
			)
		}
		b.WriteString("</table>\n")

		fmt.Fprintf(&b, "<p id=\"uploads\">Uploads: %d active, %d of %d file slots free</p>\n",
			v.Uploads.Active, v.Uploads.Available, v.Uploads.MaxConcurrent)

		b.WriteString("<h2>Analysis modes</h2>\n<table id=\"modes\">\n")
		b.WriteString("<tr><th>Mode</th><th>Files</th><th>Snapshots</th><th>Reports</th></tr>\n")
		for _, m := range v.Modes {
			roles := make([]string, len(m.Roles))
			for i, r := range m.Roles {
				roles[i] = string(r)
			}
			reports := make([]string, len(m.Reports))
			for i, r := range m.Reports {
				reports[i] = "/" + string(r)
			}
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%d</td><td>%s</td><td>%s</td></tr>\n",
				templ.EscapeString(m.Mode.String()),
				m.RequiredFiles,
				templ.EscapeString(strings.Join(roles, ", ")),
				templ.EscapeString(strings.Join(reports, " ")),
			)
		}
		b.WriteString("</table>\n")

		b.WriteString(pageFoot)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// ErrorAlert renders a formatted user-facing error.
func ErrorAlert(message string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<div class=\"error\" role=\"alert\"><p>%s</p></div>\n",
			templ.EscapeString(message))
		return err
	})
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
