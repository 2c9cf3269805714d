package frontend

import (
	"context"
	"html"
	"io"

	"github.com/a-h/templ"

	"github.com/kitchensync/project/internal/contracts"
)

func page(title, body string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w,
			`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"/>`+
				`<meta name="viewport" content="width=device-width, initial-scale=1"/>`+
				`<title>`+html.EscapeString(title)+`</title>`+
				`<link rel="stylesheet" href="/static/styles.css"/>`+
				`</head><body>`+body+`</body></html>`)
		return err
	})
}

// LoginPage renders the credential form. Submission is handled by the API;
// the page only posts and stores the returned token.
func LoginPage() templ.Component {
	return page("Kitchen Ops - Sign in",
		`<div class="login"><h2>Kitchen Ops</h2>`+
			`<form id="login-form">`+
			`<input name="username" placeholder="username" autocomplete="username"/>`+
			`<input name="password" type="password" placeholder="password" autocomplete="current-password"/>`+
			`<button type="submit">Sign in</button>`+
			`</form>`+
			`<script src="/static/app.js"></script></div>`)
}

// BoardPage renders the workspace shell. Columns and the chat panel are
// filled by the event stream after the page connects.
func BoardPage() templ.Component {
	body := `<header><strong>Kitchen Ops</strong><span class="presence" id="presence"></span></header>` +
		`<main><div class="board" id="board">`
	for _, key := range contracts.Columns() {
		body += `<div class="column" data-column="` + html.EscapeString(string(key)) + `">` +
			`<h3>` + html.EscapeString(columnLabel(key)) + `</h3><div class="cards"></div></div>`
	}
	body += `</div>` +
		`<div class="chat" id="chat">` +
		`<div class="messages" id="messages"></div>` +
		`<div class="typing" id="typing"></div>` +
		`<input id="composer" placeholder="Message the team…"/>` +
		`</div></main>` +
		`<script src="/static/app.js"></script>`
	return page("Kitchen Ops - Board", body)
}

func columnLabel(key contracts.ColumnKey) string {
	switch key {
	case contracts.ColumnPending:
		return "Pending"
	case contracts.ColumnInProgress:
		return "In Progress"
	case contracts.ColumnCompleted:
		return "Completed"
	case contracts.ColumnOverdue:
		return "Overdue"
	default:
		return string(key)
	}
}
