// Package template renders issue and confirmation emails. The issue's HTML
// content is editor-authored and injected as-is; everything around it
// (greeting, unsubscribe footer) is escaped normally.
package template

import (
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"

	"github.com/jmehdipour/newsletter-gateway/internal/model"
)

const issueTextBody = `Hi {{.Name}},

{{.Content}}

---
You received this email because you subscribed to our newsletter.
Unsubscribe: {{.UnsubscribeLink}}
`

const issueHTMLBody = `<html>
<body>
<p>Hi {{.Name}},</p>
{{.Content}}
<hr/>
<p><small>You received this email because you subscribed to our newsletter.
<a href="{{.EscapedLink}}">Unsubscribe</a></small></p>
</body>
</html>
`

const confirmationTextBody = `Welcome {{.Name}}!

Visit {{.ConfirmLink}} to confirm your subscription.
`

const confirmationHTMLBody = `<html>
<body>
<p>Welcome {{.Name}}!</p>
<p><a href="{{.EscapedLink}}">Click here</a> to confirm your subscription.</p>
</body>
</html>
`

type Renderer struct {
	baseURL string

	issueText *texttemplate.Template
	issueHTML *htmltemplate.Template
	confText  *texttemplate.Template
	confHTML  *htmltemplate.Template
}

func NewRenderer(baseURL string) *Renderer {
	return &Renderer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		issueText: texttemplate.Must(texttemplate.New("issue.txt").Parse(issueTextBody)),
		issueHTML: htmltemplate.Must(htmltemplate.New("issue.html").Parse(issueHTMLBody)),
		confText:  texttemplate.Must(texttemplate.New("confirm.txt").Parse(confirmationTextBody)),
		confHTML:  htmltemplate.Must(htmltemplate.New("confirm.html").Parse(confirmationHTMLBody)),
	}
}

type issueData struct {
	Name            string
	Content         any
	UnsubscribeLink string
	EscapedLink     string
}

// Issue renders the final text and html bodies for one subscriber.
func (r *Renderer) Issue(issue model.Issue, sub model.Subscriber) (textBody, htmlBody string, err error) {
	link := r.UnsubscribeLink(sub.Token)

	var text strings.Builder
	if err := r.issueText.Execute(&text, issueData{
		Name:            displayName(sub),
		Content:         issue.TextContent,
		UnsubscribeLink: link,
	}); err != nil {
		return "", "", fmt.Errorf("render text body: %w", err)
	}

	var html strings.Builder
	if err := r.issueHTML.Execute(&html, issueData{
		Name:        displayName(sub),
		Content:     htmltemplate.HTML(issue.HTMLContent),
		EscapedLink: link,
	}); err != nil {
		return "", "", fmt.Errorf("render html body: %w", err)
	}

	return text.String(), html.String(), nil
}

type confirmationData struct {
	Name        string
	ConfirmLink string
	EscapedLink string
}

// Confirmation renders the double-opt-in email sent right after signup.
func (r *Renderer) Confirmation(sub model.Subscriber) (subject, textBody, htmlBody string, err error) {
	link := r.ConfirmLink(sub.Token)

	var text strings.Builder
	if err := r.confText.Execute(&text, confirmationData{
		Name:        displayName(sub),
		ConfirmLink: link,
	}); err != nil {
		return "", "", "", fmt.Errorf("render text body: %w", err)
	}

	var html strings.Builder
	if err := r.confHTML.Execute(&html, confirmationData{
		Name:        displayName(sub),
		EscapedLink: link,
	}); err != nil {
		return "", "", "", fmt.Errorf("render html body: %w", err)
	}

	return "Please confirm your subscription", text.String(), html.String(), nil
}

func (r *Renderer) ConfirmLink(token string) string {
	return fmt.Sprintf("%s/subscriptions/confirm?token=%s", r.baseURL, url.QueryEscape(token))
}

func (r *Renderer) UnsubscribeLink(token string) string {
	return fmt.Sprintf("%s/subscriptions/unsubscribe?token=%s", r.baseURL, url.QueryEscape(token))
}

func displayName(sub model.Subscriber) string {
	if sub.Name != "" {
		return sub.Name
	}
	return sub.Email
}
