// Package notifier composes and sends the result and error emails.
package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/results-wang/pluslife-notifier/src/mailgun"
	"github.com/results-wang/pluslife-notifier/src/messages"
	"github.com/results-wang/pluslife-notifier/src/state"
)

const senderName = "PlusLife Results"

// Notifier sends outbound emails through a Mailgun client.
type Notifier struct {
	Client      *mailgun.Client
	SenderEmail string
}

// New returns a notifier sending from the given address.
func New(client *mailgun.Client, senderEmail string) *Notifier {
	return &Notifier{Client: client, SenderEmail: senderEmail}
}

// NotifyResult emails the final verdict to the recipient, with the chart
// attached inline as graph.png.
func (n *Notifier) NotifyResult(ctx context.Context, completed *state.CompletedTest, recipient string) error {
	html := fmt.Sprintf(`<h2>Your PlusLife results are in.</h2>

<p>Your overall result is: %s</p>
<p>Your subgroup results are:</p>
%s
`, completed.Overall.Display(), toHTMLList(completed.SubgroupResults))

	text := fmt.Sprintf(`Your PlusLife results are in.

Your overall result is: %s
Your subgroup results are:
%s
`, completed.Overall.Display(), toTextList(completed.SubgroupResults))

	_, err := n.Client.Send(ctx, mailgun.SendRequest{
		FromName:  senderName,
		FromEmail: n.SenderEmail,
		To:        []string{recipient},
		Subject:   "Your PlusLife Results",
		Text:      text,
		HTML:      html,
		Attachments: []mailgun.Attachment{{
			Type:     mailgun.AttachmentInline,
			Name:     "graph.png",
			MIMEType: "image/png",
			Bytes:    completed.GraphPNG,
		}},
	})
	return err
}

// NotifyError emails a best-effort "something went wrong" notice. Never
// retried; the caller does not escalate a failure here any further.
func (n *Notifier) NotifyError(ctx context.Context, id uuid.UUID, errText, recipient string) error {
	body := fmt.Sprintf(
		"Sorry, an error occurred notifying you of your PlusLife result: %s. Your request ID was %s",
		errText, id)
	_, err := n.Client.Send(ctx, mailgun.SendRequest{
		FromName:  senderName,
		FromEmail: n.SenderEmail,
		To:        []string{recipient},
		Subject:   "Error getting PlusLife results",
		Text:      body,
	})
	return err
}

func toHTMLList(results []messages.SubgroupResult) string {
	var b strings.Builder
	b.WriteString("<ul>\n")
	for _, r := range results {
		b.WriteString("  <li><strong>")
		b.WriteString(r.DisplayName())
		b.WriteString("</strong>: ")
		b.WriteString(r.Result.Display())
		b.WriteString("</li>\n")
	}
	b.WriteString("</ul>")
	return b.String()
}

func toTextList(results []messages.SubgroupResult) string {
	var b strings.Builder
	for _, r := range results {
		b.WriteString(" * ")
		b.WriteString(r.DisplayName())
		b.WriteString(": ")
		b.WriteString(r.Result.Display())
		b.WriteString("\n")
	}
	return b.String()
}
