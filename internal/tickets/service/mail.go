package tickets

import (
	"fmt"
	"html"
	"strings"

	"ms-tickets/internal/mailer"
	"ms-tickets/internal/models"
	"ms-tickets/internal/tickets/template"
)

func ticketMessage(order models.Order, event *models.Event, docs []*template.Document, supportEmail string) mailer.Message {
	eventName := "your event"
	if event != nil && event.Name != "" {
		eventName = event.Name
	}

	name := order.CustomerName
	if name == "" {
		name = "there"
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\n", name)
	fmt.Fprintf(&text, "Thanks for your order %s. Your %d ticket(s) for %s are attached.\n", order.ID, len(docs), eventName)
	text.WriteString("Show the QR code on each ticket at the entrance.\n")
	if supportEmail != "" {
		fmt.Fprintf(&text, "\nQuestions? Reply to %s and include your order ID.\n", supportEmail)
	}

	htmlBody := "<p>" + strings.ReplaceAll(html.EscapeString(text.String()), "\n", "<br>") + "</p>"

	msg := mailer.Message{
		To:       order.CustomerEmail,
		ToName:   order.CustomerName,
		Subject:  fmt.Sprintf("Your tickets for %s", eventName),
		TextBody: text.String(),
		HTMLBody: htmlBody,
	}
	for i, doc := range docs {
		msg.Attachments = append(msg.Attachments, mailer.Attachment{
			Filename:    fmt.Sprintf("ticket-%s-%d.pdf", order.ID, i+1),
			ContentType: "application/pdf",
			Data:        doc.PDF,
		})
	}
	return msg
}
