package main

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/thathunky/gryag/internal/orchestrator"
)

// telegramSender implements orchestrator.Sender over a live bot connection,
// turning a reply's text or document payload into plain
// tgbotapi.MessageConfig/DocumentConfig sends.
type telegramSender struct {
	bot *tgbotapi.BotAPI
}

func (s *telegramSender) Send(ctx context.Context, reply orchestrator.Reply) error {
	if reply.Document != nil {
		doc := tgbotapi.NewDocument(reply.ChatID, tgbotapi.FileBytes{
			Name:  reply.Document.Filename,
			Bytes: reply.Document.Bytes,
		})
		doc.Caption = reply.Text
		if reply.ThreadID != nil {
			doc.MessageThreadID = int(*reply.ThreadID)
		}
		_, err := s.bot.Send(doc)
		return err
	}

	msg := tgbotapi.NewMessage(reply.ChatID, reply.Text)
	if reply.ThreadID != nil {
		msg.MessageThreadID = int(*reply.ThreadID)
	}
	_, err := s.bot.Send(msg)
	return err
}
