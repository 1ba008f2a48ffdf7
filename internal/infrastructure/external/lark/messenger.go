package lark

import (
	"context"
	"encoding/json"
	"fmt"

	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/idea-hub/internal/application/port"
)

// Recipients are addressed by email, which is what the notification queue
// stores.
const (
	receiveIDTypeEmail = "email"
	msgTypePost        = "post"
)

// Sender implements port.Sender by posting each notification as a Lark rich
// text message.
type Sender struct {
	sdk    *SDKClient
	logger *zap.Logger
}

// NewSender creates a Lark notification sender
func NewSender(sdk *SDKClient, logger *zap.Logger) *Sender {
	return &Sender{
		sdk:    sdk,
		logger: logger,
	}
}

// Name identifies the channel in logs
func (s *Sender) Name() string {
	return "lark"
}

// Send delivers msg and returns the Lark message id
func (s *Sender) Send(ctx context.Context, msg port.OutboundMessage) (string, error) {
	if msg.Recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	content, err := postContent(msg.Subject, msg.Body)
	if err != nil {
		return "", err
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDTypeEmail).
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(msg.Recipient).
			MsgType(msgTypePost).
			Content(content).
			Build()).
		Build()

	resp, err := s.sdk.GetClient().Im.Message.Create(ctx, req)
	if err != nil {
		s.logger.Error("Failed to send Lark message",
			zap.String("recipient", msg.Recipient),
			zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		s.logger.Error("Lark API returned failure",
			zap.String("recipient", msg.Recipient),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	s.logger.Debug("Lark message sent",
		zap.String("message_id", messageID),
		zap.String("recipient", msg.Recipient))
	return messageID, nil
}

// postContent builds the zh_cn post payload: the subject as title and the body
// as one text paragraph.
func postContent(subject, body string) (string, error) {
	type element struct {
		Tag  string `json:"tag"`
		Text string `json:"text"`
	}
	type post struct {
		Title   string      `json:"title"`
		Content [][]element `json:"content"`
	}

	payload := map[string]post{
		"zh_cn": {
			Title:   subject,
			Content: [][]element{{{Tag: "text", Text: body}}},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal post content: %w", err)
	}
	return string(data), nil
}
