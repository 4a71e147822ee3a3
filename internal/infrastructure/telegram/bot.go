package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"FiveSBot/internal/domain"
	"FiveSBot/internal/infrastructure/registry"
	"FiveSBot/internal/ports"
	"FiveSBot/internal/usecase"
)

// Bot runs the long-poll loop and translates chat traffic into core
// submissions. All free-text interpretation lives here; the core only ever
// sees resolved entity ids and raw photo bytes.
type Bot struct {
	client      *Client
	intake      *usecase.Intake
	roster      *registry.Snapshot
	logger      *slog.Logger
	pollTimeout time.Duration

	lastChatID atomic.Int64
	offset     int64
}

// NewBot wires the transport loop.
func NewBot(client *Client, intake *usecase.Intake, roster *registry.Snapshot, pollTimeout time.Duration, logger *slog.Logger) *Bot {
	return &Bot{
		client:      client,
		intake:      intake,
		roster:      roster,
		logger:      logger,
		pollTimeout: pollTimeout,
	}
}

// LastChatID returns the chat the bot most recently saw traffic in, used as
// a report target when no fixed group is configured.
func (b *Bot) LastChatID() string {
	id := b.lastChatID.Load()
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// Run polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	for {
		updates, err := b.client.GetUpdates(ctx, b.offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("poll updates", "error", err)
			select {
			case <-time.After(3 * time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, update := range updates {
			if update.UpdateID >= b.offset {
				b.offset = update.UpdateID + 1
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	b.lastChatID.Store(msg.Chat.ID)
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	switch msg.Text {
	case "/start":
		b.reply(ctx, chatID, msg.MessageID, helpText)
		return
	case "/reload":
		b.handleReload(ctx, chatID, msg.MessageID)
		return
	}

	caption := msg.Caption
	if caption == "" {
		caption = msg.Text
	}
	id, _, ok := ParseCaption(caption)
	if !ok {
		return // unrelated chatter
	}

	entity, tracked := b.roster.Lookup(id)
	if !tracked {
		b.reply(ctx, chatID, msg.MessageID,
			fmt.Sprintf("⚠️ Không nhận diện kho trong danh sách theo dõi: %s", id))
		return
	}

	if len(msg.Photo) == 0 {
		b.reply(ctx, chatID, msg.MessageID,
			fmt.Sprintf("⏱ Đã nhận '%s - %s'. Vui lòng gửi kèm ảnh 5S.", entity.ID, entity.DisplayName))
		return
	}

	photo, err := b.client.DownloadPhoto(ctx, largestPhoto(msg.Photo).FileID)
	if err != nil {
		b.logger.Warn("download photo", "entity", id, "error", err)
		b.reply(ctx, chatID, msg.MessageID, "❌ Không tải được ảnh, vui lòng gửi lại.")
		return
	}

	var userID string
	if msg.From != nil {
		userID = strconv.FormatInt(msg.From.ID, 10)
	}

	outcome, err := b.intake.HandlePhoto(ctx, domain.Submission{
		EntityID:  entity.ID,
		ChannelID: chatID,
		UserID:    userID,
		BatchID:   msg.MediaGroupID,
		Timestamp: time.Unix(msg.Date, 0),
		Photo:     photo,
	})
	if err != nil {
		if errors.Is(err, usecase.ErrUnknownEntity) {
			b.reply(ctx, chatID, msg.MessageID,
				fmt.Sprintf("⚠️ Không nhận diện kho trong danh sách theo dõi: %s", id))
			return
		}
		b.logger.Error("handle photo", "entity", id, "error", err)
		b.reply(ctx, chatID, msg.MessageID, "❌ Không xử lý được ảnh, vui lòng gửi lại.")
		return
	}

	// Accepted photos answer through the progress session; rejections get a
	// direct explanation.
	if text := RenderOutcome(outcome); text != "" {
		b.reply(ctx, chatID, msg.MessageID, text)
	}
}

func (b *Bot) handleReload(ctx context.Context, chatID string, replyTo int64) {
	if err := b.roster.Reload(ctx); err != nil {
		b.logger.Error("reload roster", "error", err)
		b.reply(ctx, chatID, replyTo, "❌ Không đọc được danh sách kho.")
		return
	}
	b.reply(ctx, chatID, replyTo,
		fmt.Sprintf("✅ Đã tải lại danh sách: %d kho.", b.roster.Size()))
}

func (b *Bot) reply(ctx context.Context, chatID string, replyTo int64, text string) {
	if err := b.client.Reply(ctx, chatID, replyTo, text); err != nil {
		b.logger.Warn("reply", "chat", chatID, "error", err)
	}
}

func largestPhoto(sizes []PhotoSize) PhotoSize {
	best := sizes[0]
	for _, size := range sizes[1:] {
		if size.Width*size.Height > best.Width*best.Height {
			best = size
		}
	}
	return best
}

// ReportSender delivers finished reports to the configured group, falling
// back to the last chat the bot saw when no group is pinned.
type ReportSender struct {
	client   *Client
	groupID  string
	fallback func() string
	logger   *slog.Logger
}

var _ ports.ReportSink = (*ReportSender)(nil)

// NewReportSender wires the delivery target.
func NewReportSender(client *Client, groupID string, fallback func() string, logger *slog.Logger) *ReportSender {
	return &ReportSender{client: client, groupID: groupID, fallback: fallback, logger: logger}
}

// DeliverReport renders and posts the report.
func (s *ReportSender) DeliverReport(ctx context.Context, rep domain.Report) error {
	target := s.groupID
	if target == "" && s.fallback != nil {
		target = s.fallback()
	}
	if target == "" {
		return fmt.Errorf("no chat to deliver report to")
	}

	if _, err := s.client.Send(ctx, target, RenderReport(rep)); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("report delivered", "day", rep.Day.String(), "chat", target)
	}
	return nil
}
