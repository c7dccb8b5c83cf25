package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-telegram/bot"

	"github.com/tgmirror/ferry/internal/archive"
	"github.com/tgmirror/ferry/internal/pkg/logs"
)

// Notifier sends a one-line completion summary to an operator chat
// through the Bot API. It is independent of the archiver's MTProto
// sessions, so it still works when every session is rate limited.
type Notifier struct {
	bot    *bot.Bot
	chatID any
}

func New(token, chat string) (*Notifier, error) {
	if token == "" {
		return nil, fmt.Errorf("notify: token is required")
	}
	if chat == "" {
		return nil, fmt.Errorf("notify: chat is required")
	}

	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("create notify bot: %w", err)
	}

	return &Notifier{bot: b, chatID: chatIDValue(chat)}, nil
}

// RunFinished reports the outcome of one archive run. Failures are
// logged and swallowed; a dead notifier must not fail the run.
func (n *Notifier) RunFinished(ctx context.Context, r *archive.Report) {
	text := formatReport(r)

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := n.bot.SendMessage(sendCtx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	}); err != nil {
		logs.CtxWarn(ctx, "[notify] send completion message error: %v", err)
		return
	}

	logs.CtxInfo(ctx, "[notify] completion message sent")
}

func formatReport(r *archive.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ferry: %s %d-%d finished (%s)\n", r.Channel, r.StartID, r.EndID, r.Status)
	fmt.Fprintf(&b, "mode %s, %d downloaded (%s), %d failed, %d text-only\n",
		r.Mode, r.Downloaded, humanize.IBytes(uint64(max(r.Bytes, 0))), r.Failed, r.Texts)

	if archive.StorageMode(r.Mode).Uploads() {
		fmt.Fprintf(&b, "uploaded %d albums, %d singles, %d failed\n",
			r.AlbumsUploaded, r.SinglesUploaded, r.UploadFailed)
	}

	fmt.Fprintf(&b, "took %s", (time.Duration(r.DurationMS) * time.Millisecond).Round(time.Second))

	return b.String()
}

// chatIDValue keeps numeric ids as int64 and passes @usernames through.
func chatIDValue(chat string) any {
	if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
		return id
	}
	return chat
}
