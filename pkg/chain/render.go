package chain

import (
	"fmt"
	"strings"

	"chainbot/pkg/models"
)

// MaxRenderLen is the hard output ceiling imposed by the presentation
// channel. Renders longer than this swap the body for an overflow notice;
// header and footer always survive.
const MaxRenderLen = 4000

// DeepLinkSeparator joins the payload verb and the chain id inside deep
// links back to the canonical full view.
const DeepLinkSeparator = "__-__"

const (
	endedBanner = "<b><u><i>❗️❗️ Chain has ended ❗️❗️</i></u></b>\n\n"
	anonNotice  = "<i>This chain is anonymous, your name will not be shown to anyone. </i>\n"
	emptyNotice = "<i>No respondents yet </i>\n\n"
	overflowMsg = "The length of the replies has exceeded the maximum for Telegram.\n\n"
)

// Renderer projects chain state into a formatted message. BotName feeds
// the overflow deep link; rendering itself is pure and deterministic:
// the same snapshot and surface ids always produce byte-identical output.
type Renderer struct {
	BotName string
}

// Render produces the full message for one presentation surface. The
// algorithm: ended banner, title block with optional anonymity notice,
// body (attributed or anonymous reply lines with a trailing count, or the
// no-respondents notice), creator footer. When the assembled output would
// exceed MaxRenderLen the body is discarded for an overflow notice plus a
// deep link; the header, count and footer still render.
func (r Renderer) Render(snap models.ChainSnapshot, chatID, messageID int64) string {
	var header strings.Builder
	if snap.Ended {
		header.WriteString(endedBanner)
	}
	if snap.Title != "" {
		header.WriteString("<b><u>")
		header.WriteString(snap.Title)
		header.WriteString("</u></b>\n")
		if snap.Anonymous {
			header.WriteString(anonNotice)
		}
		header.WriteString("\n")
	}

	var body strings.Builder
	if len(snap.Order) > 0 {
		for i, authorID := range snap.Order {
			reply := snap.Replies[authorID]
			if snap.Anonymous {
				body.WriteString(reply.Text)
				body.WriteString("\n\n")
				continue
			}
			fmt.Fprintf(&body, "<a href='t.me/%s'><b>%d. %s</b></a>\n%s\n\n",
				reply.Username, i+1, reply.FirstName, reply.Text)
		}
		fmt.Fprintf(&body, "%d \U0001f465 responded\n\n", len(snap.Order))
	} else {
		body.WriteString(emptyNotice)
	}

	footer := fmt.Sprintf("<i>#%s | by <a href='t.me/%s'>%s</a></i>",
		models.ChainID(chatID, messageID), snap.Creator.Username, snap.Creator.FirstName)

	full := header.String() + body.String() + footer
	if len([]rune(full)) <= MaxRenderLen {
		return full
	}

	// Overflow: keep the header and footer, elide the body.
	link := fmt.Sprintf("<a href='https://t.me/%s/chains?startapp=reply%s%s'> here </a>",
		r.BotName, DeepLinkSeparator, snap.ID)
	return fmt.Sprintf("%s%sPlease view the entire chain %s\n\n%d \U0001f465 responded\n\n%s",
		header.String(), overflowMsg, link, len(snap.Order), footer)
}
