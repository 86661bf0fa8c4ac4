// Package slack posts run and healing outcomes to a Slack channel.
package slack

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"github.com/codemender/codemender/model"
)

// Notifier posts outcome messages. A nil Notifier is a no-op, so callers
// can wire it unconditionally.
type Notifier struct {
	api     *slack.Client
	channel string
}

// New creates a notifier for the given bot token and channel.
func New(token, channel string) *Notifier {
	return &Notifier{api: slack.New(token), channel: channel}
}

// RunFinished announces a conversation run's terminal state.
func (n *Notifier) RunFinished(run *model.Run) {
	if n == nil {
		return
	}
	var text string
	switch run.Status {
	case model.StatusComplete:
		text = fmt.Sprintf(":white_check_mark: Run `%s` complete.\n> %s", run.ID, model.Truncate(run.Prompt, 120))
	case model.StatusCancelled:
		text = fmt.Sprintf(":octagonal_sign: Run `%s` cancelled.", run.ID)
	default:
		text = fmt.Sprintf(":x: Run `%s` failed: %s", run.ID, model.Truncate(run.Error, 300))
	}
	n.post(text)
}

// SuiteHealed announces a full-suite healing outcome with a rich block
// when the suite is clean, falling back to plain text.
func (n *Notifier) SuiteHealed(healed, remaining int) {
	if n == nil {
		return
	}
	if remaining > 0 {
		n.post(fmt.Sprintf(":x: Suite healing finished with %d tests still failing (%d healed).", remaining, healed))
		return
	}
	header := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf(":white_check_mark: *Suite green!* %d tests healed.", healed),
			false, false),
		nil, nil)
	_, _, err := n.api.PostMessage(n.channel, slack.MsgOptionBlocks(header))
	if err != nil {
		log.Printf("Slack: failed to post blocks: %v", err)
		n.post(fmt.Sprintf(":white_check_mark: Suite green! %d tests healed.", healed))
	}
}

// PRCreated announces a published pull request.
func (n *Notifier) PRCreated(url string, number int, title string) {
	if n == nil {
		return
	}
	n.post(fmt.Sprintf(":rocket: <%s|PR #%d: %s>", url, number, model.Truncate(title, 60)))
}

func (n *Notifier) post(text string) {
	_, _, err := n.api.PostMessage(n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("Slack: failed to post message to %s: %v", n.channel, err)
	}
}

