package geminibot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const blockedResponseFormat = "❌ My response was blocked: %s"

// handlerMessageCreate returns the gateway handler for message events.
// Each message is processed in its own goroutine, so slow generation
// calls in one channel don't stall other channels.
func (b *GeminiBot) handlerMessageCreate(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if !b.shouldRespond(m.Message) {
			return
		}
		go b.handleMessage(ctx, m)
	}
}

// shouldRespond reports whether the bot should answer the given
// message: never its own or other bots' messages or @everyone pings;
// otherwise mentions, DMs, and tracked threads.
func (b *GeminiBot) shouldRespond(m *discordgo.Message) bool {
	if m == nil || m.Author == nil {
		return false
	}
	botID := b.discord.botUser()
	if m.Author.ID == botID || m.Author.Bot {
		return false
	}
	if m.MentionEveryone {
		return false
	}
	if messageMentionsUser(m, botID) {
		return true
	}
	// a message without a guild ID arrived via DM
	if m.GuildID == "" {
		return true
	}
	return b.threadTracked(m.ChannelID)
}

func (b *GeminiBot) handleMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	b.messagesHandled.Add(1)
	scope := m.ChannelID
	logger := b.logger.With(
		"channel_id", m.ChannelID,
		"message_id", m.ID,
		"user_id", m.Author.ID,
	)
	logger.InfoContext(ctx, "handling message", "content", truncate(m.Content, 100))

	if err := b.discord.session.ChannelTyping(m.ChannelID); err != nil {
		logger.WarnContext(ctx, "unable to send typing indicator", tint.Err(err))
	}

	var mediaParts []Part
	if len(m.Attachments) > 0 {
		parts, err := b.attachments.Process(ctx, m.Attachments)
		switch {
		case errors.Is(err, ErrUnsupportedAttachment):
			logger.WarnContext(ctx, "rejected attachments", tint.Err(err))
			b.sendToChannel(ctx, m.ChannelID, DefaultUnsupportedAttachmentMessage)
			return
		case errors.Is(err, ErrAttachmentTooLarge):
			logger.WarnContext(ctx, "rejected attachments", tint.Err(err))
			b.sendToChannel(ctx, m.ChannelID, DefaultAttachmentTooLargeMessage)
			return
		case err != nil:
			logger.ErrorContext(ctx, "error processing attachments", tint.Err(err))
			b.sendToChannel(ctx, m.ChannelID, DefaultAttachmentFailureMessage)
			return
		}
		mediaParts = parts
	}

	query, quotedParts := b.constructQuery(ctx, m)
	userParts := make([]Part, 0, len(mediaParts)+len(quotedParts)+1)
	userParts = append(userParts, mediaParts...)
	userParts = append(userParts, quotedParts...)
	userParts = append(userParts, TextPart(query))
	userTurn := Turn{Role: RoleUser, Parts: userParts}

	turns, err := b.contextManager.BuildRequest(ctx, scope, userTurn)
	if err != nil {
		logger.ErrorContext(ctx, "error building request", tint.Err(err))
		b.sendToChannel(ctx, m.ChannelID, DefaultDiscordErrorMessage)
		return
	}

	reply, err := b.gemini.Generate(ctx, turns)
	if err != nil {
		logger.ErrorContext(ctx, "error generating response", tint.Err(err))
		b.sendToChannel(ctx, m.ChannelID, DefaultDiscordErrorMessage)
		return
	}

	if reply.Blocked {
		logger.WarnContext(ctx, "response blocked", "reply", reply)
		b.replyChunks(ctx, m, fmt.Sprintf(blockedResponseFormat, reply.BlockReason))
		return
	}

	b.replyChunks(ctx, m, sanitizeOutgoing(reply.Text))

	if err = b.contextManager.Commit(
		ctx,
		scope,
		userTurn,
		NewTextTurn(RoleModel, reply.Text),
	); err != nil {
		logger.ErrorContext(ctx, "error committing history", tint.Err(err))
	}
}

// constructQuery builds the text sent to the model from the incoming
// message: the author's name, their message with mentions replaced, a
// note about attachments, and the quoted message if they replied to one.
// Media attached to the quoted message comes back as parts, so the model
// sees what's being discussed.
func (b *GeminiBot) constructQuery(
	ctx context.Context,
	m *discordgo.MessageCreate,
) (string, []Part) {
	content := m.ContentWithMentionsReplaced()

	var query string
	switch {
	case len(m.Attachments) == 0:
		query = fmt.Sprintf("@%s said %q", m.Author.Username, content)
	case content == "":
		query = fmt.Sprintf("@%s sent attachments:", m.Author.Username)
	default:
		query = fmt.Sprintf(
			"@%s said %q while sending attachments:",
			m.Author.Username,
			content,
		)
	}

	var quotedParts []Part
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		quoted, err := b.discord.session.ChannelMessage(
			m.ChannelID,
			m.MessageReference.MessageID,
		)
		if err != nil {
			b.logger.WarnContext(
				ctx,
				"unable to fetch quoted message",
				tint.Err(err),
				"message_id", m.MessageReference.MessageID,
			)
		} else if quoted.Author != nil && quoted.Author.ID != b.discord.botUser() {
			query = fmt.Sprintf(
				"%s while quoting @%s %q",
				query,
				quoted.Author.Username,
				quoted.ContentWithMentionsReplaced(),
			)
			if len(quoted.Attachments) > 0 {
				quotedParts, err = b.attachments.Process(ctx, quoted.Attachments)
				if err != nil {
					// the quote is auxiliary context, so a bad quoted
					// attachment doesn't fail the whole message
					b.logger.WarnContext(
						ctx,
						"skipping quoted message attachments",
						tint.Err(err),
						"message_id", quoted.ID,
					)
					quotedParts = nil
				}
			}
		}
	}
	return query, quotedParts
}

// replyChunks sends text to the channel as a chain of replies, split so
// no single message exceeds the configured chunk length. A rejected
// over-length message gets a user-visible notice instead of silence.
func (b *GeminiBot) replyChunks(
	ctx context.Context,
	m *discordgo.MessageCreate,
	text string,
) {
	ref := m.Reference()
	for _, chunk := range splitMessage(text, b.config.ReplyChunkLength) {
		msg, err := b.discord.session.ChannelMessageSendReply(
			m.ChannelID,
			chunk,
			ref,
		)
		if err != nil {
			b.logger.ErrorContext(ctx, "error sending reply", tint.Err(err))
			var restErr *discordgo.RESTError
			if errors.As(err, &restErr) && restErr.Message != nil &&
				restErr.Message.Code == discordgo.ErrCodeInvalidFormBody {
				b.sendToChannel(ctx, m.ChannelID, DefaultMessageTooLongMessage)
			}
			return
		}
		if msg != nil {
			ref = msg.Reference()
		}
	}
}

func (b *GeminiBot) sendToChannel(
	ctx context.Context,
	channelID string,
	message string,
) {
	if _, err := b.discord.session.ChannelMessageSend(
		channelID,
		message,
	); err != nil {
		b.logger.ErrorContext(ctx, "error sending message", tint.Err(err))
	}
}

// handlerInteractionCreate returns the gateway handler for slash
// command interactions.
func (b *GeminiBot) handlerInteractionCreate(ctx context.Context) func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		switch name := i.ApplicationCommandData().Name; name {
		case DiscordSlashCommandForget:
			go b.handleForget(ctx, i)
		case DiscordSlashCommandCreateThread:
			go b.handleCreateThread(ctx, i)
		default:
			b.logger.WarnContext(ctx, "unknown command", "name", name)
		}
	}
}

// handleForget clears the channel's conversation history, optionally
// seeding the next conversation with a persona override.
func (b *GeminiBot) handleForget(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := b.logger.With(
		"interaction_id", i.ID,
		"channel_id", i.ChannelID,
	)
	if err := b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	var persona string
	if opt, ok := discordInteractionOptions(i)[forgetCommandPersonaOption]; ok {
		persona = opt.StringValue()
	}

	response := DefaultForgetCommandResponse
	if err := b.contextManager.Reset(ctx, i.ChannelID, persona); err != nil {
		logger.ErrorContext(ctx, "error resetting history", tint.Err(err))
		response = DefaultDiscordCommandErrorMessage
	} else {
		logger.InfoContext(ctx, "history erased", "persona", persona)
	}

	if _, err := b.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &response},
	); err != nil {
		logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
}

// handleCreateThread creates a thread in the current channel and
// registers it, so the bot responds to every message in it.
func (b *GeminiBot) handleCreateThread(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := b.logger.With(
		"interaction_id", i.ID,
		"channel_id", i.ChannelID,
	)
	if err := b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	var name string
	if opt, ok := discordInteractionOptions(i)[createThreadNameOption]; ok {
		name = opt.StringValue()
	}

	var response string
	thread, err := b.discord.session.ThreadStartComplex(
		i.ChannelID,
		&discordgo.ThreadStart{
			Name:                name,
			AutoArchiveDuration: defaultThreadAutoArchiveDuration,
			Type:                discordgo.ChannelTypeGuildPublicThread,
		},
	)
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "error creating thread", tint.Err(err))
		response = "Error creating thread!"
	default:
		if trackErr := b.store.AddTrackedThread(
			ctx,
			thread.ID,
			name,
		); trackErr != nil {
			logger.ErrorContext(ctx, "error tracking thread", tint.Err(trackErr))
		}
		b.trackThread(thread.ID)
		response = fmt.Sprintf("Thread %s created!", name)
	}

	if _, err = b.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &response},
	); err != nil {
		logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
}
