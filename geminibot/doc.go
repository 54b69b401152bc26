// Package geminibot implements a Discord bot that relays user messages
// to Google's Gemini API and replies in the same channel or thread.
//
// Each channel (or thread) is an independent conversation: its history
// is persisted in sqlite and survives restarts, so the model keeps
// context across sessions. Messages with supported attachments (images,
// audio, documents) are sent to the API as inline media, but those
// exchanges are not persisted, since the API cannot recall media across
// requests.
//
// Key components of the package include:
//
//   - GeminiBot: The main struct that wires everything together.
//   - Discord: Handles the gateway session and slash command registration.
//   - Gemini: Manages Gemini API requests, profiles and safety settings.
//   - ContextManager: Assembles turn lists and commits exchanges.
//   - Store: Durable per-channel conversation state.
//   - AttachmentPreprocessor: Converts attachments to inline media.
//
// The bot responds to mentions, direct messages, and any message in a
// tracked thread. Two slash commands are registered:
//
//   - /forget: Clears the channel's conversation history, optionally
//     seeding a new persona.
//   - /createthread: Creates a thread the bot responds to every
//     message in.
package geminibot
