// Package modconcierge implements a Discord moderation bot, whose core is
// a registry of private "whisper" threads that connect a user with a
// guild's staff.
//
// A user opens a whisper with /open-whisper. The bot starts a private
// thread in the guild's staff-only whisper channel (creating the
// channel on first use), adds the user, and records the thread. Each
// user has at most one open whisper per guild, which is enforced by
// the database and cached in a [WhisperRegistry]. The thread is closed
// by its owner or an administrator with /close-whisper.
//
// Key components of the package include:
//
//   - ModConcierge: The main struct that owns the bot's lifecycle.
//   - Whispers: Opens, closes and lists whisper threads.
//   - Moderation: Moderation commands and the moderation log.
//   - EventLogger: Posts guild events to per-category log channels.
//   - GuildSettings: Per-guild settings, cached and persisted.
//   - API: The admin API, for runtime configuration and inspection.
//   - DiscordWebhookServer: Receives interactions over HTTP.
//
// The bot supports these commands:
//
//   - /open-whisper, /close-whisper: Open or close a whisper thread.
//   - /configure-whisper, /list-open-whispers: Whisper administration.
//   - /kick, /ban, /unban, /mute, /unmute, /warn: Moderate a member.
//   - /warnings, /modlogs: Show moderation history.
//   - /purge, /lock, /unlock: Channel moderation.
//   - /log-config: Configure event logging.
//
// Every command replies ephemerally. Runtime settings (pausing, log
// levels, the bot's status) can be changed through the admin API
// without a restart, and are shared between instances using the same
// database.
package modconcierge
