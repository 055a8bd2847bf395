package modconcierge

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"golang.org/x/crypto/argon2"
	"log/slog"
	"reflect"
	"strings"
	"unicode/utf8"
)

const loggerContextKey contextKey = "logger"

type contextKey string

// commandOptions maps the options of an application command interaction
// by name.
func commandOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, option := range options {
		optionMap[option.Name] = option
	}
	return optionMap
}

// optionString returns the string value of the named option, or "" if
// it wasn't provided.
func optionString(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) string {
	if o, ok := opts[name]; ok && o != nil {
		return strings.TrimSpace(o.StringValue())
	}
	return ""
}

func optionInt(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
	def int64,
) int64 {
	if o, ok := opts[name]; ok && o != nil {
		return o.IntValue()
	}
	return def
}

// optionBool returns the value of a boolean option, and false for ok
// if the option was omitted.
func optionBool(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) (value bool, ok bool) {
	if o, exists := opts[name]; exists && o != nil {
		return o.BoolValue(), true
	}
	return false, false
}

// optionUserID returns the snowflake of a user option. The resolved user
// isn't needed, and isn't available for webhook interactions without a
// session state.
func optionUserID(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) string {
	o, ok := opts[name]
	if !ok || o == nil {
		return ""
	}
	if v, isStr := o.Value.(string); isStr {
		return v
	}
	return ""
}

// optionChannelID returns the snowflake of a channel option
func optionChannelID(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) string {
	return optionUserID(opts, name)
}

func optionRoleID(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) string {
	return optionUserID(opts, name)
}

func tlsConfig(certfile string, keyfile string, minVersion uint16) (
	*tls.Config,
	error,
) {
	cert, err := tls.LoadX509KeyPair(certfile, keyfile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		ClientAuth:   tls.NoClientCert,
	}, nil
}

// structToSlogValue renders a struct as a slog group keyed by JSON field
// names. Empty strings, slices, maps and nil pointers are left out. A
// `log` tag replaces the value, so `log:"[redacted]"` hides secrets.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if jsonTag == "-" {
			continue
		}
		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		if logTag := field.Tag.Get("log"); logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		// skip values that are nil or empty
		switch fv.Kind() {
		case reflect.Ptr, reflect.Interface:
			if fv.IsNil() {
				continue
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				continue
			}
		case reflect.String:
			if fv.Len() == 0 {
				continue
			}
		}

		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fv.Interface())},
		)
	}

	return slog.GroupValue(groupAttrs...)
}

// WithLogger attaches logger to ctx. A nil logger attaches slog.Default().
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		logger = slog.Default()
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// ContextLogger returns the logger attached by [WithLogger], if any
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

// contextLoggerOr returns the context logger, or fallback if ctx
// doesn't carry one
func contextLoggerOr(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ContextLogger(ctx); ok {
		return logger
	}
	return fallback
}

func interactionLogAttrs(i discordgo.InteractionCreate) []any {
	logAttrs := []any{
		"id", i.ID,
		"type", i.Type.String(),
	}
	if i.ChannelID != "" {
		logAttrs = append(logAttrs, columnChannelID, i.ChannelID)
	}
	if i.GuildID != "" {
		logAttrs = append(logAttrs, columnGuildID, i.GuildID)
	}
	if i.Type == discordgo.InteractionApplicationCommand {
		logAttrs = append(logAttrs, "command", i.ApplicationCommandData().Name)
	}
	if u := interactionUser(&i); u != nil {
		logAttrs = append(logAttrs, slog.Group("user", "id", u.ID, "username", u.Username))
	}
	return logAttrs
}

// interactionUser returns the user that triggered the interaction. In a
// guild, that's Member.User, in a DM it's User.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i == nil || i.Interaction == nil {
		return nil
	}
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// truncate shortens s to n characters
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// truncateWithEllipsis shortens s to n characters, and appends "..." if
// it was shortened
func truncateWithEllipsis(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return truncate(s, n) + "..."
}

func derive64ByteKey(input string) []byte {
	hash := sha512.Sum512([]byte(input))
	return hash[:]
}

// argon2Params are the Argon2id cost settings encoded into each hash
type argon2Params struct {
	memory  uint32
	time    uint32
	threads uint8
	keyLen  uint32
}

var defaultArgon2Params = argon2Params{
	memory:  64 * 1024,
	time:    1,
	threads: 4,
	keyLen:  32,
}

var errInvalidPasswordHash = errors.New("invalid password hash")

// HashPassword returns an Argon2id hash of password in the PHC string
// format: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func HashPassword(password string) (string, error) {
	p := defaultArgon2Params
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("unable to generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)

	enc := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		enc.EncodeToString(salt), enc.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether password matches a hash produced by
// [HashPassword]. The cost settings are read from the hash itself.
func VerifyPassword(storedHash, password string) (bool, error) {
	fields := strings.Split(storedHash, "$")
	if len(fields) != 6 || fields[1] != "argon2id" {
		return false, errInvalidPasswordHash
	}

	var p argon2Params
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return false, fmt.Errorf("%w: %w", errInvalidPasswordHash, err)
	}

	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(fields[4])
	if err != nil {
		return false, fmt.Errorf("%w: bad salt: %w", errInvalidPasswordHash, err)
	}
	want, err := enc.DecodeString(fields[5])
	if err != nil {
		return false, fmt.Errorf("%w: bad key: %w", errInvalidPasswordHash, err)
	}

	got := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

func userMention(userID string) string {
	return "<@" + userID + ">"
}

func channelMention(channelID string) string {
	return "<#" + channelID + ">"
}

func roleMention(roleID string) string {
	return "<@&" + roleID + ">"
}

// discordTimestamp formats t (unix milliseconds) as a discord timestamp
// markup string, with the given style ("R" relative, "F" full)
func discordTimestamp(unixMilli int64, style string) string {
	return fmt.Sprintf("<t:%d:%s>", unixMilli/1000, style)
}
