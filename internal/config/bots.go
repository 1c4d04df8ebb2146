package config

import (
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

// BotConfig is the configuration record of a single IRC bot.
type BotConfig struct {
	Server   string   `mapstructure:"server"   json:"server"   validate:"required"`
	Port     int      `mapstructure:"port"     json:"port"     validate:"omitempty,min=1,max=65535"`
	TLS      bool     `mapstructure:"tls"      json:"tls"`
	Password string   `mapstructure:"password" json:"-"`
	Channels []string `mapstructure:"channels" json:"channels"`

	// ChannelMapping maps Slack channels to IRC channels.
	ChannelMapping map[string]string `mapstructure:"channelMapping" json:"channelMapping"`

	// Token authenticates against the Slack Web API.
	Token string `mapstructure:"token" json:"-"`

	Nickname       string `mapstructure:"nickname"       json:"nickname" validate:"required"`
	SlackUser      string `mapstructure:"slackUser"      json:"slackUser"`
	CanSendToSlack bool   `mapstructure:"canSendToSlack" json:"canSendToSlack"`
}

// Override carries the per-bot fields applied on top of a base record.
type Override struct {
	Nickname       string
	SlackUser      string
	CanSendToSlack bool
}

// With returns a copy of c with o applied. The copy shares no slices or
// maps with c, so c can keep serving as a template.
func (c BotConfig) With(o Override) BotConfig {
	out := c
	out.Channels = slices.Clone(c.Channels)
	out.ChannelMapping = maps.Clone(c.ChannelMapping)
	if o.Nickname != "" {
		out.Nickname = o.Nickname
	}
	out.SlackUser = o.SlackUser
	out.CanSendToSlack = o.CanSendToSlack
	return out
}

// Address returns the host:port dial address, defaulting the port from TLS.
func (c BotConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = 6667
		if c.TLS {
			port = 6697
		}
	}
	return fmt.Sprintf("%s:%d", c.Server, port)
}

// Bots is a decoded bots value. Exactly one of Records or Aggregate is set.
type Bots struct {
	// Records holds one record per bot, in configuration order.
	Records []BotConfig

	// Aggregate is the template for a bridge bot plus one shadow bot per
	// Slack member.
	Aggregate *BotConfig
}

// IsAggregate reports whether the bots value was a single record.
func (b Bots) IsAggregate() bool {
	return b.Aggregate != nil
}

// ParseBots decodes a parsed bots value. Any sequence (slice or array)
// yields one record per element; a single keyed record (map or struct, or a
// pointer to one) yields an aggregate. Any other shape, and any record that
// fails decoding or validation, returns ErrConfiguration.
func ParseBots(value any) (Bots, error) {
	validate := validator.New()

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Bots{}, fmt.Errorf("%w: nil bots value", ErrConfiguration)
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		records := make([]BotConfig, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			rec, err := decodeRecord(rv.Index(i))
			if err != nil {
				return Bots{}, fmt.Errorf("%w: bot %d: %v", ErrConfiguration, i, err)
			}
			if err := validate.Struct(rec); err != nil {
				return Bots{}, fmt.Errorf("%w: bot %d: %v", ErrConfiguration, i, err)
			}
			records = append(records, rec)
		}
		return Bots{Records: records}, nil

	case reflect.Map, reflect.Struct:
		rec, err := decodeRecord(rv)
		if err != nil {
			return Bots{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return aggregate(validate, rec)

	default:
		return Bots{}, fmt.Errorf("%w: bots must be a list or a record, got %T", ErrConfiguration, value)
	}
}

func aggregate(validate *validator.Validate, rec BotConfig) (Bots, error) {
	if err := validate.Struct(rec); err != nil {
		return Bots{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if rec.Token == "" {
		return Bots{}, fmt.Errorf("%w: aggregate bot record requires a slack token", ErrConfiguration)
	}
	base := rec.With(Override{Nickname: rec.Nickname, SlackUser: rec.SlackUser})
	return Bots{Aggregate: &base}, nil
}

// decodeRecord turns one record (a BotConfig, a pointer to one, or a keyed
// map) into a BotConfig snapshot.
func decodeRecord(v reflect.Value) (BotConfig, error) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return BotConfig{}, fmt.Errorf("expected a record, got nil")
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		if rec, ok := v.Interface().(BotConfig); ok {
			return rec.With(Override{
				Nickname:       rec.Nickname,
				SlackUser:      rec.SlackUser,
				CanSendToSlack: rec.CanSendToSlack,
			}), nil
		}
	case reflect.Map:
	default:
		return BotConfig{}, fmt.Errorf("expected a record, got %s", v.Type())
	}

	var rec BotConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rec,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return BotConfig{}, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(v.Interface()); err != nil {
		return BotConfig{}, fmt.Errorf("failed to decode bot record: %w", err)
	}
	return rec, nil
}
