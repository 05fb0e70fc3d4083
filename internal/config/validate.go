// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package config

import (
	"errors"
	"net"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report koanf key names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		return name
	})
	if err := v.RegisterValidation("listen_addr", isListenAddr); err != nil {
		panic(err)
	}
	return v
}

// isListenAddr accepts host:port where port may be 0, so tests can ask for
// an ephemeral port.
func isListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

// Validate checks every field constraint and reports the first failing key.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return c.validateFrameSize()
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return oops.Code("CONFIG_INVALID").
			With("key", configKey(fe.Namespace())).
			With("rule", fe.Tag()).
			With("value", fe.Value()).
			Errorf("invalid value for %s (%s)", configKey(fe.Namespace()), fe.Tag())
	}
	return oops.Code("CONFIG_INVALID").Wrap(err)
}

// configKey strips the root struct name from a validator namespace,
// "Config.server.ws_addr" becoming "server.ws_addr".
func configKey(namespace string) string {
	_, key, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return key
}

// validateFrameSize rejects a read limit that would drop frames carrying a
// message the length cap allows.
func (c *Config) validateFrameSize() error {
	minLimit := MinReadLimit(c.Chat.MaxMessageLength)
	if c.WebSocket.ReadLimit >= minLimit {
		return nil
	}
	return oops.Code("CONFIG_INVALID").
		With("key", "websocket.read_limit").
		With("rule", "fits_max_message_length").
		With("value", c.WebSocket.ReadLimit).
		With("min", minLimit).
		Errorf("websocket.read_limit %d cannot carry chat.max_message_length %d (need at least %d bytes)",
			c.WebSocket.ReadLimit, c.Chat.MaxMessageLength, minLimit)
}
