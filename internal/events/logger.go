// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/logging"
)

// busLogger adapts the global zerolog logger to watermill.LoggerAdapter so
// pub/sub internals log through the same pipeline as everything else.
type busLogger struct {
	fields watermill.LogFields
}

func newBusLogger() watermill.LoggerAdapter {
	return &busLogger{}
}

func (l *busLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.attach(logging.Error().Err(err), fields).Msg(msg)
}

// Info demotes to debug: watermill's info-level chatter is operational
// noise at our log volume.
func (l *busLogger) Info(msg string, fields watermill.LogFields) {
	l.attach(logging.Debug(), fields).Msg(msg)
}

func (l *busLogger) Debug(msg string, fields watermill.LogFields) {
	l.attach(logging.Debug(), fields).Msg(msg)
}

func (l *busLogger) Trace(msg string, fields watermill.LogFields) {
	l.attach(logging.Trace(), fields).Msg(msg)
}

func (l *busLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &busLogger{fields: l.fields.Add(fields)}
}

func (l *busLogger) attach(evt *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		evt = evt.Interface(k, v)
	}
	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	return evt
}
