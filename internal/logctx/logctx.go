// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package logctx provides the driver's internal diagnostic logging channel,
// distinct from the host-facing event listeners (event package): failures
// (including recovered panics) of a server's background goroutines, failures
// to build a monitor for a newly discovered server, and debug lines on
// description changes, none of which an SDAM/CMAP listener would want to
// see. See SPEC_FULL.md §3.
package logctx

import "github.com/sirupsen/logrus"

// log is the package-wide logger. It defaults to logrus's standard logger at
// its default level (Info), but callers embedding this driver in a larger
// application should call SetLogger to redirect it into their own
// structured-logging pipeline.
var log = logrus.StandardLogger()

// SetLogger replaces the logger used for internal diagnostics.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		return
	}
	log = l
}

// Entry returns a *logrus.Entry pre-populated with the given fields, for
// call sites that want to attach structured context (address, generation,
// deployment id) to a burst of related log lines.
func Entry(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// Warnf logs at warning level.
func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Debugf logs at debug level.
func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Errorf logs at error level.
func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}
